// Package lineproto encodes and decodes single InfluxDB line-protocol records.
//
// A record has the shape
//
//	measurement[,tag=val,...] field=val[,field=val...][ timestamp]
//
// Measurement names, tag keys, tag values and field keys escape backslash,
// space, comma and equals with a backslash. String field values are double
// quoted with backslash and quote escaped; integers carry an "i" suffix;
// booleans are true/false; floats use the shortest decimal that round-trips.
//
// Encode sorts tag keys and field keys so equal records always produce the
// same text:
//
//	line, _ := lineproto.Build("weather",
//	    map[string]string{"b": "2", "a": "1"},
//	    map[string]any{"temp": 82.5, "count": 3, "ok": true},
//	    123)
//	// weather,a=1,b=2 count=3i,ok=true,temp=82.5 123
//
// Decode reverses Encode. Field types are inferred in order: quoted string,
// true/false (any case), signed integer with "i" suffix, finite float, and
// finally the raw unescaped text.
package lineproto
