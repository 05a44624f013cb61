// Package command parses and serializes text commands in four formats.
//
// A Command has a name, positional Args and keyword Kwargs:
//
//	simple   set rate=10 "two words" path="C:\\tmp"
//	sms      status;temp=12.5;unit=C;alive
//	json     {"name":"set","args":["a"],"rate":10}
//	influx   weather,site=a temp=21.5 1690000000
//
// In the simple format tokens are split like POSIX shell words. In simple
// and sms the first token is the name unless it contains "=", and every
// token containing "=" becomes a keyword argument split at its first "=".
// JSON keyword values keep their decoded JSON type (numbers as
// json.Number); args are stringified. Influx commands carry the decoded
// record in the "tags", "fields" and "timestamp" keyword arguments.
//
// Parsing remembers token order so that a parsed command encodes back in
// the same order. Once Args or Kwargs are modified the order is dropped and
// encoding falls back to args then sorted kwargs (simple) or sorted kwargs
// then args (sms).
package command
