// Package framer splits a byte stream into text commands at delimiters.
//
// A Framer reads the stream in chunks, cuts the accumulated bytes at the
// earliest of its delimiters (newline and NUL by default) and yields each
// frame with surrounding whitespace removed. Blank frames are skipped and a
// non-blank remainder is yielded when the stream ends. If more than the
// configured maximum of undelimited bytes accumulates the Scanner stops with
// an error wrapping errors.ErrBufferOverflow.
package framer
