// Package parser implements the incremental, non-blocking parsers for
// every SOCKS5 sub-message and for management protocol lines. Each
// parser consumes bytes from a *buffer.Ring and reports progress
// without ever blocking; callers feed it more bytes on every read-ready
// event until it reports Done or Errored.
package parser

// Progress is the outcome of a single incremental parse attempt.
type Progress int

const (
	// NeedMore means the parser consumed what it could and needs
	// additional bytes before it can make further progress.
	NeedMore Progress = iota
	// Done means the message is fully parsed; the result fields on
	// the parser are valid.
	Done
	// Errored means the bytes seen so far can never form a valid
	// message; the parser's Err field names why.
	Errored
)
