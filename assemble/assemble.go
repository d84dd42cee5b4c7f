// Package assemble implements the packet assembler abstraction: the
// contract that turns an arbitrary TCP byte stream into application-level
// messages (spec.md §4.3), and the length-prefixed header/body
// implementation of it (spec.md §4.4), the most algorithmically dense
// piece of the library.
package assemble

// Result is the outcome of feeding bytes to a Parser.
type Result int

const (
	// ResultSuccess means the parser consumed the bytes; more reads may follow.
	ResultSuccess Result = iota
	// ResultError is non-fatal: reading continues.
	ResultError
	// ResultDisconnect is fatal: the connection must be torn down.
	ResultDisconnect
)

func (r Result) String() string {
	switch r {
	case ResultSuccess:
		return "success"
	case ResultError:
		return "error"
	case ResultDisconnect:
		return "disconnect"
	default:
		return "unknown"
	}
}

// ConnectionHandle is the minimal surface a Parser needs back from the
// connection it is attached to. *conn.Connection satisfies this.
type ConnectionHandle interface {
	Send(payload []byte, completion func(error))
}

// Parser converts a raw byte stream into application-level messages. A
// fresh Parser is created per connection by a Factory.
type Parser interface {
	// Feed is called with newly-read bytes. It may consume zero or more
	// complete frames before returning; it must never block and must
	// never read beyond what b contains.
	Feed(conn ConnectionHandle, b []byte) Result
}

// Factory produces a fresh Parser per connection: one per accepted
// socket on the server side, one per connect call on the client side.
type Factory func() Parser
