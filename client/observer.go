package client

// Observer receives the client's lifecycle notifications (spec.md §4.6).
// All three methods are invoked on the control executor, so calls for a
// single client are strictly serialized relative to one another — except
// ConnectionDisconnected(..., errcode.CallDisconnect), which Disconnect
// invokes synchronously on the caller's own goroutine before the
// teardown is posted, per spec.md §4.6's synchronous-notify requirement.
type Observer interface {
	// ConnectionConnected fires after a successful connect, once the
	// retry counter has been reset and just before the connection is
	// armed for its first read.
	ConnectionConnected(host string, port uint16)
	// ConnectionDisconnected fires exactly once per failing state
	// transition: resolve failure, connect failure, read error,
	// parser-demanded teardown, or an explicit Disconnect call. A failed
	// write is reported only to that send's completion, not here.
	ConnectionDisconnected(host string, port uint16, err error)
	// ConnectionDropped fires once reconnection has been exhausted (or
	// was never configured) and no further attempts will be made.
	ConnectionDropped(host string, port uint16)
}

// NoOpObserver implements Observer with no-op methods; embed it to pick
// and choose which notifications matter to a particular caller.
type NoOpObserver struct{}

func (NoOpObserver) ConnectionConnected(string, uint16)             {}
func (NoOpObserver) ConnectionDisconnected(string, uint16, error) {}
func (NoOpObserver) ConnectionDropped(string, uint16)                {}
