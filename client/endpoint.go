package client

import (
	"fmt"
	"net"
)

// Endpoint is a (host, port) pair identifying a TCP peer. It keys every
// client registry (spec.md §3) and orders lexicographically on host then
// numerically on port.
type Endpoint struct {
	Host string
	Port uint16
}

// Less orders endpoints lexicographically on Host, then numerically on
// Port, matching spec.md §3's ordering rule.
func (e Endpoint) Less(o Endpoint) bool {
	if e.Host != o.Host {
		return e.Host < o.Host
	}
	return e.Port < o.Port
}

func (e Endpoint) String() string {
	return net.JoinHostPort(e.Host, fmt.Sprintf("%d", e.Port))
}
