// Package errcode defines the closed set of failure kinds the salt
// networking library can report on its own, distinct from the OS errors
// (net.OpError and friends) that pass through unmapped.
package errcode

import "fmt"

// Code is one member of the enumerated failure taxonomy. Unlike OS errors,
// a Code's message is fixed and does not carry request-specific detail.
type Code int

const (
	Success Code = iota
	ParseIPAddressError
	AssembleCreatorNotSet
	SendQueueFull
	NullConnection
	NotConnected
	RequireDisconnect
	CallDisconnect
	BodySizeError
	HeaderReadError
	InternalError
	AssembleCreatorReturnedNull
	AlreadyStarted
	AcceptorIsNull
)

var messages = map[Code]string{
	Success:                     "success",
	ParseIPAddressError:         "failed to parse IP address",
	AssembleCreatorNotSet:       "assemble creator not set",
	SendQueueFull:               "send queue is full",
	NullConnection:              "connection is null",
	NotConnected:                "not connected",
	RequireDisconnect:           "parser requires disconnect",
	CallDisconnect:              "disconnect called",
	BodySizeError:               "invalid body size",
	HeaderReadError:             "header read error",
	InternalError:               "internal error",
	AssembleCreatorReturnedNull: "assemble creator returned null",
	AlreadyStarted:              "already started",
	AcceptorIsNull:              "acceptor is null",
}

// String returns the stable human-readable message for the code.
func (c Code) String() string {
	if msg, ok := messages[c]; ok {
		return msg
	}
	return fmt.Sprintf("unknown error code (%d)", int(c))
}

// Error implements the error interface so a Code can be returned or
// wrapped (github.com/pkg/errors.Wrap) anywhere a plain error is expected.
func (c Code) Error() string {
	return c.String()
}

// IsSuccess reports whether c represents the zero-value, non-error case.
func (c Code) IsSuccess() bool {
	return c == Success
}
