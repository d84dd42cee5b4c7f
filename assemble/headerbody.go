package assemble

import (
	"fmt"
	"reflect"

	"github.com/go-salt/salt/byteorder"
	"github.com/go-salt/salt/errcode"
)

// LengthMode selects how the decoded length field value maps onto the
// number of body bytes that follow the header (spec.md §4.4).
type LengthMode int

const (
	// BodyOnly: decoded length is exactly the body byte count.
	BodyOnly LengthMode = iota
	// WithLengthField: decoded length includes the length field itself.
	WithLengthField
	// WithHeader: decoded length includes the whole header.
	WithHeader
	// CustomLength: effective body size is decoded - reserveBodySize.
	CustomLength
)

// HeaderDescriptor describes a fixed-size, padding-free header layout and
// the location of its network-byte-order length field within it.
type HeaderDescriptor interface {
	HeaderSize() int
	LengthFieldOffset() int
	LengthFieldWidth() int // must be 2 or 4
}

// Notify is the user-implemented callback surface for a header/body
// assembler (spec.md §4.4).
type Notify interface {
	// HeaderReadFinish is invoked exactly once per frame after the header
	// is complete, before body accumulation. Returning anything other
	// than ResultSuccess aborts the frame with HeaderReadError.
	HeaderReadFinish(conn ConnectionHandle, rawHeader []byte) Result
	// PacketReserved is invoked exactly once per frame after full
	// accumulation, including for frames with an empty body.
	PacketReserved(conn ConnectionHandle, rawHeader []byte, body []byte)
	// PacketReadError is invoked on validation failures.
	PacketReadError(code errcode.Code, message string)
}

// NoOpPacketReadError can be embedded by a Notify implementation that has
// no use for PacketReadError, giving it the spec's default no-op.
type NoOpPacketReadError struct{}

func (NoOpPacketReadError) PacketReadError(errcode.Code, string) {}

type phase int

const (
	phaseHeader phase = iota
	phaseBody
)

type headerBodyAssembler struct {
	desc            HeaderDescriptor
	mode            LengthMode
	reserveBodySize int
	bodyLengthLimit int
	notify          Notify

	phase     phase
	headerBuf []byte
	bodyBuf   []byte
	remaining int
}

// NewHeaderBodyFactory returns a Factory that produces one fresh parser
// per connection, all sharing the same notify observer. Construction
// validates desc per spec.md §4.4: the header must have a supported
// (16- or 32-bit) length field fully contained within it.
func NewHeaderBodyFactory(desc HeaderDescriptor, mode LengthMode, reserveBodySize int, bodyLengthLimit int, notify Notify) (Factory, error) {
	if desc.HeaderSize() <= 0 {
		return nil, fmt.Errorf("assemble: header size must be positive, got %d", desc.HeaderSize())
	}
	w := desc.LengthFieldWidth()
	if w != 2 && w != 4 {
		return nil, fmt.Errorf("assemble: unsupported length field width %d (only 16- or 32-bit fields are supported)", w)
	}
	if desc.LengthFieldOffset() < 0 || desc.LengthFieldOffset()+w > desc.HeaderSize() {
		return nil, fmt.Errorf("assemble: length field [%d:%d) does not fit within header of size %d", desc.LengthFieldOffset(), desc.LengthFieldOffset()+w, desc.HeaderSize())
	}
	if notify == nil {
		return nil, fmt.Errorf("assemble: notify must not be nil")
	}

	return func() Parser {
		a := &headerBodyAssembler{
			desc:            desc,
			mode:            mode,
			reserveBodySize: reserveBodySize,
			bodyLengthLimit: bodyLengthLimit,
			notify:          notify,
		}
		a.reset()
		return a
	}, nil
}

func (a *headerBodyAssembler) reset() {
	a.phase = phaseHeader
	a.headerBuf = a.headerBuf[:0]
	a.bodyBuf = a.bodyBuf[:0]
	a.remaining = a.desc.HeaderSize()
}

// Feed implements Parser. A single call may consume multiple complete
// frames and/or end mid-header or mid-body; it only returns once b is
// fully consumed or a fatal condition is hit.
func (a *headerBodyAssembler) Feed(conn ConnectionHandle, b []byte) Result {
	for len(b) > 0 {
		switch a.phase {
		case phaseHeader:
			take := a.remaining
			if take > len(b) {
				take = len(b)
			}
			a.headerBuf = append(a.headerBuf, b[:take]...)
			b = b[take:]
			a.remaining -= take
			if a.remaining > 0 {
				return ResultSuccess
			}

			effectiveBodySize, ok := a.decodeEffectiveBodySize()
			if !ok {
				a.reset()
				return ResultDisconnect
			}

			header := cloneBytes(a.headerBuf)
			if res := a.notify.HeaderReadFinish(conn, header); res != ResultSuccess {
				a.notify.PacketReadError(errcode.HeaderReadError, "header_read_finish rejected frame")
				a.reset()
				return ResultDisconnect
			}

			if effectiveBodySize == 0 {
				a.notify.PacketReserved(conn, header, []byte{})
				a.reset()
				continue
			}

			a.phase = phaseBody
			a.remaining = effectiveBodySize

		case phaseBody:
			take := a.remaining
			if take > len(b) {
				take = len(b)
			}
			a.bodyBuf = append(a.bodyBuf, b[:take]...)
			b = b[take:]
			a.remaining -= take
			if a.remaining > 0 {
				return ResultSuccess
			}

			header := cloneBytes(a.headerBuf)
			body := cloneBytes(a.bodyBuf)
			a.reset()
			a.notify.PacketReserved(conn, header, body)
		}
	}
	return ResultSuccess
}

// decodeEffectiveBodySize interprets the length field per a.mode and
// validates it, reporting through a.notify on failure.
func (a *headerBodyAssembler) decodeEffectiveBodySize() (int, bool) {
	off := a.desc.LengthFieldOffset()
	w := a.desc.LengthFieldWidth()
	fieldBytes := a.headerBuf[off : off+w]

	var decoded int
	switch w {
	case 2:
		decoded = int(byteorder.Uint16FromNetwork(fieldBytes))
	case 4:
		decoded = int(byteorder.Uint32FromNetwork(fieldBytes))
	}

	var subtrahend int
	switch a.mode {
	case BodyOnly:
		subtrahend = 0
	case WithLengthField:
		subtrahend = w
	case WithHeader:
		subtrahend = a.desc.HeaderSize()
	case CustomLength:
		subtrahend = a.reserveBodySize
	}

	if decoded < subtrahend {
		a.notify.PacketReadError(errcode.BodySizeError, fmt.Sprintf("decoded length %d is less than subtrahend %d", decoded, subtrahend))
		return 0, false
	}
	effective := decoded - subtrahend

	if a.bodyLengthLimit > 0 && effective > a.bodyLengthLimit {
		a.notify.PacketReadError(errcode.BodySizeError, fmt.Sprintf("effective body size %d exceeds limit %d", effective, a.bodyLengthLimit))
		return 0, false
	}

	return effective, true
}

func cloneBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// StructHeaderDescriptor derives a HeaderDescriptor from a Go struct via
// reflection, rejecting any struct whose in-memory size does not equal
// the sum of its field sizes — the Go equivalent of the source's
// compile-time "standard layout, no implicit padding" requirement, since
// Go offers no direct way to assert that at compile time.
func StructHeaderDescriptor(headerExample interface{}, lengthFieldName string) (HeaderDescriptor, error) {
	t := reflect.TypeOf(headerExample)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("assemble: header type %s is not a struct", t)
	}

	var fieldSizeSum uintptr
	offset := -1
	width := 0
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		fieldSizeSum += f.Type.Size()
		if f.Name == lengthFieldName {
			offset = int(f.Offset)
			width = int(f.Type.Size())
		}
	}
	if fieldSizeSum != t.Size() {
		return nil, fmt.Errorf("assemble: header type %s has implicit padding (fields sum to %d bytes, struct is %d bytes)", t, fieldSizeSum, t.Size())
	}
	if offset < 0 {
		return nil, fmt.Errorf("assemble: length field %q not found on %s", lengthFieldName, t)
	}
	if width != 2 && width != 4 {
		return nil, fmt.Errorf("assemble: length field %q has unsupported width %d (only 16- or 32-bit fields are supported)", lengthFieldName, width)
	}

	return structHeaderDescriptor{
		size:   int(t.Size()),
		offset: offset,
		width:  width,
	}, nil
}

type structHeaderDescriptor struct {
	size   int
	offset int
	width  int
}

func (d structHeaderDescriptor) HeaderSize() int        { return d.size }
func (d structHeaderDescriptor) LengthFieldOffset() int { return d.offset }
func (d structHeaderDescriptor) LengthFieldWidth() int  { return d.width }
