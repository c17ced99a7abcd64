// Package wire implements the MongoDB wire protocol framing the server
// monitor needs to actually speak hello/isMaster to a real socket: OP_MSG
// with optional compression and the exhaust (moreToCome) flag, and legacy
// OP_QUERY for handshakes against servers below wire version 6. Everything above framing
// (command construction, cursors, auth handshakes, TLS) is out of scope.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// OpCode identifies the kind of wire message.
type OpCode int32

const (
	OpReply      OpCode = 1
	OpQuery      OpCode = 2004
	OpCompressed OpCode = 2012
	OpMsg        OpCode = 2013
)

// Header is the 16-byte little-endian frame header common to every wire
// message.
type Header struct {
	MessageLength int32
	RequestID     int32
	ResponseTo    int32
	OpCode        OpCode
}

const headerLen = 16

// WriteTo serialises h in little-endian order.
func (h Header) WriteTo(w io.Writer) error {
	buf := make([]byte, headerLen)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(h.MessageLength))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(h.RequestID))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(h.ResponseTo))
	binary.LittleEndian.PutUint32(buf[12:16], uint32(h.OpCode))
	_, err := w.Write(buf)
	return err
}

// ReadHeader reads and decodes a Header from r.
func ReadHeader(r io.Reader) (Header, error) {
	buf := make([]byte, headerLen)
	if _, err := io.ReadFull(r, buf); err != nil {
		return Header{}, fmt.Errorf("wire: read header: %w", err)
	}
	return Header{
		MessageLength: int32(binary.LittleEndian.Uint32(buf[0:4])),
		RequestID:     int32(binary.LittleEndian.Uint32(buf[4:8])),
		ResponseTo:    int32(binary.LittleEndian.Uint32(buf[8:12])),
		OpCode:        OpCode(binary.LittleEndian.Uint32(buf[12:16])),
	}, nil
}
