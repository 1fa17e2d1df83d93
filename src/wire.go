package efw

import (
	"encoding/binary"
	"fmt"
)

/*------------------------------------------------------------------
 *
 * Purpose:	Encode and decode the Fireworks transaction frame: a
 *		six-quadlet big-endian header followed by zero or more
 *		parameter quadlets. Mirrors the vendor's
 *		snd_efw_transaction layout (length, version, seqnum,
 *		category, command, status, params[]).
 *
 *------------------------------------------------------------------*/

const (
	headerQuads  = 6
	headerBytes  = headerQuads * 4
	maxFrameSize = 512 // bytes; 128 quadlets
	wireVersion  = 1
)

// Frame is a single Fireworks request or response. Status is only
// meaningful on a response; requests leave it zero.
type Frame struct {
	SeqNum   uint32
	Category uint32
	Command  uint32
	Status   uint32
	Params   []uint32
}

// Encode serializes f as a wire frame: six-quadlet header then params,
// all big-endian.
func (f Frame) Encode() ([]byte, error) {
	lengthQuads := headerQuads + len(f.Params)
	if lengthQuads*4 > maxFrameSize {
		return nil, fmt.Errorf("efw: frame of %d quadlets exceeds %d-byte limit", lengthQuads, maxFrameSize)
	}
	buf := make([]byte, lengthQuads*4)
	binary.BigEndian.PutUint32(buf[0:4], uint32(lengthQuads))
	binary.BigEndian.PutUint32(buf[4:8], wireVersion)
	binary.BigEndian.PutUint32(buf[8:12], f.SeqNum)
	binary.BigEndian.PutUint32(buf[12:16], f.Category)
	binary.BigEndian.PutUint32(buf[16:20], f.Command)
	binary.BigEndian.PutUint32(buf[20:24], f.Status)
	for i, p := range f.Params {
		off := headerBytes + i*4
		binary.BigEndian.PutUint32(buf[off:off+4], p)
	}
	return buf, nil
}

// DecodeFrame parses a wire frame. A length field that claims fewer
// bytes than the fixed header is malformed.
func DecodeFrame(b []byte) (Frame, error) {
	if len(b) < headerBytes {
		return Frame{}, fmt.Errorf("efw: malformed frame: %d bytes shorter than %d-byte header", len(b), headerBytes)
	}
	lengthQuads := binary.BigEndian.Uint32(b[0:4])
	if int(lengthQuads)*4 < headerBytes {
		return Frame{}, fmt.Errorf("efw: malformed frame: length_quads %d too small for header", lengthQuads)
	}
	if int(lengthQuads)*4 > len(b) {
		return Frame{}, fmt.Errorf("efw: malformed frame: length_quads %d exceeds %d available bytes", lengthQuads, len(b))
	}
	f := Frame{
		SeqNum:   binary.BigEndian.Uint32(b[8:12]),
		Category: binary.BigEndian.Uint32(b[12:16]),
		Command:  binary.BigEndian.Uint32(b[16:20]),
		Status:   binary.BigEndian.Uint32(b[20:24]),
	}
	paramCount := int(lengthQuads) - headerQuads
	f.Params = make([]uint32, paramCount)
	for i := 0; i < paramCount; i++ {
		off := headerBytes + i*4
		f.Params[i] = binary.BigEndian.Uint32(b[off : off+4])
	}
	return f, nil
}
