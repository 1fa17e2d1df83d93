package efw

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"strconv"
	"strings"
)

/*------------------------------------------------------------------
 *
 * Purpose:	Parse the vendor's line-oriented ASCII firmware-container
 *		format (spec section 4.I): a fixed magic line, eight
 *		header value lines, a 672-byte gap, then blob_quads
 *		payload value lines, validated by CRC-32 and a byte-sum
 *		checksum.
 *
 *------------------------------------------------------------------*/

const containerMagic = "1651 1 0 0 0\r\n"

// gapBytes is the fixed gap between the header and the payload:
// (0x3F - 7) * 12 bytes, matching file-cntr.c's `till_data` skip.
// Spec section 4.I's prose annotation "= 720" is a transcription
// error against both the formula and the original source; 672 is
// what the vendor tool, and this parser, actually skip.
const gapBytes = (0x3F - 7) * 12

// Container is a fully parsed firmware-container file (spec section 3).
type Container struct {
	Header  ContainerHeader
	Payload []uint32
}

var (
	// ErrContainerProto reports a magic mismatch or a malformed value line.
	ErrContainerProto = fmt.Errorf("efw: container: protocol error")
	// ErrContainerNoData reports premature EOF while reading the header,
	// the gap, or the payload.
	ErrContainerNoData = fmt.Errorf("efw: container: no data")
	// ErrContainerInvalid reports a CRC-32 or checksum mismatch.
	ErrContainerInvalid = fmt.Errorf("efw: container: invalid")
)

// ParseContainer reads a firmware-container file from r (spec section
// 4.I). On any validation failure after the header is fully read, the
// parsed payload is discarded along with the error.
func ParseContainer(r io.Reader) (Container, error) {
	br := bufio.NewReader(r)

	magic, err := readLine(br)
	if err != nil {
		return Container{}, fmt.Errorf("%w: reading magic: %v", ErrContainerProto, err)
	}
	if magic != containerMagic {
		return Container{}, fmt.Errorf("%w: unexpected magic %q", ErrContainerProto, magic)
	}

	headerFields := make([]uint32, 8)
	for i := range headerFields {
		v, err := readHexQuad(br)
		if err != nil {
			if err == io.EOF {
				return Container{}, fmt.Errorf("%w: header field %d", ErrContainerNoData, i)
			}
			return Container{}, fmt.Errorf("%w: header field %d: %v", ErrContainerProto, i, err)
		}
		headerFields[i] = v
	}
	hdr := ContainerHeader{
		Kind:           ContainerKind(headerFields[0]),
		OffsetAddr:     headerFields[1],
		BlobQuads:      headerFields[2],
		BlobCRC32:      headerFields[3],
		BlobChecksum:   headerFields[4],
		Version:        headerFields[5],
		CRCInRegionEnd: headerFields[6] != 0,
		CntrQuads:      headerFields[7],
	}

	if err := skipBytes(br, gapBytes); err != nil {
		return Container{}, fmt.Errorf("%w: skipping gap: %v", ErrContainerNoData, err)
	}

	payload := make([]uint32, hdr.BlobQuads)
	for i := range payload {
		v, err := readHexQuad(br)
		if err != nil {
			if err == io.EOF {
				return Container{}, fmt.Errorf("%w: payload quad %d", ErrContainerNoData, i)
			}
			return Container{}, fmt.Errorf("%w: payload quad %d: %v", ErrContainerProto, i, err)
		}
		payload[i] = v
	}

	if crc32OfQuads(payload) != hdr.BlobCRC32 {
		return Container{}, fmt.Errorf("%w: CRC-32 mismatch", ErrContainerInvalid)
	}
	if byteSumChecksum(payload) != hdr.BlobChecksum {
		return Container{}, fmt.Errorf("%w: checksum mismatch", ErrContainerInvalid)
	}

	return Container{Header: hdr, Payload: payload}, nil
}

// readLine reads one CRLF-terminated line, including the CRLF.
func readLine(br *bufio.Reader) (string, error) {
	line, err := br.ReadString('\n')
	if err != nil {
		return "", err
	}
	return line, nil
}

// readHexQuad reads one "0x<hex>\r\n" value line and parses it as a
// 32-bit quadlet.
func readHexQuad(br *bufio.Reader) (uint32, error) {
	line, err := br.ReadString('\n')
	if err != nil {
		return 0, err
	}
	line = strings.TrimRight(line, "\r\n")
	if !strings.HasPrefix(line, "0x") {
		return 0, fmt.Errorf("missing 0x prefix in %q", line)
	}
	v, err := strconv.ParseUint(line[2:], 16, 32)
	if err != nil {
		return 0, fmt.Errorf("non-hex value %q: %w", line, err)
	}
	return uint32(v), nil
}

func skipBytes(br *bufio.Reader, n int) error {
	_, err := io.CopyN(io.Discard, br, int64(n))
	return err
}

// quadsToNativeBytes serializes quads into the raw in-memory byte
// stream the vendor tool's CRC-32 runs over: each quadlet as its
// native-endian (little-endian, per the open question resolved in
// DESIGN.md) 4-byte representation, not the big-endian wire form.
func quadsToNativeBytes(quads []uint32) []byte {
	buf := make([]byte, len(quads)*4)
	for i, q := range quads {
		binary.LittleEndian.PutUint32(buf[i*4:i*4+4], q)
	}
	return buf
}

// byteSumChecksum sums the four bytes of every quadlet (spec section
// 4.I step 6).
func byteSumChecksum(quads []uint32) uint32 {
	var sum uint32
	for _, q := range quads {
		sum += (q >> 24) & 0xFF
		sum += (q >> 16) & 0xFF
		sum += (q >> 8) & 0xFF
		sum += q & 0xFF
	}
	return sum
}
