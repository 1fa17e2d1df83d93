package efw

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildContainer renders a syntactically valid container file around
// the given header and payload, computing blob_crc32 and blob_checksum
// from the payload so the result validates.
func buildContainer(hdr ContainerHeader, payload []uint32) []byte {
	hdr.BlobQuads = uint32(len(payload))
	hdr.BlobCRC32 = crc32OfQuads(payload)
	hdr.BlobChecksum = byteSumChecksum(payload)

	var buf bytes.Buffer
	buf.WriteString(containerMagic)

	crcInRegionEnd := uint32(0)
	if hdr.CRCInRegionEnd {
		crcInRegionEnd = 1
	}
	fields := []uint32{
		uint32(hdr.Kind), hdr.OffsetAddr, hdr.BlobQuads, hdr.BlobCRC32,
		hdr.BlobChecksum, hdr.Version, crcInRegionEnd, hdr.CntrQuads,
	}
	for _, f := range fields {
		fmt.Fprintf(&buf, "0x%x\r\n", f)
	}

	buf.Write(make([]byte, gapBytes))

	for _, q := range payload {
		fmt.Fprintf(&buf, "0x%x\r\n", q)
	}
	return buf.Bytes()
}

func TestParseContainerRoundTrip(t *testing.T) {
	hdr := ContainerHeader{Kind: KindData, OffsetAddr: 0x00100000, Version: 7, CRCInRegionEnd: true}
	payload := []uint32{0x11223344, 0x00000000, 0xFFFFFFFF, 0xDEADBEEF}

	data := buildContainer(hdr, payload)

	c, err := ParseContainer(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, payload, c.Payload)
	assert.Equal(t, hdr.OffsetAddr, c.Header.OffsetAddr)
	assert.Equal(t, hdr.Version, c.Header.Version)
	assert.True(t, c.Header.CRCInRegionEnd)
}

func TestParseContainerRejectsCorruptedPayload(t *testing.T) {
	hdr := ContainerHeader{Kind: KindData, OffsetAddr: 0x00100000}
	payload := []uint32{0x11223344, 0x00000000}
	data := buildContainer(hdr, payload)

	// Flip a byte in the last payload value line.
	idx := bytes.LastIndex(data, []byte("0x0\r\n"))
	corrupted := append([]byte(nil), data...)
	corrupted[idx+2] = '1'
	require.NotEqual(t, data, corrupted)

	_, err := ParseContainer(bytes.NewReader(corrupted))
	assert.ErrorIs(t, err, ErrContainerInvalid)
}

func TestParseContainerRejectsBadMagic(t *testing.T) {
	_, err := ParseContainer(bytes.NewReader([]byte("not the magic\r\n")))
	assert.ErrorIs(t, err, ErrContainerProto)
}

func TestParseContainerRejectsTruncatedHeader(t *testing.T) {
	_, err := ParseContainer(bytes.NewReader([]byte(containerMagic + "0x0\r\n")))
	assert.ErrorIs(t, err, ErrContainerNoData)
}
