package efw

import "fmt"

/*------------------------------------------------------------------
 *
 * Purpose:	Flash region geometry: block-size rule and the
 *		variant-aware write-extent table (spec section 4.G).
 *
 *------------------------------------------------------------------*/

const (
	blockSizeSmall = 0x2000
	blockSizeLarge = 0x10000
	flashLimit     = 0x200000

	regionSmallBound = 0x10000
)

// ErrNoSuchRegion reports an offset beyond the flash address space, or a
// container header that matches no known write extent. Mirrors the
// vendor tool's NXIO.
var ErrNoSuchRegion = fmt.Errorf("efw: no such flash region")

// blockSize returns the erase/write block size covering offset, per the
// geometry table in spec section 3. Offsets at or beyond flashLimit are
// invalid.
func blockSize(offset uint32) (uint32, error) {
	switch {
	case offset < regionSmallBound:
		return blockSizeSmall, nil
	case offset < flashLimit:
		return blockSizeLarge, nil
	default:
		return 0, ErrNoSuchRegion
	}
}

// ContainerKind is the blob type carried by a firmware container header.
type ContainerKind uint32

const (
	KindDSP ContainerKind = iota
	KindIceLynx
	KindData
	KindFPGA
)

// ContainerHeader is the parsed fixed eight-quadlet header of a
// firmware container file (spec section 3/4.I).
type ContainerHeader struct {
	Kind           ContainerKind
	OffsetAddr     uint32
	BlobQuads      uint32
	BlobCRC32      uint32
	BlobChecksum   uint32
	Version        uint32
	CRCInRegionEnd bool
	CntrQuads      uint32
}

// writeExtent selects the write-extent size in quadlets for a container
// header given whether the target device is the FPGA variant, per the
// table in spec section 4.G. Result is rounded up to whole quadlets
// (already true here since every listed extent is quadlet-sized).
func writeExtent(h ContainerHeader, hasFPGA bool) (uint32, error) {
	switch {
	case h.OffsetAddr == 0x00000000 && !h.CRCInRegionEnd && h.Kind == KindDSP && !hasFPGA:
		return 0x800 / 4, nil
	case h.OffsetAddr == 0x00000000 && h.CRCInRegionEnd && h.Kind == KindFPGA && hasFPGA:
		return 0x60000 / 4, nil
	case h.OffsetAddr == 0x00100000:
		return 0x40000 / 4, nil
	case (h.OffsetAddr == 0x000C0000 || h.OffsetAddr == 0x00140000) && !hasFPGA:
		return 0x40000 / 4, nil
	default:
		return 0, ErrNoSuchRegion
	}
}

// HasFPGA reports whether the HAS_FPGA capability bit is set in a
// hardware-info flags word (spec section 3, bit 5).
func HasFPGA(flags uint32) bool { return flags&(1<<5) != 0 }

// HasDSP reports whether the HAS_DSP capability bit is set (bit 4).
func HasDSP(flags uint32) bool { return flags&(1<<4) != 0 }
