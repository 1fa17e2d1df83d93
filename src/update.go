package efw

import (
	"fmt"
	"hash/crc32"
	"time"

	"github.com/charmbracelet/log"
)

/*------------------------------------------------------------------
 *
 * Purpose:	Flash update engine: erase+write+verify with busy-polling
 *		and an FPGA lock/unlock bracket (spec section 4.H).
 *
 *		The original C source comments out both the erase and
 *		write calls in this loop. This is a redesign target
 *		(spec section 9, REDESIGN FLAGS): the calls are live here.
 *
 *------------------------------------------------------------------*/

const pollInterval = 500 * time.Millisecond

// Update runs a full update-engine session against hdr/payload, aborting
// at the first error. dryRun skips only the erase/write/verify I/O;
// flash_lock/unlock and the session-base read still run, matching
// op-device-update.c and spec section 6's CLI contract.
func (p *Protocol) Update(logger *log.Logger, hdr ContainerHeader, payload []uint32, dryRun bool) error {
	info, err := p.HWInfo()
	if err != nil {
		return fmt.Errorf("efw: update: hw_info: %w", err)
	}
	hasFPGA := HasFPGA(info.Flags)

	quads, err := writeExtent(hdr, hasFPGA)
	if err != nil {
		return fmt.Errorf("efw: update: %w", err)
	}
	if uint32(len(payload)) > quads {
		return fmt.Errorf("efw: update: payload of %d quads exceeds write extent of %d quads", len(payload), quads)
	}

	readBuf := make([]uint32, quads)
	if err := p.recursiveRead(hdr.OffsetAddr, readBuf); err != nil {
		return fmt.Errorf("efw: update: pre-read: %w", err)
	}
	if hdr.CRCInRegionEnd && len(readBuf) >= 2 {
		logger.Info("previous firmware", "version", readBuf[len(readBuf)-2], "crc32", fmt.Sprintf("0x%08x", readBuf[len(readBuf)-1]))
	} else {
		logger.Info("previous firmware", "crc32", fmt.Sprintf("0x%08x", crc32OfQuads(readBuf)))
	}

	writeBuf := make([]uint32, quads)
	for i := range writeBuf {
		writeBuf[i] = 0xFFFFFFFF
	}
	copy(writeBuf, payload)
	if hdr.CRCInRegionEnd && len(writeBuf) >= 2 {
		writeBuf[len(writeBuf)-2] = hdr.Version
		writeBuf[len(writeBuf)-1] = hdr.BlobCRC32
	}

	if hasFPGA {
		if err := p.FlashLock(true); err != nil {
			return fmt.Errorf("efw: update: flash_lock: %w", err)
		}
		defer func() {
			if err := p.FlashLock(false); err != nil {
				logger.Error("flash_lock(false) on unwind failed", "err", err)
			}
		}()
	}

	if dryRun {
		logger.Info("dry run: skipping erase/write/verify")
	} else {
		offset := hdr.OffsetAddr
		remaining := len(writeBuf)
		buf := writeBuf
		for remaining > 0 {
			size, err := blockSize(offset)
			if err != nil {
				return fmt.Errorf("efw: update: %w", err)
			}
			count := int(size / 4)
			if count > remaining {
				count = remaining
			}
			if err := p.eraseAndWait(offset); err != nil {
				return fmt.Errorf("efw: update: erase at 0x%x: %w", offset, err)
			}
			if err := p.recursiveWrite(offset, buf[:count]); err != nil {
				return fmt.Errorf("efw: update: write at 0x%x: %w", offset, err)
			}
			offset += uint32(count * 4)
			remaining -= count
			buf = buf[count:]
		}

		verifyBuf := make([]uint32, quads)
		if err := p.recursiveRead(hdr.OffsetAddr, verifyBuf); err != nil {
			return fmt.Errorf("efw: update: verify read: %w", err)
		}
		if !quadsEqual(writeBuf, verifyBuf) {
			return fmt.Errorf("efw: update: verification mismatch at 0x%x", hdr.OffsetAddr)
		}
	}

	base, err := p.FlashSessionBase()
	if err != nil {
		return fmt.Errorf("efw: update: flash_session_base: %w", err)
	}
	logger.Debug("session base", "base", fmt.Sprintf("0x%08x", base))

	return nil
}

// recursiveRead splits a read into maxFlashQuads-sized chunks (spec
// section 4.H).
func (p *Protocol) recursiveRead(offset uint32, out []uint32) error {
	for len(out) > 0 {
		count := len(out)
		if count > maxFlashQuads {
			count = maxFlashQuads
		}
		data, err := p.FlashRead(offset, count)
		if err != nil {
			return err
		}
		copy(out[:count], data)
		offset += uint32(count * 4)
		out = out[count:]
	}
	return nil
}

// recursiveWrite splits a write into maxFlashQuads-sized chunks,
// polling flash_state between chunks with the same cadence as
// eraseAndWait (spec section 4.H).
func (p *Protocol) recursiveWrite(offset uint32, buf []uint32) error {
	for len(buf) > 0 {
		count := len(buf)
		if count > maxFlashQuads {
			count = maxFlashQuads
		}
		if err := p.FlashWrite(offset, buf[:count]); err != nil {
			return err
		}
		if err := p.waitUntilReady(); err != nil {
			return err
		}
		offset += uint32(count * 4)
		buf = buf[count:]
	}
	return nil
}

// eraseAndWait issues an erase then polls flash_state until ready.
// A transient polling error is swallowed and treated as still-busy,
// since the flash controller is unresponsive to unrelated commands
// while erasing (spec section 4.H/7).
func (p *Protocol) eraseAndWait(offset uint32) error {
	if err := p.FlashErase(offset); err != nil {
		return err
	}
	return p.waitUntilReady()
}

func (p *Protocol) waitUntilReady() error {
	for {
		ready, err := p.FlashReady()
		if err != nil {
			time.Sleep(pollInterval)
			continue
		}
		if ready {
			return nil
		}
		time.Sleep(pollInterval)
	}
}

func quadsEqual(a, b []uint32) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func crc32OfQuads(quads []uint32) uint32 {
	return crc32.ChecksumIEEE(quadsToNativeBytes(quads))
}
