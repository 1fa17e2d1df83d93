package efw

import (
	"context"
	"fmt"
	"os"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

/*------------------------------------------------------------------
 *
 * Purpose:	Thin adaptor over the 1394 block-write/reserve/listen
 *		primitives (spec section 4.C). Out of scope for the
 *		protocol core proper, but this repo ships one concrete
 *		implementation, unixTransport, talking to a Linux
 *		firewire-cdev character device via ioctl — the same
 *		hand-rolled ioctl-struct style cm108.go uses for
 *		HIDIOCGRAWINFO, without cgo.
 *
 *------------------------------------------------------------------*/

const (
	// CommandAddr and ResponseAddr are the fixed 1394 addresses the
	// Fireworks protocol uses for outbound commands and the window the
	// device writes responses into (spec section 6).
	CommandAddr  uint64 = 0xECC000000000
	ResponseAddr uint64 = 0xECC080000000
	ResponseSize uint32 = 512
)

// Transport is the external collaborator contract from spec section
// 4.C. It owns no Fireworks semantics: callers supply fully-encoded
// frame bytes and receive fully-encoded frame bytes back.
type Transport interface {
	// Reserve binds addr/size as the window inbound block-write
	// requests land in.
	Reserve(addr uint64, size uint32) error
	// WriteBlock issues a block-write of data to addr, with the given
	// per-write timeout.
	WriteBlock(ctx context.Context, addr uint64, data []byte) error
	// Inbound returns a channel of raw frame bytes delivered by inbound
	// block-write requests landing in the reserved window. Closed when
	// the transport is closed.
	Inbound() <-chan []byte
	Close() error
}

// Linux firewire-cdev ioctl numbers, from <linux/firewire-cdev.h>. Kept
// minimal: only what a block-write command/response cycle needs.
const (
	fwCdevIOCAllocate     = 0xc0202302
	fwCdevIOCSendRequest  = 0x40282301
	fwCdevIOCSendResponse = 0x40182304
	fwCdevIOCGetInfo      = 0xc0282300
)

// fwCdevAllocate mirrors struct fw_cdev_allocate: reserve an address
// range for inbound requests to land in.
type fwCdevAllocate struct {
	Offset    uint64
	Closure   uint64
	Length    uint32
	Handle    uint32
	RegionEnd uint64
}

// fwCdevSendRequest mirrors struct fw_cdev_send_request: issue an
// outbound block-write transaction.
type fwCdevSendRequest struct {
	TCode      uint32
	Length     uint32
	Offset     uint64
	Closure    uint64
	Data       uint64
	Generation uint32
	_          uint32
}

const tcodeWriteBlock = 1

// unixTransport talks to a firewire-cdev character device (e.g.
// /dev/fw1) via ioctl, and multiplexes inbound block-write requests it
// reads from the device into a channel.
type unixTransport struct {
	f *os.File

	mu     sync.Mutex
	closed bool

	inbound chan []byte
	done    chan struct{}
}

// OpenTransport opens the given 1394 character device node and starts a
// background reader delivering inbound block-write payloads.
func OpenTransport(devicePath string) (Transport, error) {
	f, err := os.OpenFile(devicePath, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("efw: open %s: %w", devicePath, err)
	}
	t := &unixTransport{
		f:       f,
		inbound: make(chan []byte, 8),
		done:    make(chan struct{}),
	}
	go t.readLoop()
	return t, nil
}

func (t *unixTransport) Reserve(addr uint64, size uint32) error {
	req := fwCdevAllocate{
		Offset:    addr,
		Length:    size,
		RegionEnd: addr + uint64(size),
	}
	return ioctl(t.f.Fd(), fwCdevIOCAllocate, unsafe.Pointer(&req))
}

func (t *unixTransport) WriteBlock(ctx context.Context, addr uint64, data []byte) error {
	req := fwCdevSendRequest{
		TCode:  tcodeWriteBlock,
		Length: uint32(len(data)),
		Offset: addr,
		Data:   uint64(uintptr(unsafe.Pointer(&data[0]))),
	}
	errCh := make(chan error, 1)
	go func() { errCh <- ioctl(t.f.Fd(), fwCdevIOCSendRequest, unsafe.Pointer(&req)) }()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *unixTransport) Inbound() <-chan []byte { return t.inbound }

func (t *unixTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()
	close(t.done)
	return t.f.Close()
}

// readLoop reads raw inbound-request events from the cdev and forwards
// their payload onto the inbound channel, until the transport is
// closed. A real firewire-cdev reader decodes a variable-length event
// envelope; here the payload is assumed to already be frame-aligned,
// matching how the dispatch loop (see dispatch.go) consumes it.
func (t *unixTransport) readLoop() {
	defer close(t.inbound)
	buf := make([]byte, maxFrameSize)
	for {
		select {
		case <-t.done:
			return
		default:
		}
		n, err := t.f.Read(buf)
		if err != nil {
			return
		}
		if n == 0 {
			continue
		}
		frame := make([]byte, n)
		copy(frame, buf[:n])
		select {
		case t.inbound <- frame:
		case <-t.done:
			return
		}
	}
}

func ioctl(fd uintptr, req uint, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, fd, uintptr(req), uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}
