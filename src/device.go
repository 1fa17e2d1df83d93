package efw

import (
	"fmt"
	"os"

	"github.com/charmbracelet/log"
)

/*------------------------------------------------------------------
 *
 * Purpose:	Compose the transport, protocol, and update engine for a
 *		single device session (spec section 4.J). Failure at any
 *		step releases all earlier acquisitions in reverse, the
 *		same scoped-acquisition discipline spec section 5
 *		requires of the update engine's FPGA lock bracket.
 *
 *------------------------------------------------------------------*/

// SeqMax is the device's declared user-seqnum ceiling. The vendor
// protocol does not expose this as a queryable value at session-open
// time, so a fixed ceiling of 0xFFFE is used.
const SeqMax = 0xFFFE

// Session is an open device session: a bound transport and protocol,
// ready for Detect/Read/Update.
type Session struct {
	devicePath string
	logger     *log.Logger

	transport Transport
	protocol  *Protocol
}

// OpenSession opens devicePath, checks its config ROM, constructs the
// protocol, and starts the dispatch loop. On any failure, every
// resource already acquired is released before returning.
func OpenSession(devicePath string, rom []byte, logger *log.Logger) (*Session, error) {
	vm, ok := DetectVendorModel(rom)
	if !ok {
		return nil, fmt.Errorf("efw: %s: config ROM does not match a known Fireworks device", devicePath)
	}
	logger.Info("device identified", "vendor", vm.VendorName, "model", vm.Name)

	transport, err := OpenTransport(devicePath)
	if err != nil {
		return nil, err
	}

	protocol := NewProtocol(transport, SeqMax)
	if err := protocol.Start(); err != nil {
		transport.Close()
		return nil, fmt.Errorf("efw: %s: starting protocol: %w", devicePath, err)
	}

	return &Session{
		devicePath: devicePath,
		logger:     logger,
		transport:  transport,
		protocol:   protocol,
	}, nil
}

// Close stops the dispatch loop and closes the transport, in reverse
// acquisition order.
func (s *Session) Close() error {
	s.protocol.Stop()
	return s.transport.Close()
}

// Detect prints the device's hardware-info record.
func (s *Session) Detect() error {
	info, err := s.protocol.HWInfo()
	if err != nil {
		return fmt.Errorf("efw: detect: %w", err)
	}
	s.logger.Info("hardware info", "type", info.Type, "has_fpga", HasFPGA(info.Flags), "has_dsp", HasDSP(info.Flags))
	return nil
}

// Read reads quads quadlets starting at offset and prints them.
func (s *Session) Read(offset uint32, quads int) error {
	out := make([]uint32, quads)
	if err := s.protocol.recursiveRead(offset, out); err != nil {
		return fmt.Errorf("efw: read: %w", err)
	}
	for i, q := range out {
		fmt.Fprintf(os.Stdout, "0x%08x: 0x%08x\n", offset+uint32(i*4), q)
	}
	return nil
}

// UpdateFromContainer runs the update engine against an already-parsed
// container c.
func (s *Session) UpdateFromContainer(c Container, dryRun bool) error {
	if err := s.protocol.Update(s.logger, c.Header, c.Payload, dryRun); err != nil {
		return fmt.Errorf("efw: update: %w", err)
	}
	return nil
}
