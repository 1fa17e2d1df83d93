package efw

import "fmt"

/*------------------------------------------------------------------
 *
 * Purpose:	Closed status taxonomy for the Fireworks command/response
 *		protocol (spec section 6). Every response frame carries one
 *		of these in its status quadlet; values 16 and above are
 *		not defined by the protocol and are folded to Bad.
 *
 *------------------------------------------------------------------*/

// Status is a Fireworks protocol response status code.
type Status uint32

const (
	StatusOK Status = iota
	StatusBad
	StatusBadCommand
	StatusCommErr
	StatusBadQuadCount
	StatusUnsupported
	StatusTimeout
	StatusDspTimeout
	StatusBadRate
	StatusBadClock
	StatusBadChannel
	StatusBadPan
	StatusFlashBusy
	StatusBadMirror
	StatusBadLed
	StatusBadParameter
	StatusLargeResp
)

// statusCeiling is one past the highest status value the wire protocol
// actually defines (StatusBadParameter, 15); StatusLargeResp is a
// locally-synthesized kind, never a legitimate wire value. Spec
// section 3 collapses any wire status >= 16 to StatusBad.
const statusCeiling = StatusLargeResp

var statusNames = map[Status]string{
	StatusOK:           "OK",
	StatusBad:          "BAD",
	StatusBadCommand:   "BAD_COMMAND",
	StatusCommErr:      "COMM_ERR",
	StatusBadQuadCount: "BAD_QUAD_COUNT",
	StatusUnsupported:  "UNSUPPORTED",
	StatusTimeout:      "TIMEOUT",
	StatusDspTimeout:   "DSP_TIMEOUT",
	StatusBadRate:      "BAD_RATE",
	StatusBadClock:     "BAD_CLOCK",
	StatusBadChannel:   "BAD_CHANNEL",
	StatusBadPan:       "BAD_PAN",
	StatusFlashBusy:    "FLASH_BUSY",
	StatusBadMirror:    "BAD_MIRROR",
	StatusBadLed:       "BAD_LED",
	StatusBadParameter: "BAD_PARAMETER",
	StatusLargeResp:    "LARGE_RESP",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("STATUS(%d)", uint32(s))
}

// clampStatus folds any status beyond the known taxonomy to StatusBad,
// preserving a closed error space as required by spec section 4.E.
func clampStatus(raw uint32) Status {
	if raw >= uint32(statusCeiling) {
		return StatusBad
	}
	return Status(raw)
}

// Error satisfies the error interface so a non-OK Status can be returned
// directly as an error from the transaction core and command surface.
func (s Status) Error() string {
	return "efw: protocol status " + s.String()
}

// ProtocolError wraps a non-OK Status with the call that produced it.
type ProtocolError struct {
	Category uint32
	Command  uint32
	Status   Status
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("efw: category %d command %d: %s", e.Category, e.Command, e.Status)
}

func (e *ProtocolError) Unwrap() error { return e.Status }

// AsStatus extracts the Status from an error produced by this package, if
// any. This lets callers branch on the closed taxonomy without string
// matching.
func AsStatus(err error) (Status, bool) {
	var pe *ProtocolError
	if ok := asProtocolError(err, &pe); ok {
		return pe.Status, true
	}
	var s Status
	if ok := asStatusValue(err, &s); ok {
		return s, true
	}
	return 0, false
}

func asProtocolError(err error, target **ProtocolError) bool {
	for err != nil {
		if pe, ok := err.(*ProtocolError); ok {
			*target = pe
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

func asStatusValue(err error, target *Status) bool {
	for err != nil {
		if s, ok := err.(Status); ok {
			*target = s
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
