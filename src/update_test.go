package efw

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEraseAndWaitFlashBusyPollingScenario(t *testing.T) {
	transport := newFakeTransport()
	p := NewProtocol(transport, SeqMax)
	require.NoError(t, p.Start())
	defer p.Stop()

	var stateCalls int32

	transport.setOnWrite(func(data []byte) {
		req, err := DecodeFrame(data)
		require.NoError(t, err)

		resp := Frame{SeqNum: req.SeqNum + 1, Category: req.Category, Command: req.Command, Status: uint32(StatusOK)}
		switch {
		case req.Category == categoryFlash && req.Command == commandFlashErase:
			// erase accepted immediately
		case req.Category == categoryFlash && req.Command == commandFlashState:
			n := atomic.AddInt32(&stateCalls, 1)
			if n <= 4 {
				resp.Status = uint32(StatusFlashBusy)
			}
		}
		go transport.deliver(resp)
	})

	start := time.Now()
	err := p.eraseAndWait(0x0000)
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.GreaterOrEqual(t, atomic.LoadInt32(&stateCalls), int32(5))
	assert.GreaterOrEqual(t, elapsed, 4*pollInterval)
}

func TestEraseAndWaitSwallowsTransientPollError(t *testing.T) {
	transport := newFakeTransport()
	p := NewProtocol(transport, SeqMax)
	require.NoError(t, p.Start())
	defer p.Stop()

	var stateCalls int32

	transport.setOnWrite(func(data []byte) {
		req, err := DecodeFrame(data)
		require.NoError(t, err)

		switch {
		case req.Category == categoryFlash && req.Command == commandFlashErase:
			go transport.deliver(Frame{SeqNum: req.SeqNum + 1, Category: req.Category, Command: req.Command, Status: uint32(StatusOK)})
		case req.Category == categoryFlash && req.Command == commandFlashState:
			n := atomic.AddInt32(&stateCalls, 1)
			if n == 1 {
				// A transient unrelated failure while erasing: swallowed.
				go transport.deliver(Frame{SeqNum: req.SeqNum + 1, Category: req.Category, Command: req.Command, Status: uint32(StatusCommErr)})
				return
			}
			go transport.deliver(Frame{SeqNum: req.SeqNum + 1, Category: req.Category, Command: req.Command, Status: uint32(StatusOK)})
		}
	})

	err := p.eraseAndWait(0x0000)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, atomic.LoadInt32(&stateCalls), int32(2))
}
