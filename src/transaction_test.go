package efw

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTransport is a Transport double: WriteBlock hands the encoded
// frame to an injectable hook, and Inbound is fed directly by tests.
type fakeTransport struct {
	mu      sync.Mutex
	onWrite func(data []byte)

	inbound chan []byte
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{inbound: make(chan []byte, 8)}
}

func (f *fakeTransport) Reserve(addr uint64, size uint32) error { return nil }

func (f *fakeTransport) WriteBlock(ctx context.Context, addr uint64, data []byte) error {
	f.mu.Lock()
	hook := f.onWrite
	f.mu.Unlock()
	if hook != nil {
		hook(data)
	}
	return nil
}

func (f *fakeTransport) Inbound() <-chan []byte { return f.inbound }

func (f *fakeTransport) Close() error {
	close(f.inbound)
	return nil
}

func (f *fakeTransport) setOnWrite(fn func(data []byte)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onWrite = fn
}

func (f *fakeTransport) deliver(fr Frame) {
	encoded, err := fr.Encode()
	if err != nil {
		panic(err)
	}
	f.inbound <- encoded
}

func TestTransactionSuccessDeliversMatchingParams(t *testing.T) {
	transport := newFakeTransport()
	p := NewProtocol(transport, SeqMax)
	require.NoError(t, p.Start())
	defer p.Stop()

	transport.setOnWrite(func(data []byte) {
		req, err := DecodeFrame(data)
		require.NoError(t, err)
		go transport.deliver(Frame{
			SeqNum:   req.SeqNum + 1,
			Category: req.Category,
			Command:  req.Command,
			Status:   uint32(StatusOK),
			Params:   []uint32{0xAAAA, 0xBBBB},
		})
	})

	out := make([]uint32, 2)
	n, err := p.transaction(3, 7, []uint32{1}, out, time.Second)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []uint32{0xAAAA, 0xBBBB}, out)
}

func TestTransactionTimeoutScenario(t *testing.T) {
	transport := newFakeTransport()
	p := NewProtocol(transport, SeqMax)
	require.NoError(t, p.Start())
	defer p.Stop()

	start := time.Now()
	_, err := p.transaction(0, 0, nil, nil, 10*time.Millisecond)
	elapsed := time.Since(start)

	assert.ErrorIs(t, err, StatusTimeout)
	assert.GreaterOrEqual(t, elapsed, 10*time.Millisecond)
	assert.Less(t, elapsed, 200*time.Millisecond)
}

func TestTransactionCategoryCommandMismatchScenario(t *testing.T) {
	transport := newFakeTransport()
	p := NewProtocol(transport, SeqMax)
	require.NoError(t, p.Start())
	defer p.Stop()

	transport.setOnWrite(func(data []byte) {
		req, err := DecodeFrame(data)
		require.NoError(t, err)
		go transport.deliver(Frame{
			SeqNum:   req.SeqNum + 1,
			Category: req.Category,
			Command:  req.Command + 1, // wrong command
			Status:   uint32(StatusOK),
		})
	})

	_, err := p.transaction(1, 2, nil, nil, time.Second)
	status, ok := AsStatus(err)
	require.True(t, ok)
	assert.Equal(t, StatusBad, status)
}

func TestTransactionNonInterferenceFromUnrelatedSeqnum(t *testing.T) {
	transport := newFakeTransport()
	p := NewProtocol(transport, SeqMax)
	require.NoError(t, p.Start())
	defer p.Stop()

	transport.setOnWrite(func(data []byte) {
		req, err := DecodeFrame(data)
		require.NoError(t, err)
		go transport.deliver(Frame{SeqNum: req.SeqNum + 99, Category: req.Category, Command: req.Command, Status: uint32(StatusOK)})
		go transport.deliver(Frame{SeqNum: req.SeqNum + 1, Category: req.Category, Command: req.Command, Status: uint32(StatusOK), Params: []uint32{42}})
	})

	out := make([]uint32, 1)
	n, err := p.transaction(1, 1, nil, out, time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, uint32(42), out[0])
}

func TestTransactionLargeResponseTruncates(t *testing.T) {
	transport := newFakeTransport()
	p := NewProtocol(transport, SeqMax)
	require.NoError(t, p.Start())
	defer p.Stop()

	transport.setOnWrite(func(data []byte) {
		req, err := DecodeFrame(data)
		require.NoError(t, err)
		go transport.deliver(Frame{
			SeqNum:   req.SeqNum + 1,
			Category: req.Category,
			Command:  req.Command,
			Status:   uint32(StatusOK),
			Params:   []uint32{1, 2, 3},
		})
	})

	out := make([]uint32, 1)
	n, err := p.transaction(1, 1, nil, out, time.Second)
	assert.ErrorIs(t, err, StatusLargeResp)
	assert.Equal(t, 1, n)
	assert.Equal(t, uint32(1), out[0])
}
