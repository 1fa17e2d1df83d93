package efw

import (
	"context"
	"sync"
	"time"
)

/*------------------------------------------------------------------
 *
 * Purpose:	Correlate request to response across the caller thread
 *		and the dispatch thread (spec section 4.E). Replaces the
 *		source's GObject "responded" signal fan-out with an
 *		explicit waiter registry — a map held by the protocol
 *		instance, mutated under its own lock (spec section 9).
 *
 *------------------------------------------------------------------*/

// statusUnset is the sentinel a waiter's status holds until a matching
// response is delivered. It is distinct from every legal Status value
// (spec section 4.E step 1), so a spurious wakeup can never be mistaken
// for a real response.
const statusUnset Status = 0xFFFFFFFF

// waiter is the per-in-flight-transaction record from spec section 3.
// It is owned by the calling goroutine's stack frame; the dispatcher
// holds only a registry entry for the duration of delivery.
type waiter struct {
	seqNum   uint32
	category uint32
	command  uint32

	mu         sync.Mutex
	cond       *sync.Cond
	status     Status
	params     []uint32
	paramCount int // full response param count, before truncation to capacity
	capacity   int
	timedOut   bool
}

func newWaiter(seqNum, category, command uint32, capacity int) *waiter {
	w := &waiter{
		seqNum:   seqNum,
		category: category,
		command:  command,
		status:   statusUnset,
		capacity: capacity,
	}
	w.cond = sync.NewCond(&w.mu)
	return w
}

// Protocol is the transaction core: it owns the sequence allocator and
// the waiter registry, and exposes the single `transaction` operation
// every command in the command surface (commands.go) builds on.
type Protocol struct {
	transport Transport
	seq       *seqAllocator
	disp      *dispatcher

	mu      sync.Mutex
	waiters map[uint32]*waiter
}

// NewProtocol constructs a Protocol bound to transport. seqMax is the
// device's declared user-seqnum ceiling (spec section 3).
func NewProtocol(transport Transport, seqMax uint32) *Protocol {
	p := &Protocol{
		transport: transport,
		seq:       newSeqAllocator(seqMax),
		waiters:   make(map[uint32]*waiter),
	}
	p.disp = newDispatcher(transport, p.onResponse)
	return p
}

// Start reserves the response window and starts the dispatch loop.
func (p *Protocol) Start() error {
	if err := p.transport.Reserve(ResponseAddr, ResponseSize); err != nil {
		return err
	}
	p.disp.start()
	return nil
}

// Stop joins the dispatch loop. Safe to call once, after Start.
func (p *Protocol) Stop() {
	p.disp.stop()
}

// transaction is the operation from spec section 4.E: encode and send a
// request, block for the matching response (or timeout), and return its
// params truncated to len(paramsOut).
func (p *Protocol) transaction(category, command uint32, args []uint32, paramsOut []uint32, timeout time.Duration) (int, error) {
	reqSeq, respSeq := p.seq.alloc()

	w := newWaiter(respSeq, category, command, len(paramsOut))
	p.subscribe(w)
	defer p.unsubscribe(respSeq)

	deadline := time.Now().Add(timeout)

	frame := Frame{SeqNum: reqSeq, Category: category, Command: command, Params: args}
	encoded, err := frame.Encode()
	if err != nil {
		return 0, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := p.transport.WriteBlock(ctx, CommandAddr, encoded); err != nil {
		return 0, err
	}

	status, params, paramCount, ok := w.waitUntil(deadline)
	if !ok {
		return 0, StatusTimeout
	}
	if status != StatusOK {
		return 0, &ProtocolError{Category: category, Command: command, Status: status}
	}
	n := copy(paramsOut, params)
	if paramCount > len(paramsOut) {
		return n, StatusLargeResp
	}
	return n, nil
}

// waitUntil blocks on the waiter's condition variable until its status
// becomes non-sentinel or deadline passes (spec section 4.E step 5).
// The deadline is enforced by a timer that broadcasts the same cond,
// so no goroutine is left blocked on a response that never arrives.
func (w *waiter) waitUntil(deadline time.Time) (Status, []uint32, int, bool) {
	timer := time.AfterFunc(time.Until(deadline), func() {
		w.mu.Lock()
		if w.status == statusUnset {
			w.timedOut = true
			w.cond.Broadcast()
		}
		w.mu.Unlock()
	})
	defer timer.Stop()

	w.mu.Lock()
	for w.status == statusUnset && !w.timedOut {
		w.cond.Wait()
	}
	status, params, paramCount, timedOut := w.status, w.params, w.paramCount, w.timedOut
	w.mu.Unlock()

	if status == statusUnset && timedOut {
		return 0, nil, 0, false
	}
	return status, params, paramCount, true
}

func (p *Protocol) subscribe(w *waiter) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.waiters[w.seqNum] = w
}

func (p *Protocol) unsubscribe(seqNum uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.waiters, seqNum)
}

// onResponse runs on the dispatch thread: find the subscribed waiter
// for this frame's seqnum (if any) and deliver it, per spec section
// 4.E's response-delivery rules.
func (p *Protocol) onResponse(f Frame) {
	p.mu.Lock()
	w, ok := p.waiters[f.SeqNum]
	p.mu.Unlock()
	if !ok {
		return // unsubscribed seqnum: silently dropped (spec section 5)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if f.Category != w.category || f.Command != w.command {
		w.status = StatusBad
		w.cond.Signal()
		return
	}
	w.paramCount = len(f.Params)
	n := w.paramCount
	if n > w.capacity {
		n = w.capacity
	}
	w.params = append([]uint32(nil), f.Params[:n]...)
	w.status = clampStatus(f.Status)
	w.cond.Signal()
}
