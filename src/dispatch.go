package efw

import "sync"

/*------------------------------------------------------------------
 *
 * Purpose:	Single-threaded dispatch loop delivering inbound response
 *		frames to the transaction core (spec section 4.D). The
 *		source runs a glib main-context on a dedicated thread;
 *		the teacher's kissserial.go instead spawns a goroutine
 *		with `go kissserial_listen_thread()`. This loop follows
 *		that shape but rendezvous on start/stop through a
 *		WaitGroup and a closed channel rather than a condition
 *		variable, since Go's channels make the "started before
 *		return" and "stopped then joined" guarantees simpler to
 *		express.
 *
 *------------------------------------------------------------------*/

// dispatcher reads inbound frame bytes from a Transport and hands each
// decoded Frame to a delivery callback, all on one goroutine.
type dispatcher struct {
	transport Transport
	deliver   func(Frame)

	running chan struct{} // closed once the loop goroutine is running
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

func newDispatcher(t Transport, deliver func(Frame)) *dispatcher {
	return &dispatcher{
		transport: t,
		deliver:   deliver,
		running:   make(chan struct{}),
		stopCh:    make(chan struct{}),
	}
}

// start launches the dispatch goroutine and does not return until the
// loop has begun running, per spec section 4.D's startup rendezvous.
func (d *dispatcher) start() {
	d.wg.Add(1)
	go d.loop()
	<-d.running
}

// stop requests the loop to quit and joins the goroutine before
// returning, per spec section 4.D's shutdown rendezvous.
func (d *dispatcher) stop() {
	close(d.stopCh)
	d.wg.Wait()
}

func (d *dispatcher) loop() {
	defer d.wg.Done()
	close(d.running)
	inbound := d.transport.Inbound()
	for {
		select {
		case <-d.stopCh:
			return
		case raw, ok := <-inbound:
			if !ok {
				return
			}
			frame, err := DecodeFrame(raw)
			if err != nil {
				// Malformed inbound frame: drop it silently, same as an
				// unsubscribed seqnum (spec section 4.E).
				continue
			}
			d.deliver(frame)
		}
	}
}
