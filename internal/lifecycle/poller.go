package lifecycle

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Poller issues status queries for one accepted scan. Each poller belongs to
// a single epoch; responses are tagged with the epoch and a sequence number
// so that the controller can drop anything stale.
type Poller struct {
	ctrl     *Controller
	epoch    uint64
	interval time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	seq       atomic.Uint64
	startOnce sync.Once
	stopOnce  sync.Once
	done      chan struct{}
}

func newPoller(ctrl *Controller, epoch uint64) *Poller {
	ctx, cancel := context.WithCancel(context.Background())
	return &Poller{
		ctrl:     ctrl,
		epoch:    epoch,
		interval: ctrl.cfg.Interval,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

// Epoch returns the generation this poller belongs to.
func (p *Poller) Epoch() uint64 {
	return p.epoch
}

// Done is closed once the polling loop has exited.
func (p *Poller) Done() <-chan struct{} {
	return p.done
}

// start launches the polling loop. The first query fires after one interval.
func (p *Poller) start() {
	p.startOnce.Do(func() {
		go p.run()
	})
}

// Stop ends polling and waits for the loop to exit. It is safe to call more
// than once and on a poller that was never started.
func (p *Poller) Stop() {
	p.cancel()
	p.stopOnce.Do(func() {
		p.startOnce.Do(func() { close(p.done) })
	})
	<-p.done
}

func (p *Poller) run() {
	defer close(p.done)

	timer := time.NewTimer(p.interval)
	defer timer.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-timer.C:
		}

		next, finished := p.tick()
		if finished {
			return
		}
		timer.Reset(next)
	}
}

// tick performs one status query and hands the outcome to the controller.
func (p *Poller) tick() (time.Duration, bool) {
	seq := p.seq.Add(1)

	started := time.Now()
	resp, err := p.ctrl.api.Status(p.ctx)
	p.ctrl.metrics.RecordPollDuration(time.Since(started))

	if p.ctx.Err() != nil {
		return 0, true
	}
	if err != nil {
		return p.ctrl.applyFailure(p.epoch, seq, err)
	}
	return p.ctrl.applyStatus(p.epoch, seq, resp)
}
