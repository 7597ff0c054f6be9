package link

import (
	"sync"
	"time"

	"github.com/axonlink/axonlink/internal/logger"
	"github.com/axonlink/axonlink/internal/protocol/wire"
	"github.com/axonlink/axonlink/pkg/buserr"
	"github.com/axonlink/axonlink/pkg/multiaddr"
)

// heartbeatFailLimit is how many consecutive keep-alive failures demote an
// online network to Broken.
const heartbeatFailLimit = 2

// poller is the per-network background worker: liveness reads when the
// link is otherwise idle, tracker slot sweeps, and watchdog keep-alives.
type poller struct {
	n *Network

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	wg      sync.WaitGroup

	nextNode  int
	hbFails   int
}

func newPoller(n *Network) *poller {
	return &poller{n: n}
}

func (p *poller) start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	p.running = true
	p.stop = make(chan struct{})
	p.hbFails = 0
	p.wg.Add(1)
	go p.run(p.stop)
}

func (p *poller) stopAndWait() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stop)
	p.mu.Unlock()
	p.wg.Wait()
}

// Running reports whether the worker is active.
func (p *poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *poller) run(stop chan struct{}) {
	defer p.wg.Done()

	interval := p.n.cfg.PollInterval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		if !p.n.Online() {
			continue
		}

		p.n.Tracker.Sweep(time.Now())

		idleFor := time.Since(time.Unix(0, p.n.lastTraffic.Load()))
		if idleFor > 4*interval {
			p.keepAlive()
		}

		if p.n.cfg.WatchdogKeepAlive {
			_ = p.n.WriteFrame(wire.HostAliveFrame(), zeroID())
		}
	}
}

// keepAlive issues a cheap status read to one node per tick, round robin.
// Two consecutive failures mean the link is gone.
func (p *poller) keepAlive() {
	count := p.n.NodeCount()
	if count == 0 {
		return
	}
	addr := p.nextNode % count
	p.nextNode++

	_, err := p.n.runRaw(uint8(addr), wire.GetParamCmd(wire.BankCore, wire.ParamStatusRT),
		p.n.cfg.ReadDeadline)
	if err == nil {
		p.hbFails = 0
		return
	}

	p.hbFails++
	logger.Warn("keep-alive read failed",
		logger.KeyNet, p.n.Index, logger.KeyNode, addr,
		logger.KeyAttempt, p.hbFails, logger.KeyError, err.Error())
	if p.hbFails >= heartbeatFailLimit {
		p.hbFails = 0
		go p.n.markBroken(buserr.New(multiaddr.New(p.n.Index, addr), buserr.CommandTimeout))
	}
}
