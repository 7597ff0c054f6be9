package serial

import (
	"sync"
	"time"
)

// Pipe returns two connected in-memory ports: octets written to one side
// become readable on the other. The host side of a test holds one end; a
// ring simulator holds the other. Baud changes and breaks are recorded so
// simulators can react to them.
func Pipe() (*PipePort, *PipePort) {
	a := newPipePort()
	b := newPipePort()
	a.peer, b.peer = b, a
	return a, b
}

// PipePort is one end of an in-memory serial pair.
type PipePort struct {
	peer *PipePort

	mu      sync.Mutex
	cond    *sync.Cond
	buf     []byte
	closed  bool
	rate    int
	timeout time.Duration

	// OnBaud, OnBreak, and OnWrite let a simulator observe line events.
	// OnWrite runs on the writer's goroutine after the octets are queued.
	OnBaud  func(rate int)
	OnBreak func(d time.Duration)
	OnWrite func(p []byte)
}

func newPipePort() *PipePort {
	p := &PipePort{rate: 9600}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Rate returns the last rate set on this end.
func (p *PipePort) Rate() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rate
}

// push enqueues octets for this end's reader.
func (p *PipePort) push(data []byte) {
	p.mu.Lock()
	if !p.closed {
		p.buf = append(p.buf, data...)
	}
	p.cond.Broadcast()
	p.mu.Unlock()
}

func (p *PipePort) Read(buf []byte) (int, error) {
	deadline := time.Time{}

	p.mu.Lock()
	if p.timeout > 0 {
		deadline = time.Now().Add(p.timeout)
		// wake the wait loop when the deadline passes
		timer := time.AfterFunc(p.timeout, func() {
			p.mu.Lock()
			p.cond.Broadcast()
			p.mu.Unlock()
		})
		defer timer.Stop()
	}
	defer p.mu.Unlock()

	for len(p.buf) == 0 {
		if p.closed {
			return 0, ErrClosed
		}
		if !deadline.IsZero() && !time.Now().Before(deadline) {
			return 0, ErrTimeout
		}
		p.cond.Wait()
	}
	n := copy(buf, p.buf)
	p.buf = p.buf[n:]
	return n, nil
}

func (p *PipePort) Write(data []byte) (int, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0, ErrClosed
	}
	onWrite := p.OnWrite
	p.mu.Unlock()

	if p.peer != nil {
		p.peer.push(data)
	}
	if onWrite != nil {
		onWrite(append([]byte(nil), data...))
	}
	return len(data), nil
}

func (p *PipePort) SetBaud(rate int) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	p.rate = rate
	onBaud := p.OnBaud
	p.mu.Unlock()

	if onBaud != nil {
		onBaud(rate)
	}
	return nil
}

func (p *PipePort) SendBreak(d time.Duration) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	onBreak := p.OnBreak
	p.mu.Unlock()

	if onBreak != nil {
		onBreak(d)
	}
	return nil
}

func (p *PipePort) Flush() error {
	p.mu.Lock()
	p.buf = nil
	p.mu.Unlock()
	return nil
}

func (p *PipePort) SetReadTimeout(d time.Duration) {
	p.mu.Lock()
	p.timeout = d
	p.mu.Unlock()
}

func (p *PipePort) Close() error {
	p.mu.Lock()
	p.closed = true
	p.cond.Broadcast()
	p.mu.Unlock()

	// unblock the peer's reader as well
	if p.peer != nil {
		p.peer.mu.Lock()
		p.peer.closed = true
		p.peer.cond.Broadcast()
		p.peer.mu.Unlock()
	}
	return nil
}
