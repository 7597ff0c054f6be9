//go:build linux

package serial

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// termios2 mirrors the kernel struct of the same name. The classic termios
// interface only knows the enumerated Bxxxx rates; the fieldbus top rate is
// not among them, so all rate setting goes through termios2 with BOTHER and
// explicit input/output speeds.
type termios2 struct {
	Iflag  uint32
	Oflag  uint32
	Cflag  uint32
	Lflag  uint32
	Line   byte
	Cc     [19]byte
	Ispeed uint32
	Ospeed uint32
}

const (
	tcgets2 = 0x802C542A
	tcsets2 = 0x402C542B
)

// linuxPort is the production Port backed by a tty file descriptor.
type linuxPort struct {
	fd        int
	name      string
	timeoutMs atomic.Int64

	// wakeR/wakeW form the self-pipe that unblocks a poll-ed Read when
	// the port closes.
	wakeR, wakeW int

	closeOnce sync.Once
	closed    atomic.Bool

	writeMu sync.Mutex
}

// OpenPort opens a tty in raw 8N1 mode at the given rate.
func OpenPort(name string, rate int) (Port, error) {
	fd, err := unix.Open(name, unix.O_RDWR|unix.O_NOCTTY, 0)
	if err != nil {
		return nil, fmt.Errorf("serial: open %s: %w", name, err)
	}

	var pipeFds [2]int
	if err := unix.Pipe2(pipeFds[:], unix.O_CLOEXEC|unix.O_NONBLOCK); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("serial: wake pipe: %w", err)
	}

	p := &linuxPort{
		fd:    fd,
		name:  name,
		wakeR: pipeFds[0],
		wakeW: pipeFds[1],
	}
	if err := p.configure(rate); err != nil {
		p.Close()
		return nil, err
	}
	return p, nil
}

// configure puts the line into raw mode at the requested rate.
func (p *linuxPort) configure(rate int) error {
	t, err := p.getAttr()
	if err != nil {
		return err
	}

	// raw 8N1, no flow control
	t.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP |
		unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON | unix.IXOFF
	t.Oflag &^= unix.OPOST
	t.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	t.Cflag &^= unix.CSIZE | unix.PARENB | unix.CSTOPB | unix.CRTSCTS
	t.Cflag |= unix.CS8 | unix.CLOCAL | unix.CREAD

	t.Cc[unix.VMIN] = 1
	t.Cc[unix.VTIME] = 0

	t.Cflag &^= unix.CBAUD
	t.Cflag |= unix.BOTHER
	t.Ispeed = uint32(rate)
	t.Ospeed = uint32(rate)

	return p.setAttr(t)
}

func (p *linuxPort) getAttr() (*termios2, error) {
	var t termios2
	if err := p.ioctl(tcgets2, unsafe.Pointer(&t)); err != nil {
		return nil, fmt.Errorf("serial: TCGETS2 %s: %w", p.name, err)
	}
	return &t, nil
}

func (p *linuxPort) setAttr(t *termios2) error {
	if err := p.ioctl(tcsets2, unsafe.Pointer(t)); err != nil {
		return fmt.Errorf("serial: TCSETS2 %s: %w", p.name, err)
	}
	return nil
}

func (p *linuxPort) ioctl(req uintptr, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(p.fd), req, uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}

func (p *linuxPort) Read(buf []byte) (int, error) {
	for {
		if p.closed.Load() {
			return 0, ErrClosed
		}

		timeout := int(-1)
		if ms := p.timeoutMs.Load(); ms > 0 {
			timeout = int(ms)
		}

		fds := []unix.PollFd{
			{Fd: int32(p.fd), Events: unix.POLLIN},
			{Fd: int32(p.wakeR), Events: unix.POLLIN},
		}
		n, err := unix.Poll(fds, timeout)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("serial: poll %s: %w", p.name, err)
		}
		if n == 0 {
			return 0, ErrTimeout
		}
		if fds[1].Revents != 0 || p.closed.Load() {
			return 0, ErrClosed
		}
		if fds[0].Revents&(unix.POLLERR|unix.POLLHUP) != 0 {
			return 0, ErrClosed
		}

		nr, err := unix.Read(p.fd, buf)
		if err == unix.EINTR || err == unix.EAGAIN {
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("serial: read %s: %w", p.name, err)
		}
		if nr == 0 {
			continue
		}
		return nr, nil
	}
}

func (p *linuxPort) Write(buf []byte) (int, error) {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	if p.closed.Load() {
		return 0, ErrClosed
	}
	total := 0
	for total < len(buf) {
		n, err := unix.Write(p.fd, buf[total:])
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return total, fmt.Errorf("serial: write %s: %w", p.name, err)
		}
		total += n
	}
	return total, nil
}

func (p *linuxPort) SetBaud(rate int) error {
	if p.closed.Load() {
		return ErrClosed
	}
	t, err := p.getAttr()
	if err != nil {
		return err
	}
	t.Cflag &^= unix.CBAUD
	t.Cflag |= unix.BOTHER
	t.Ispeed = uint32(rate)
	t.Ospeed = uint32(rate)
	return p.setAttr(t)
}

// SendBreak holds TX in the spacing state for d. The TCSBRKP granularity is
// too coarse for the link's timing, so the break is driven directly.
func (p *linuxPort) SendBreak(d time.Duration) error {
	if p.closed.Load() {
		return ErrClosed
	}
	if err := p.ioctl(unix.TIOCSBRK, nil); err != nil {
		return fmt.Errorf("serial: set break %s: %w", p.name, err)
	}
	time.Sleep(d)
	if err := p.ioctl(unix.TIOCCBRK, nil); err != nil {
		return fmt.Errorf("serial: clear break %s: %w", p.name, err)
	}
	return nil
}

func (p *linuxPort) Flush() error {
	if p.closed.Load() {
		return ErrClosed
	}
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(p.fd), unix.TCFLSH, uintptr(unix.TCIOFLUSH))
	if errno != 0 {
		return fmt.Errorf("serial: flush %s: %w", p.name, errno)
	}
	return nil
}

func (p *linuxPort) SetReadTimeout(d time.Duration) {
	p.timeoutMs.Store(d.Milliseconds())
}

func (p *linuxPort) Close() error {
	p.closeOnce.Do(func() {
		p.closed.Store(true)
		// wake any blocked reader before tearing the fds down
		_, _ = unix.Write(p.wakeW, []byte{0})
		unix.Close(p.fd)
		unix.Close(p.wakeR)
		unix.Close(p.wakeW)
	})
	return nil
}
