package wire

import "github.com/axonlink/axonlink/pkg/buserr"

// DamageKind classifies link damage seen by the Scanner.
type DamageKind = buserr.Code

// babbleLimit is the stray run length that gets flagged as babble: twice
// the maximum frame length without a start-of-packet marker means the line
// is carrying garbage, not a torn frame.
const babbleLimit = 2 * MaxFrameLen

// Scanner reassembles frames from a raw octet stream, one byte at a time.
//
// The scanner never fails permanently: any octet with the start marker set
// abandons whatever was in progress (flagging it as a fragment) and opens a
// fresh frame, so a damaged stream always resynchronizes on the next frame
// boundary. It holds no locks and is driven solely by the reader.
type Scanner struct {
	// OnFrame receives each completed, checksum-verified frame together
	// with its raw octets (for trace capture).
	OnFrame func(f Frame, raw []byte)

	// OnDamage receives link damage notifications for diagnostic
	// accounting: Fragment, BadChecksum, StrayData, Babble.
	OnDamage func(kind DamageKind, octets int)

	buf      [MaxFrameLen]byte
	n        int  // octets collected for the current frame
	want     int  // total octets the current frame needs, 0 before header
	inFrame  bool
	strayRun int
}

// Feed processes one received octet.
func (s *Scanner) Feed(b byte) {
	if IsStart(b) {
		if s.inFrame {
			s.damage(buserr.Fragment, s.n)
		}
		s.flushStray()
		s.buf[0] = b
		s.n = 1
		s.want = 0
		s.inFrame = true
		return
	}

	if !s.inFrame {
		s.strayRun++
		if s.strayRun >= babbleLimit {
			s.damage(buserr.Babble, s.strayRun)
			s.strayRun = 0
		}
		return
	}

	s.buf[s.n] = b
	s.n++

	if s.n == HeaderLen {
		_, t, _, _, wireLen := parseHeader(s.buf[0], s.buf[1])
		s.want = HeaderLen + wireLen
		if t.FlowControlled() {
			s.want++
		}
	}

	if s.want != 0 && s.n == s.want {
		s.finish()
	}
}

// FeedAll processes a run of received octets.
func (s *Scanner) FeedAll(p []byte) {
	for _, b := range p {
		s.Feed(b)
	}
}

func (s *Scanner) finish() {
	raw := s.buf[:s.n]
	s.inFrame = false
	s.n = 0

	f, err := Decode(raw)
	if err != nil {
		s.damage(buserr.CodeOf(err), len(raw))
		return
	}
	if s.OnFrame != nil {
		s.OnFrame(f, raw)
	}
}

func (s *Scanner) flushStray() {
	if s.strayRun > 0 {
		s.damage(buserr.StrayData, s.strayRun)
		s.strayRun = 0
	}
}

func (s *Scanner) damage(kind DamageKind, octets int) {
	if s.OnDamage != nil {
		s.OnDamage(kind, octets)
	}
}
