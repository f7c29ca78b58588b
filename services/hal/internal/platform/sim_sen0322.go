// services/hal/internal/platform/sim_sen0322.go
package platform

import (
	"math"
	"sync"

	"github.com/pkg/errors"

	o2 "o2hal/drivers/sen0322"
)

// ErrSimNack is returned by simulated devices for injected faults.
var ErrSimNack = errors.New("sim: nack")

// SimSEN0322 models the sensor's register interface. A write of [reg, 0x00]
// selects reg; a write-then-read of [0x05] returns the key byte; a bare read
// returns the next oxygen frame.
type SimSEN0322 struct {
	mu sync.Mutex

	percent float64
	key     byte
	raw16   bool
	frames  [][]byte

	failWrite map[byte]int // remaining failures, <0 = forever
	failRead  map[byte]int
	selected  byte
	txns      int
}

// NewSimSEN0322 returns a sensor reading percent with calibration byte key.
func NewSimSEN0322(percent float64, key byte) *SimSEN0322 {
	return &SimSEN0322{
		percent:   percent,
		key:       key,
		failWrite: map[byte]int{},
		failRead:  map[byte]int{},
	}
}

// SetPercent changes the simulated concentration.
func (s *SimSEN0322) SetPercent(v float64) {
	s.mu.Lock()
	s.percent = v
	s.mu.Unlock()
}

// SetRaw16 switches frame generation to the two-byte encoding.
func (s *SimSEN0322) SetRaw16(on bool) {
	s.mu.Lock()
	s.raw16 = on
	s.mu.Unlock()
}

// QueueFrames scripts raw oxygen frames returned before generated ones.
func (s *SimSEN0322) QueueFrames(frames ...[]byte) {
	s.mu.Lock()
	for _, f := range frames {
		s.frames = append(s.frames, append([]byte(nil), f...))
	}
	s.mu.Unlock()
}

// FailWrites makes the next n writes to reg fail; n < 0 fails forever and
// n == 0 clears the fault.
func (s *SimSEN0322) FailWrites(reg byte, n int) {
	s.mu.Lock()
	s.failWrite[reg] = n
	s.mu.Unlock()
}

// FailReads is FailWrites for reads of reg. Bare frame reads count as reads
// of the oxygen-data register.
func (s *SimSEN0322) FailReads(reg byte, n int) {
	s.mu.Lock()
	s.failRead[reg] = n
	s.mu.Unlock()
}

// Transactions reports how many Tx calls reached the device.
func (s *SimSEN0322) Transactions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.txns
}

func (s *SimSEN0322) Tx(addr uint16, w, r []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txns++

	switch {
	case len(w) == 2 && len(r) == 0:
		if fault(s.failWrite, w[0]) {
			return errors.Wrapf(ErrSimNack, "write 0x%02X", w[0])
		}
		s.selected = w[0]
		return nil
	case len(w) == 1 && len(r) == 1:
		if fault(s.failRead, w[0]) {
			return errors.Wrapf(ErrSimNack, "read 0x%02X", w[0])
		}
		if w[0] == o2.RegKey {
			r[0] = s.key
		} else {
			r[0] = 0
		}
		return nil
	case len(w) == 0 && len(r) > 0:
		if fault(s.failRead, o2.RegOxygenData) {
			return errors.Wrap(ErrSimNack, "read frame")
		}
		for i := range r {
			r[i] = 0
		}
		copy(r, s.nextFrame())
		return nil
	}
	return errors.Errorf("sim: unsupported transaction w=%d r=%d", len(w), len(r))
}

func fault(m map[byte]int, reg byte) bool {
	n := m[reg]
	switch {
	case n == 0:
		return false
	case n > 0:
		m[reg] = n - 1
	}
	return true
}

func (s *SimSEN0322) nextFrame() []byte {
	if len(s.frames) > 0 {
		f := s.frames[0]
		s.frames = s.frames[1:]
		return f
	}
	if s.raw16 {
		v := uint16(math.Round(s.percent * 100))
		return []byte{byte(v), byte(v >> 8)}
	}
	return fixedPointFrame(s.percent, o2.KeyFactor(s.key))
}

// fixedPointFrame encodes percent so that key*(a + b/10 + c/100) reproduces
// it to the nearest hundredth of a raw unit.
func fixedPointFrame(percent, key float64) []byte {
	hundredths := int(math.Round(percent / key * 100))
	if hundredths < 0 {
		hundredths = 0
	}
	a := hundredths / 100
	if a > 0xFF {
		a = 0xFF
	}
	rest := hundredths % 100
	return []byte{byte(a), byte(rest / 10), byte(rest % 10)}
}
