package music

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// IdleMonitor keeps at most one pending disconnect timer per session.
type IdleMonitor struct {
	mu     sync.Mutex
	clock  Clock
	seq    uint64
	timers map[*Session]idleTimer
}

type idleTimer struct {
	token uint64
	timer Timer
}

func NewIdleMonitor(clock Clock) *IdleMonitor {
	if clock == nil {
		clock = realClock{}
	}
	return &IdleMonitor{clock: clock, timers: make(map[*Session]idleTimer)}
}

// Arm replaces any pending timer for s with a new one firing after delay.
func (m *IdleMonitor) Arm(s *Session, delay time.Duration) {
	if delay <= 0 {
		delay = DefaultIdleTimeout
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if pending, ok := m.timers[s]; ok {
		pending.timer.Stop()
	}
	m.seq++
	token := m.seq
	m.timers[s] = idleTimer{
		token: token,
		timer: m.clock.AfterFunc(delay, func() { m.expire(s, token) }),
	}
	s.logger.Debug("idle timer armed", zap.Duration("delay", delay))
}

func (m *IdleMonitor) Cancel(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pending, ok := m.timers[s]
	if !ok {
		return
	}
	pending.timer.Stop()
	delete(m.timers, s)
	s.logger.Debug("idle timer canceled")
}

func (m *IdleMonitor) Pending(s *Session) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.timers[s]
	return ok
}

func (m *IdleMonitor) expire(s *Session, token uint64) {
	m.mu.Lock()
	pending, ok := m.timers[s]
	m.mu.Unlock()
	if !ok || pending.token != token {
		return
	}
	s.post(func() { s.idleExpired(token) })
}

// claim consumes the timer identified by token. It fails when the timer was
// canceled or re-armed after it fired.
func (m *IdleMonitor) claim(s *Session, token uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	pending, ok := m.timers[s]
	if !ok || pending.token != token {
		return false
	}
	delete(m.timers, s)
	return true
}
