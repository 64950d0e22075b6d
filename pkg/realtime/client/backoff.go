package client

import (
	"time"

	"github.com/cenkalti/backoff/v5"
)

// DefaultSchedule is the reconnect delay sequence. The last entry repeats.
var DefaultSchedule = []time.Duration{0, 2 * time.Second, 10 * time.Second, 30 * time.Second}

// ScheduleBackOff walks a fixed delay table and then holds its last value.
type ScheduleBackOff struct {
	delays []time.Duration
	next   int
}

var _ backoff.BackOff = (*ScheduleBackOff)(nil)

func NewScheduleBackOff(delays ...time.Duration) *ScheduleBackOff {
	if len(delays) == 0 {
		delays = DefaultSchedule
	}
	return &ScheduleBackOff{delays: append([]time.Duration(nil), delays...)}
}

func (s *ScheduleBackOff) NextBackOff() time.Duration {
	i := s.next
	if i >= len(s.delays) {
		i = len(s.delays) - 1
	} else {
		s.next++
	}
	return s.delays[i]
}

func (s *ScheduleBackOff) Reset() {
	s.next = 0
}
