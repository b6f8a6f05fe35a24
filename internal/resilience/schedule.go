package resilience

import (
	"time"

	"github.com/rotisserie/eris"
)

// Schedule is a fixed retry ladder for deferred work: entry i is the delay
// applied after the (i+1)th failure. Once the ladder is exhausted the work is
// given up on.
type Schedule []time.Duration

// DefaultSchedule is the queue's 1m / 5m / 15m ladder.
func DefaultSchedule() Schedule {
	return Schedule{time.Minute, 5 * time.Minute, 15 * time.Minute}
}

// Next returns the delay for a failure that happens after priorFailures
// earlier failures, and false when no retry remains.
func (s Schedule) Next(priorFailures int) (time.Duration, bool) {
	if priorFailures < 0 || priorFailures >= len(s) {
		return 0, false
	}
	return s[priorFailures], true
}

// MaxAttempts is the total number of attempts the schedule allows.
func (s Schedule) MaxAttempts() int {
	return len(s) + 1
}

// Validate rejects empty ladders and non-positive or decreasing steps.
func (s Schedule) Validate() error {
	if len(s) == 0 {
		return eris.New("resilience: retry schedule is empty")
	}
	for i, d := range s {
		if d <= 0 {
			return eris.Errorf("resilience: retry schedule step %d is not positive (%s)", i, d)
		}
		if i > 0 && d < s[i-1] {
			return eris.Errorf("resilience: retry schedule step %d (%s) is shorter than step %d (%s)", i, d, i-1, s[i-1])
		}
	}
	return nil
}

// ParseSchedule parses duration strings such as "1m", "5m", "15m".
func ParseSchedule(steps []string) (Schedule, error) {
	s := make(Schedule, 0, len(steps))
	for _, step := range steps {
		d, err := time.ParseDuration(step)
		if err != nil {
			return nil, eris.Wrapf(err, "resilience: parse retry schedule step %q", step)
		}
		s = append(s, d)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}
