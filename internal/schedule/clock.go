package schedule

import "time"

// Clock abstracts the parts of package time the loop depends on, so
// tests can control apparent time.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type wallClock struct{}

func (wallClock) Now() time.Time {
	return time.Now()
}

func (wallClock) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}

// WallClock is the real-time Clock used unless WithClock overrides it.
var WallClock Clock = wallClock{}

// untilNextSecond returns how long to sleep to reach the top of the next
// whole second.
func untilNextSecond(now time.Time) time.Duration {
	return now.Truncate(time.Second).Add(time.Second).Sub(now)
}
