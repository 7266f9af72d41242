package history

import "time"

// Clock supplies the current time in microseconds since the Unix epoch,
// the unit every stored timestamp uses. Injecting it keeps batch-time and
// ranking semantics deterministic under test.
type Clock interface {
	NowMicros() int64
}

// SystemClock reads the wall clock.
type SystemClock struct{}

// NowMicros returns the current wall-clock time in microseconds.
func (SystemClock) NowMicros() int64 {
	return time.Now().UnixMicro()
}
