package packet

import "time"

var epoch = time.Now()

// Ticks is the timestamp written into capture and sent header slots:
// nanoseconds on the monotonic clock since process start.
func Ticks() uint64 {
	return uint64(time.Since(epoch))
}
