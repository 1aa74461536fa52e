package core

import "time"

const AVG_COUNT uint8 = 30

// RollingAverage keeps the mean of the last AVG_COUNT samples. The zero value is
// ready to use.
type RollingAverage struct {
	samples [AVG_COUNT]time.Duration
	counter uint8
	filled  uint8
	total   uint64
}

func (r *RollingAverage) Add(sample time.Duration) {
	r.samples[r.counter] = sample
	r.counter++
	r.counter %= AVG_COUNT
	if r.filled < AVG_COUNT {
		r.filled++
	}
	r.total++
}

func (r *RollingAverage) Average() time.Duration {
	if r.filled == 0 {
		return 0
	}
	var sum time.Duration
	for i := uint8(0); i < r.filled; i++ {
		sum += r.samples[i]
	}
	return sum / time.Duration(r.filled)
}

// Count is the number of samples ever added.
func (r *RollingAverage) Count() uint64 {
	return r.total
}

func (r *RollingAverage) Reset() {
	*r = RollingAverage{}
}
