package queue

// LatencyRing is a fixed-capacity ring buffer of latency samples in
// milliseconds. Once full, new samples overwrite the oldest. It is not safe
// for concurrent use; callers hold the owning conversation's lock.
type LatencyRing struct {
	samples []float64
	next    int
	count   int
}

// NewLatencyRing creates a ring holding at most capacity samples
func NewLatencyRing(capacity int) *LatencyRing {
	if capacity < 1 {
		capacity = 1
	}
	return &LatencyRing{samples: make([]float64, capacity)}
}

// Add records a latency sample, evicting the oldest when full
func (r *LatencyRing) Add(ms float64) {
	r.samples[r.next] = ms
	r.next = (r.next + 1) % len(r.samples)
	if r.count < len(r.samples) {
		r.count++
	}
}

// Count returns the number of samples currently held
func (r *LatencyRing) Count() int {
	return r.count
}

// Average returns the mean of the held samples, 0 when empty
func (r *LatencyRing) Average() float64 {
	if r.count == 0 {
		return 0
	}

	var sum float64
	for i := 0; i < r.count; i++ {
		sum += r.samples[i]
	}
	return sum / float64(r.count)
}

// Max returns the largest held sample, 0 when empty
func (r *LatencyRing) Max() float64 {
	var max float64
	for i := 0; i < r.count; i++ {
		if r.samples[i] > max {
			max = r.samples[i]
		}
	}
	return max
}
