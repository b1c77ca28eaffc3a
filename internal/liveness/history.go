package liveness

// History is a fixed-capacity FIFO of samples. Pushing onto a full history
// evicts the oldest sample.
type History struct {
	buf   []float64
	start int
	n     int
}

// NewHistory creates an empty history holding at most capacity samples
func NewHistory(capacity int) *History {
	if capacity < 1 {
		capacity = 1
	}
	return &History{buf: make([]float64, capacity)}
}

// Push appends v, evicting the oldest sample when full
func (h *History) Push(v float64) {
	if h.n < len(h.buf) {
		h.buf[(h.start+h.n)%len(h.buf)] = v
		h.n++
		return
	}
	h.buf[h.start] = v
	h.start = (h.start + 1) % len(h.buf)
}

// Len returns the number of retained samples
func (h *History) Len() int {
	return h.n
}

// Cap returns the capacity
func (h *History) Cap() int {
	return len(h.buf)
}

// At returns the i-th retained sample, 0 being the oldest
func (h *History) At(i int) float64 {
	return h.buf[(h.start+i)%len(h.buf)]
}

// Oldest returns the oldest retained sample
func (h *History) Oldest() float64 {
	return h.At(0)
}

// Newest returns the most recent sample
func (h *History) Newest() float64 {
	return h.At(h.n - 1)
}

// Values copies the retained samples, oldest first
func (h *History) Values() []float64 {
	out := make([]float64, h.n)
	for i := range out {
		out[i] = h.At(i)
	}
	return out
}

// Reset drops all samples
func (h *History) Reset() {
	h.start, h.n = 0, 0
}
