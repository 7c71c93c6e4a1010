package input

import "sync"

// SplatQueue holds pending requests for bursts of random splats. The most
// recent request is served first, one per frame.
type SplatQueue struct {
	mu      sync.Mutex
	pending []int
}

// Push requests n random splats.
func (q *SplatQueue) Push(n int) {
	if n <= 0 {
		return
	}
	q.mu.Lock()
	q.pending = append(q.pending, n)
	q.mu.Unlock()
}

// Pop removes the newest request.
func (q *SplatQueue) Pop() (int, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return 0, false
	}
	n := q.pending[len(q.pending)-1]
	q.pending = q.pending[:len(q.pending)-1]
	return n, true
}

func (q *SplatQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
