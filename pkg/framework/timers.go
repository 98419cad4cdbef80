package framework

import (
	"container/heap"
	"time"
)

type loopTimer struct {
	at    time.Time
	seq   uint64
	fn    func()
	index int
	loop  *Loop
}

// Stop implements Timer.
func (t *loopTimer) Stop() bool {
	t.loop.lock.Lock()
	defer t.loop.lock.Unlock()
	if t.index < 0 {
		return false
	}
	heap.Remove(&t.loop.timers, t.index)
	return true
}

// timerHeap orders timers by deadline, then by registration order
// so timers with the same deadline fire in the order they were added.
type timerHeap []*loopTimer

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if h[i].at.Equal(h[j].at) {
		return h[i].seq < h[j].seq
	}
	return h[i].at.Before(h[j].at)
}

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}

func (h *timerHeap) Push(x interface{}) {
	t := x.(*loopTimer)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *timerHeap) Pop() interface{} {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}

// popDue removes and returns all timers due at now, in firing order.
func (h *timerHeap) popDue(now time.Time) (due []*loopTimer) {
	for h.Len() > 0 && !(*h)[0].at.After(now) {
		due = append(due, heap.Pop(h).(*loopTimer))
	}
	return
}

// next returns the earliest deadline.
func (h timerHeap) next() (time.Time, bool) {
	if len(h) == 0 {
		return time.Time{}, false
	}
	return h[0].at, true
}
