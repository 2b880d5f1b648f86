package queue

import "container/heap"

// jobHeap orders waiting jobs by NextRunAt, then by enqueue sequence.
type jobHeap []*entry

type entry struct {
	job *Job
	seq uint64
}

func (h jobHeap) Len() int { return len(h) }
func (h jobHeap) Less(i, j int) bool {
	if h[i].job.NextRunAt.Equal(h[j].job.NextRunAt) {
		return h[i].seq < h[j].seq
	}
	return h[i].job.NextRunAt.Before(h[j].job.NextRunAt)
}
func (h jobHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *jobHeap) Push(x any)   { *h = append(*h, x.(*entry)) }
func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

func (h *jobHeap) peek() *Job {
	if len(*h) == 0 {
		return nil
	}
	return (*h)[0].job
}

var _ heap.Interface = (*jobHeap)(nil)
