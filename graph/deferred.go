package graph

import "container/heap"

// deferredHeap orders parked yieldable nodes by wake deadline so the
// graph's timer goroutine (or a caller's processDeferredNodes call)
// can promote exactly the nodes whose time has come, without scanning
// every parked node on every tick.
type deferredHeap []*node

func (h deferredHeap) Len() int { return len(h) }
func (h deferredHeap) Less(i, j int) bool { return h[i].deadline.Before(h[j].deadline) }
func (h deferredHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *deferredHeap) Push(x any) {
	*h = append(*h, x.(*node))
}

func (h *deferredHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

var _ heap.Interface = (*deferredHeap)(nil)
