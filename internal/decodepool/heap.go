package decodepool

// workHeap is a container/heap.Interface max-heap on Priority, with FIFO
// tiebreak by submission sequence (§4.4: "tiebreak by submission order").
// workItem.index is maintained by Push/Swap/Pop so Submit can call
// heap.Fix in O(log n) when an already-pending item's priority changes.
type workHeap []*workItem

func (h workHeap) Len() int { return len(h) }

func (h workHeap) Less(i, j int) bool {
	if h[i].work.Priority != h[j].work.Priority {
		return h[i].work.Priority > h[j].work.Priority
	}
	return h[i].seq < h[j].seq
}

func (h workHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *workHeap) Push(x any) {
	item := x.(*workItem)
	item.index = len(*h)
	*h = append(*h, item)
}

func (h *workHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[:n-1]
	return item
}
