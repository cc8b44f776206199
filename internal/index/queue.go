package index

import "container/heap"

// queueItem pairs an internal node id with its distance to the query.
type queueItem struct {
	node uint32
	dist float32
}

// minQueue pops the nearest item first (candidate frontier).
type minQueue []queueItem

func (q minQueue) Len() int           { return len(q) }
func (q minQueue) Less(i, j int) bool { return q[i].dist < q[j].dist }
func (q minQueue) Swap(i, j int)      { q[i], q[j] = q[j], q[i] }

func (q *minQueue) Push(x any) { *q = append(*q, x.(queueItem)) }

func (q *minQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}

// maxQueue pops the farthest item first (bounded result set).
type maxQueue []queueItem

func (q maxQueue) Len() int           { return len(q) }
func (q maxQueue) Less(i, j int) bool { return q[i].dist > q[j].dist }
func (q maxQueue) Swap(i, j int)      { q[i], q[j] = q[j], q[i] }

func (q *maxQueue) Push(x any) { *q = append(*q, x.(queueItem)) }

func (q *maxQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}

func pushMin(q *minQueue, it queueItem) { heap.Push(q, it) }
func popMin(q *minQueue) queueItem      { return heap.Pop(q).(queueItem) }
func pushMax(q *maxQueue, it queueItem) { heap.Push(q, it) }
func popMax(q *maxQueue) queueItem      { return heap.Pop(q).(queueItem) }
