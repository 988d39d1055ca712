// Package queue provides an unbounded FIFO queue that can be stopped.
//
// A stopped queue still delivers every item that was enqueued before Stop,
// in order, and then reports ErrStopped to its consumer. Two variants exist:
//
//   - New returns a strict queue. Enqueueing after Stop fails with ErrStopped.
//   - NewFanIn returns a lenient queue. Enqueueing after Stop drops the item.
//
// The lenient variant is meant for listeners that merge several message
// sources into one stream and may race a reset of that stream.
//
// # Usage
//
//	q := queue.New[int]()
//	_ = q.PutNowait(0)
//	_ = q.PutNowait(1)
//	q.Stop()
//
//	for v := range q.All(ctx) {
//	    fmt.Println(v) // 0, then 1
//	}
package queue
