// Copyright 2025 lepus project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package corpus holds the retained fuzzing inputs: an append-only
// indexed sequence of all samples plus a min-priority queue of the
// entries eligible for further fuzzing.
//
// Corpus is not goroutine-safe. The fuzzer serializes all access under
// its queue lock together with the scheduler state, so that queue
// contents, backlogs and in-flight job accounting are observed
// atomically.
package corpus

import (
	"container/heap"

	"github.com/lepusfuzz/lepus/pkg/sample"
)

// Entry is a retained corpus member. An entry is reachable from exactly
// one place at a time: either the corpus queue or the worker that
// checked it out.
type Entry struct {
	Sample *sample.Sample
	// Index is the position in the append-only sample sequence,
	// identical to the zero-padded suffix of the on-disk file.
	Index int64
	// Context holds mutator-owned per-sample state, lazily initialized
	// on first fuzzing of the entry. nil means not yet initialized.
	Context any
	// Priority orders the queue; lower is dequeued first. New samples
	// start at 0, each unproductive fuzz iteration decrements, and new
	// coverage resets it back to 0.
	Priority float64

	NumRuns        int64
	NumNewCoverage int64
	NumHangs       int64
	NumCrashes     int64
}

type Corpus struct {
	all   []*sample.Sample
	queue entryQueue
}

func New() *Corpus {
	return &Corpus{}
}

// Add publishes a new entry: stores its sample at position entry.Index
// in the sample sequence and enqueues the entry. Indexes are assigned
// by the fuzzer when the sample file is written, so two workers may
// publish out of order; the sequence is grown as needed to keep
// all[entry.Index] == entry.Sample.
func (c *Corpus) Add(entry *Entry) {
	for int64(len(c.all)) <= entry.Index {
		c.all = append(c.all, nil)
	}
	c.all[entry.Index] = entry.Sample
	heap.Push(&c.queue, entry)
}

// Push returns a checked-out entry to the queue.
func (c *Corpus) Push(entry *Entry) {
	heap.Push(&c.queue, entry)
}

// PopMin checks out the minimum-priority entry, or nil if the queue is
// empty.
func (c *Corpus) PopMin() *Entry {
	if len(c.queue) == 0 {
		return nil
	}
	return heap.Pop(&c.queue).(*Entry)
}

// QueueLen returns the number of entries currently in the queue
// (excluding checked-out ones).
func (c *Corpus) QueueLen() int {
	return len(c.queue)
}

// Total returns the length of the sample sequence.
func (c *Corpus) Total() int {
	return len(c.all)
}

// Snapshot appends samples beyond len(dst) to dst and returns the
// result. Workers keep a per-worker snapshot for lock-free splicing
// during mutation; samples whose publish has not completed yet are
// skipped until the next sync.
func (c *Corpus) Snapshot(dst []*sample.Sample) []*sample.Sample {
	for i := len(dst); i < len(c.all); i++ {
		if c.all[i] == nil {
			break
		}
		dst = append(dst, c.all[i])
	}
	return dst
}

// The implementation below is based on the example provided
// by https://pkg.go.dev/container/heap.

type entryQueue []*Entry

func (q entryQueue) Len() int { return len(q) }

func (q entryQueue) Less(i, j int) bool {
	// Min-queue: lower priority values are served first.
	return q[i].Priority < q[j].Priority
}

func (q entryQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
}

func (q *entryQueue) Push(x any) {
	*q = append(*q, x.(*Entry))
}

func (q *entryQueue) Pop() any {
	n := len(*q)
	entry := (*q)[n-1]
	(*q)[n-1] = nil
	*q = (*q)[:n-1]
	return entry
}
