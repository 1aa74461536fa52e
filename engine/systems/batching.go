package systems

import (
	"fmt"
	"sort"

	"github.com/spaghettifunk/anima-srbc/engine/renderer/metadata"
)

/** @brief A tentative assignment queued by Set. */
type PendingUpdate struct {
	Name     string
	Resource metadata.ResourceHandle
	Priority metadata.UpdatePriority
	/** @brief The frame the update was queued in. */
	Frame uint64
	/** @brief Waiting in a batch rather than committed by the next apply. */
	Deferred bool
}

/** @brief A group of deferred updates of one kind and priority. */
type UpdateBatch struct {
	ID             uint64
	Kind           metadata.ResourceKind
	Priority       metadata.UpdatePriority
	FrameScheduled uint64
	EstimatedCost  uint64
	Names          []string
	State          metadata.BatchState
}

func (b *UpdateBatch) String() string {
	return fmt.Sprintf("batch#%d(%s/%s, %d names, %s)", b.ID, b.Kind, b.Priority, len(b.Names), b.State)
}

var batchEdges = map[metadata.BatchState][]metadata.BatchState{
	metadata.BatchScheduled:  {metadata.BatchEligible, metadata.BatchDiscarded},
	metadata.BatchEligible:   {metadata.BatchProcessing},
	metadata.BatchProcessing: {metadata.BatchProcessed},
}

func (b *UpdateBatch) transition(to metadata.BatchState) bool {
	for _, s := range batchEdges[b.State] {
		if s == to {
			b.State = to
			return true
		}
	}
	return false
}

type BatchStats struct {
	Scheduled uint64
	Processed uint64
	Discarded uint64
	Splits    uint64
	/** @brief Names committed through batches. */
	Committed        uint64
	AverageBatchSize float64
}

/**
 * @brief Schedules deferred updates. A batch becomes eligible once
 * currentFrame - FrameScheduled >= delay(priority).
 */
type BatchScheduler struct {
	maxBatchSize int
	maxDelay     uint64
	nextID       uint64
	batches      []*UpdateBatch
	scheduled    map[string]*UpdateBatch
	stats        BatchStats
}

func NewBatchScheduler(maxBatchSize int, maxDelay uint64) *BatchScheduler {
	if maxBatchSize <= 0 {
		maxBatchSize = 1
	}
	return &BatchScheduler{
		maxBatchSize: maxBatchSize,
		maxDelay:     maxDelay,
		scheduled:    make(map[string]*UpdateBatch),
	}
}

// Delay is the number of frames a batch of priority waits before it is eligible.
func (s *BatchScheduler) Delay(p metadata.UpdatePriority) uint64 {
	switch p {
	case metadata.UpdatePriorityImmediate:
		return 0
	case metadata.UpdatePriorityHigh:
		return 1
	case metadata.UpdatePriorityNormal:
		return 2
	case metadata.UpdatePriorityLow:
		return s.maxDelay
	}
	return 2 * s.maxDelay
}

// Schedule queues name. A name already waiting keeps its original schedule.
func (s *BatchScheduler) Schedule(name string, kind metadata.ResourceKind, priority metadata.UpdatePriority, frame, cost uint64) {
	if _, ok := s.scheduled[name]; ok {
		return
	}
	kind = kind.Element()
	var batch *UpdateBatch
	for _, b := range s.batches {
		if b.State == metadata.BatchScheduled && b.Kind == kind && b.Priority == priority && b.FrameScheduled == frame {
			batch = b
			break
		}
	}
	if batch == nil {
		s.nextID++
		batch = &UpdateBatch{
			ID:             s.nextID,
			Kind:           kind,
			Priority:       priority,
			FrameScheduled: frame,
			State:          metadata.BatchScheduled,
		}
		s.batches = append(s.batches, batch)
		s.stats.Scheduled++
	}
	batch.Names = append(batch.Names, name)
	batch.EstimatedCost += cost
	s.scheduled[name] = batch
}

func (s *BatchScheduler) IsScheduled(name string) bool {
	_, ok := s.scheduled[name]
	return ok
}

// Cancel removes name from its batch. A scheduled batch left empty is discarded.
func (s *BatchScheduler) Cancel(name string) {
	b, ok := s.scheduled[name]
	if !ok {
		return
	}
	delete(s.scheduled, name)
	for i, n := range b.Names {
		if n == name {
			b.Names = append(b.Names[:i], b.Names[i+1:]...)
			break
		}
	}
	if len(b.Names) == 0 && b.transition(metadata.BatchDiscarded) {
		s.stats.Discarded++
		s.prune()
	}
}

func (s *BatchScheduler) promote(frame uint64) {
	for _, b := range s.batches {
		if b.State == metadata.BatchScheduled && frame >= b.FrameScheduled && frame-b.FrameScheduled >= s.Delay(b.Priority) {
			b.transition(metadata.BatchEligible)
		}
	}
}

// Take moves the eligible batches of frame to Processing and returns them,
// split to maxBatchSize, in priority then schedule order. With force every
// outstanding batch is taken.
func (s *BatchScheduler) Take(frame uint64, force bool) []*UpdateBatch {
	if force {
		for _, b := range s.batches {
			if b.State == metadata.BatchScheduled {
				b.transition(metadata.BatchEligible)
			}
		}
	} else {
		s.promote(frame)
	}
	taken := []*UpdateBatch{}
	for _, b := range s.batches {
		if b.State != metadata.BatchEligible {
			continue
		}
		b.transition(metadata.BatchProcessing)
		for _, n := range b.Names {
			delete(s.scheduled, n)
		}
		taken = append(taken, s.split(b)...)
	}
	sort.SliceStable(taken, func(i, j int) bool {
		return taken[i].Priority < taken[j].Priority
	})
	return taken
}

// split divides b into sub-batches of near equal size, preserving name order.
func (s *BatchScheduler) split(b *UpdateBatch) []*UpdateBatch {
	n := len(b.Names)
	if n <= s.maxBatchSize {
		return []*UpdateBatch{b}
	}
	parts := (n + s.maxBatchSize - 1) / s.maxBatchSize
	out := make([]*UpdateBatch, 0, parts)
	start := 0
	for i := 0; i < parts; i++ {
		size := n / parts
		if i < n%parts {
			size++
		}
		sub := &UpdateBatch{
			ID:             b.ID,
			Kind:           b.Kind,
			Priority:       b.Priority,
			FrameScheduled: b.FrameScheduled,
			EstimatedCost:  b.EstimatedCost * uint64(size) / uint64(n),
			Names:          append([]string(nil), b.Names[start:start+size]...),
			State:          metadata.BatchProcessing,
		}
		out = append(out, sub)
		start += size
	}
	s.stats.Splits += uint64(parts - 1)
	return out
}

// Complete marks a taken batch processed.
func (s *BatchScheduler) Complete(b *UpdateBatch) {
	if !b.transition(metadata.BatchProcessed) {
		return
	}
	s.stats.Processed++
	s.stats.Committed += uint64(len(b.Names))
	s.stats.AverageBatchSize = float64(s.stats.Committed) / float64(s.stats.Processed)
	s.prune()
}

// prune forgets batches in a terminal state or being processed.
func (s *BatchScheduler) prune() {
	kept := s.batches[:0]
	for _, b := range s.batches {
		switch b.State {
		case metadata.BatchProcessed, metadata.BatchDiscarded, metadata.BatchProcessing:
			continue
		}
		kept = append(kept, b)
	}
	s.batches = kept
}

// Outstanding returns the batches not yet taken.
func (s *BatchScheduler) Outstanding() []UpdateBatch {
	out := make([]UpdateBatch, 0, len(s.batches))
	for _, b := range s.batches {
		if b.State == metadata.BatchScheduled || b.State == metadata.BatchEligible {
			c := *b
			c.Names = append([]string(nil), b.Names...)
			out = append(out, c)
		}
	}
	return out
}

func (s *BatchScheduler) Clear() {
	for _, b := range s.batches {
		if b.transition(metadata.BatchDiscarded) {
			s.stats.Discarded++
		}
	}
	s.batches = nil
	s.scheduled = make(map[string]*UpdateBatch)
}

func (s *BatchScheduler) Stats() BatchStats {
	return s.stats
}
