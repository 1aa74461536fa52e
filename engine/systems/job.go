package systems

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/spaghettifunk/anima-srbc/engine/containers"
	"github.com/spaghettifunk/anima-srbc/engine/core"
	"github.com/spaghettifunk/anima-srbc/engine/renderer/metadata"
)

type JobSystem struct {
	numWorkers int
	jobQueue   chan metadata.JobTask
	wg         sync.WaitGroup
	// guards closed and the close of jobQueue against concurrent submits
	mu     sync.RWMutex
	closed bool
}

var ErrNoWorkers = fmt.Errorf("attempting to create worker pool with less than 1 worker")
var ErrNegativeChannelSize = fmt.Errorf("attempting to create worker pool with a negative channel size")
var ErrJobSystemShutdown = fmt.Errorf("the job system is shut down")

func NewJobSystem(numWorkers int, channelSize int) (*JobSystem, error) {
	if numWorkers <= 0 {
		return nil, ErrNoWorkers
	}
	if channelSize < 0 {
		return nil, ErrNegativeChannelSize
	}

	jq := make(chan metadata.JobTask, channelSize)
	js := &JobSystem{
		numWorkers: numWorkers,
		jobQueue:   jq,
	}

	js.start()

	return js, nil
}

func (js *JobSystem) start() {
	for i := 0; i < js.numWorkers; i++ {
		js.wg.Add(1)
		go func() {
			defer js.wg.Done()
			for job := range js.jobQueue {
				js.run(job)
			}
		}()
	}
}

func (js *JobSystem) run(job metadata.JobTask) {
	out := make(chan interface{}, 1)
	err := func() (err error) {
		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("job %s panicked: %v", job.ID, p)
			}
		}()
		return job.OnStart(job.InputParams, out)
	}()
	if err != nil {
		core.LogError("%s", err)
		if job.OnFailure != nil {
			job.OnFailure(err)
		}
	} else if job.OnComplete != nil {
		var result interface{}
		select {
		case result = <-out:
		default:
		}
		job.OnComplete(result)
	}

	// Call the completion callback if set
	if job.OnCompletionCallback != nil {
		job.OnCompletionCallback()
	}
}

/**
 * @brief Shuts the job system down. Queued jobs still run.
 */
func (js *JobSystem) Shutdown() error {
	js.mu.Lock()
	if !js.closed {
		js.closed = true
		close(js.jobQueue)
	}
	js.mu.Unlock()
	js.wg.Wait()
	return nil
}

// AddWorkNonBlocking adds work to the SimplePool and returns immediately
func (js *JobSystem) AddWorkNonBlocking(jt metadata.JobTask) {
	go func() {
		if err := js.Submit(jt); err != nil {
			core.LogWarn("job %s dropped: %s", jt.ID, err)
		}
	}()
}

/**
 * @brief Submits the provided job to be queued for execution.
 * @param info The description of the job to be executed.
 * @returns ErrJobSystemShutdown once Shutdown was called.
 */
func (js *JobSystem) Submit(jt metadata.JobTask) error {
	js.mu.RLock()
	defer js.mu.RUnlock()
	if js.closed {
		return ErrJobSystemShutdown
	}
	js.jobQueue <- jt
	return nil
}

/** @brief A resource resolved by a job, waiting to be set on the GPU thread. */
type ResolvedResource struct {
	Name     string
	Resource metadata.ResourceHandle
	Err      error
}

const resolveQueueSize = 256

/**
 * @brief Hands resolved resources from job workers to the GPU thread. Push may
 * be called from any goroutine.
 */
type ResolveQueue struct {
	mu      sync.Mutex
	queue   *containers.RingQueue[ResolvedResource]
	dropped uint64
}

func NewResolveQueue() *ResolveQueue {
	return &ResolveQueue{queue: containers.NewRingQueue[ResolvedResource](resolveQueueSize)}
}

// Push fails with containers.ErrQueueFull when the GPU thread is not draining.
func (q *ResolveQueue) Push(r ResolvedResource) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.queue.Enqueue(r); err != nil {
		q.dropped++
		return err
	}
	return nil
}

// Drain removes and returns everything queued, oldest first.
func (q *ResolveQueue) Drain() []ResolvedResource {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]ResolvedResource, 0, q.queue.Len())
	for !q.queue.IsEmpty() {
		r, _ := q.queue.Dequeue()
		out = append(out, r)
	}
	return out
}

func (q *ResolveQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.queue.Len()
}

// Dropped is the number of results lost to a full queue.
func (q *ResolveQueue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Resolve runs fn on the job system. Its result is set on name by the next
// DrainResolved. Nothing runs when the job system is shut down.
func (r *ResourceRegistry) Resolve(js *JobSystem, name string, fn func() (metadata.ResourceHandle, error)) error {
	q := r.resolved
	push := func(res ResolvedResource) {
		if err := q.Push(res); err != nil {
			core.LogWarn("resolve '%s': %s", name, err)
		}
	}
	return js.Submit(metadata.JobTask{
		ID:          uuid.NewString(),
		JobType:     metadata.JOB_TYPE_RESOURCE_LOAD,
		Priority:    metadata.JOB_PRIORITY_NORMAL,
		InputParams: name,
		OnStart: func(params interface{}, out chan<- interface{}) error {
			h, err := fn()
			if err != nil {
				return err
			}
			out <- h
			return nil
		},
		OnComplete: func(result interface{}) {
			h, _ := result.(metadata.ResourceHandle)
			push(ResolvedResource{Name: name, Resource: h})
		},
		OnFailure: func(err error) {
			push(ResolvedResource{Name: name, Err: err})
		},
	})
}

// DrainResolved sets every resolved resource. Must run on the GPU thread.
func (r *ResourceRegistry) DrainResolved() (int, error) {
	n := 0
	var errs []error
	for _, res := range r.resolved.Drain() {
		if res.Err != nil {
			errs = append(errs, fmt.Errorf("resolve '%s': %w", res.Name, res.Err))
			continue
		}
		if err := r.Set(res.Name, res.Resource); err != nil {
			errs = append(errs, err)
			continue
		}
		n++
	}
	return n, errors.Join(errs...)
}

// Resolver is the queue Resolve jobs report to.
func (r *ResourceRegistry) Resolver() *ResolveQueue {
	return r.resolved
}
