package jobs

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Faultbox/aobake/internal/logger"
)

// ErrNotFound is returned by Wait for unknown job ids.
var ErrNotFound = errors.New("job not found")

// Queue is a FIFO scheduler with a single worker. At most one job is
// running at any time. Enqueue never blocks.
type Queue struct {
	runner Runner
	poll   time.Duration
	log    *zap.Logger

	mu      sync.RWMutex
	nextID  uint64
	queue   []*Job
	current *Job
	results []*Job

	subMu sync.Mutex
	subs  map[chan []Job]struct{}

	wake    chan struct{}
	done    chan struct{}
	stopped chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once
}

// New creates a queue. pollInterval bounds how long an idle worker sleeps
// before rechecking the queue.
func New(runner Runner, pollInterval time.Duration) *Queue {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Queue{
		runner:  runner,
		poll:    pollInterval,
		log:     logger.Named("jobs"),
		subs:    make(map[chan []Job]struct{}),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// Start launches the worker. Cancelling ctx stops it like Stop does; a job
// already running is not interrupted.
func (q *Queue) Start(ctx context.Context) {
	q.startOnce.Do(func() {
		go q.loop(ctx)
	})
}

// Stop asks the worker to exit after its current job and waits for it.
// Stop on a queue that was never started returns immediately.
func (q *Queue) Stop() {
	q.stopOnce.Do(func() { close(q.done) })

	started := true
	q.startOnce.Do(func() { started = false })
	if started {
		<-q.stopped
	}
}

// Enqueue appends a pending job and returns its id.
func (q *Queue) Enqueue(args Args) string {
	q.mu.Lock()
	q.nextID++
	job := &Job{ID: strconv.FormatUint(q.nextID, 10), Args: args, State: Pending}
	q.queue = append(q.queue, job)
	q.mu.Unlock()

	q.log.Info("job enqueued", zap.String("job", job.ID))

	select {
	case q.wake <- struct{}{}:
	default:
	}
	q.publish()
	return job.ID
}

// Query returns a snapshot of the job with the given id.
func (q *Queue) Query(id string) (Job, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.current != nil && q.current.ID == id {
		return *q.current, true
	}
	for _, j := range q.results {
		if j.ID == id {
			return *j, true
		}
	}
	for _, j := range q.queue {
		if j.ID == id {
			return *j, true
		}
	}
	return Job{}, false
}

// List returns every job: results first, then the queue, then the running
// job if any.
func (q *Queue) List() []Job {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.listLocked()
}

func (q *Queue) listLocked() []Job {
	all := make([]Job, 0, len(q.results)+len(q.queue)+1)
	for _, j := range q.results {
		all = append(all, *j)
	}
	for _, j := range q.queue {
		all = append(all, *j)
	}
	if q.current != nil {
		all = append(all, *q.current)
	}
	return all
}

// Pending returns the number of queued jobs.
func (q *Queue) Pending() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.queue)
}

// Subscribe returns a channel receiving a List snapshot after every state
// change. Slow receivers only see the latest snapshot. Call cancel to
// unsubscribe.
func (q *Queue) Subscribe() (<-chan []Job, func()) {
	ch := make(chan []Job, 1)
	q.subMu.Lock()
	q.subs[ch] = struct{}{}
	q.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			q.subMu.Lock()
			delete(q.subs, ch)
			q.subMu.Unlock()
		})
	}
}

// Wait blocks until the job reaches a terminal state.
func (q *Queue) Wait(ctx context.Context, id string) (Job, error) {
	updates, cancel := q.Subscribe()
	defer cancel()

	for {
		job, ok := q.Query(id)
		if !ok {
			return Job{}, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		if job.State == Finished || job.State == Failed {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return job, ctx.Err()
		case <-updates:
		case <-time.After(q.poll):
		}
	}
}

func (q *Queue) publish() {
	snapshot := q.List()

	q.subMu.Lock()
	defer q.subMu.Unlock()
	for ch := range q.subs {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snapshot:
		default:
		}
	}
}

func (q *Queue) loop(ctx context.Context) {
	defer close(q.stopped)

	ticker := time.NewTicker(q.poll)
	defer ticker.Stop()

	q.log.Debug("worker started", zap.Duration("poll", q.poll))
	for {
		select {
		case <-q.done:
			q.log.Debug("worker stopped")
			return
		case <-ctx.Done():
			q.log.Debug("worker stopped", zap.Error(ctx.Err()))
			return
		default:
		}

		if job := q.pop(); job != nil {
			q.run(context.WithoutCancel(ctx), job)
			continue
		}

		select {
		case <-q.done:
		case <-ctx.Done():
		case <-q.wake:
		case <-ticker.C:
		}
	}
}

// pop moves the queue head into the running slot.
func (q *Queue) pop() *Job {
	q.mu.Lock()
	if q.current != nil || len(q.queue) == 0 {
		q.mu.Unlock()
		return nil
	}
	head := q.queue[0]
	q.queue[0] = nil
	q.queue = q.queue[1:]

	running := *head
	running.State = Running
	q.current = &running
	q.mu.Unlock()

	q.publish()
	return &running
}

func (q *Queue) run(ctx context.Context, job *Job) {
	log := q.log.With(zap.String("job", job.ID))
	log.Info("job started")
	start := time.Now()

	res, err := q.safeRun(ctx, job.Args)

	done := &Job{ID: job.ID, Args: job.Args, Result: res}
	if err != nil {
		done.State = Failed
		done.Error = err.Error()
		log.Error("job failed", zap.Error(err), zap.Duration("took", time.Since(start)))
	} else {
		done.State = Finished
		log.Info("job finished", zap.Duration("took", time.Since(start)))
	}

	q.mu.Lock()
	q.results = append(q.results, done)
	q.current = nil
	q.mu.Unlock()

	q.publish()
}

func (q *Queue) safeRun(ctx context.Context, args Args) (res *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			res, err = nil, fmt.Errorf("panic: %v", r)
		}
	}()
	return q.runner.Run(ctx, args)
}
