package queue

import (
	"container/heap"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kilianp07/wastedispatch/core/events"
	"github.com/kilianp07/wastedispatch/core/logger"
	"github.com/kilianp07/wastedispatch/core/metrics"
	"github.com/kilianp07/wastedispatch/core/monitoring"
	"github.com/kilianp07/wastedispatch/internal/eventbus"
)

// Handler performs the work of one job kind.
type Handler interface {
	Handle(ctx context.Context, job Job) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, job Job) error

func (f HandlerFunc) Handle(ctx context.Context, job Job) error { return f(ctx, job) }

// DeadLetterSink persists jobs that exhausted their attempts.
type DeadLetterSink interface {
	Record(ctx context.Context, job Job) error
	Remove(ctx context.Context, id string) error
	List(ctx context.Context) ([]Job, error)
}

// KindStats counts jobs of one kind by status.
type KindStats struct {
	Waiting   int `json:"waiting"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// Queue runs jobs on a bounded worker pool. A single scheduler goroutine
// owns the wait heap and hands due jobs to the workers; retries are pushed
// back on the heap with a later NextRunAt so that workers never sleep.
//
// At most one job per id is live. Enqueueing an id that is waiting is a
// no-op; enqueueing an id that is running stores a single follow-up that
// is scheduled once the running job completes or fails.
type Queue struct {
	cfg      Config
	log      logger.Logger
	monitor  monitoring.Monitor
	sink     metrics.MetricsSink
	bus      eventbus.EventBus
	dead     DeadLetterSink
	now      func() time.Time
	handlers map[Kind]Handler

	mu      sync.Mutex
	waiting jobHeap
	seq     uint64
	stats   map[Kind]*KindStats
	failed  []Job
	queued  map[string]bool
	running map[string]bool
	next    map[string]*Job
	started bool
	stopped bool

	wake   chan struct{}
	ready  chan *Job
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Options wires optional collaborators.
type Options struct {
	Logger     logger.Logger
	Monitor    monitoring.Monitor
	Metrics    metrics.MetricsSink
	Bus        eventbus.EventBus
	DeadLetter DeadLetterSink
}

// New creates a stopped queue.
func New(cfg Config, opts Options) *Queue {
	cfg.SetDefaults()
	q := &Queue{
		cfg:      cfg,
		log:      logger.OrNop(opts.Logger),
		monitor:  monitoring.OrNop(opts.Monitor),
		sink:     opts.Metrics,
		bus:      opts.Bus,
		dead:     opts.DeadLetter,
		now:      time.Now,
		handlers: make(map[Kind]Handler),
		stats:    make(map[Kind]*KindStats),
		queued:   make(map[string]bool),
		running:  make(map[string]bool),
		next:     make(map[string]*Job),
		wake:     make(chan struct{}, 1),
		ready:    make(chan *Job),
	}
	if q.sink == nil {
		q.sink = metrics.NopSink{}
	}
	return q
}

// Register binds h to kind. It must be called before Start.
func (q *Queue) Register(kind Kind, h Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[kind] = h
	q.statsFor(kind)
}

// Enqueue schedules a job and returns its id. payload is JSON encoded.
// When a job with the same id is already live the existing id is returned
// and no second job is created.
func (q *Queue) Enqueue(ctx context.Context, kind Kind, payload any, opts ...Option) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("queue: encode %s payload: %w", kind, err)
	}
	now := q.now()
	j := &Job{
		ID:          uuid.NewString(),
		Kind:        kind,
		Payload:     raw,
		MaxAttempts: q.cfg.MaxAttempts,
		NextRunAt:   now,
		Status:      StatusWaiting,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if kind.Maintenance() {
		j.MaxAttempts = 1
	}
	for _, o := range opts {
		o(j)
	}

	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return "", ErrStopped
	}
	if _, ok := q.handlers[kind]; !ok {
		q.mu.Unlock()
		return "", fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	admitted := q.admit(j)
	q.mu.Unlock()
	if !admitted {
		q.log.Debugf("%s job %s already live", kind, j.ID)
		return j.ID, nil
	}
	q.signal()
	q.log.Debugf("enqueued %s job %s", kind, j.ID)
	return j.ID, nil
}

// Start launches the scheduler and the workers. Failed jobs recorded by the
// dead-letter sink are loaded so they can be replayed.
func (q *Queue) Start(ctx context.Context) error {
	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		return fmt.Errorf("queue: already started")
	}
	q.started = true
	q.mu.Unlock()

	if q.dead != nil {
		jobs, err := q.dead.List(ctx)
		if err != nil {
			q.log.Errorf("load dead letters: %v", err)
		}
		q.mu.Lock()
		for _, j := range jobs {
			q.failed = append(q.failed, j)
			q.statsFor(j.Kind).Failed++
		}
		q.mu.Unlock()
	}

	ctx, cancel := context.WithCancel(ctx)
	q.mu.Lock()
	q.cancel = cancel
	q.mu.Unlock()
	q.wg.Add(1)
	go q.schedule(ctx)
	for i := 0; i < q.cfg.Workers; i++ {
		q.wg.Add(1)
		go q.work(ctx)
	}
	q.log.Infof("queue started with %d workers", q.cfg.Workers)
	return nil
}

// Stop halts the scheduler and waits for running jobs to return. Waiting
// jobs are discarded.
func (q *Queue) Stop() {
	q.mu.Lock()
	q.stopped = true
	cancel := q.cancel
	q.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	q.wg.Wait()
}

// Stats returns per-kind counters.
func (q *Queue) Stats() map[Kind]KindStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make(map[Kind]KindStats, len(q.stats))
	for k, s := range q.stats {
		out[k] = *s
	}
	return out
}

// Failed returns the jobs that exhausted their attempts, oldest first.
func (q *Queue) Failed() []Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := append([]Job(nil), q.failed...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return out
}

// Replay moves a failed job back to the wait heap with a fresh attempt budget.
func (q *Queue) Replay(ctx context.Context, id string) error {
	q.mu.Lock()
	idx := -1
	for i, j := range q.failed {
		if j.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		q.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if _, ok := q.handlers[q.failed[idx].Kind]; !ok {
		q.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownKind, q.failed[idx].Kind)
	}
	j := q.failed[idx]
	q.failed = append(q.failed[:idx], q.failed[idx+1:]...)
	q.statsFor(j.Kind).Failed--
	now := q.now()
	j.Attempt = 0
	j.Status = StatusWaiting
	j.NextRunAt = now
	j.UpdatedAt = now
	q.admit(&j)
	q.mu.Unlock()

	if q.dead != nil {
		if err := q.dead.Remove(ctx, id); err != nil {
			q.log.Errorf("remove dead letter %s: %v", id, err)
		}
	}
	q.signal()
	q.log.Infof("replaying %s job %s", j.Kind, id)
	return nil
}

// admit pushes j unless a job with its id is live. A running job keeps the
// latest admitted job as its follow-up. Callers hold q.mu.
func (q *Queue) admit(j *Job) bool {
	switch {
	case q.queued[j.ID]:
		return false
	case q.running[j.ID]:
		q.next[j.ID] = j
		return false
	}
	q.push(j)
	return true
}

// push adds j to the heap. Callers hold q.mu.
func (q *Queue) push(j *Job) {
	q.queued[j.ID] = true
	q.seq++
	heap.Push(&q.waiting, &entry{job: j, seq: q.seq})
	q.statsFor(j.Kind).Waiting++
}

func (q *Queue) statsFor(k Kind) *KindStats {
	s, ok := q.stats[k]
	if !ok {
		s = &KindStats{}
		q.stats[k] = s
	}
	return s
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) schedule(ctx context.Context) {
	defer q.wg.Done()
	defer close(q.ready)
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()
	for {
		q.mu.Lock()
		next := q.waiting.peek()
		var wait time.Duration
		if next != nil {
			wait = next.NextRunAt.Sub(q.now())
		}
		q.mu.Unlock()

		if next != nil && wait <= 0 {
			q.mu.Lock()
			e := heap.Pop(&q.waiting).(*entry)
			q.mu.Unlock()
			select {
			case q.ready <- e.job:
			case <-ctx.Done():
				return
			}
			continue
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		if next != nil {
			timer.Reset(wait)
		} else {
			timer.Reset(time.Hour)
		}
		select {
		case <-ctx.Done():
			return
		case <-q.wake:
		case <-timer.C:
		}
	}
}

func (q *Queue) work(ctx context.Context) {
	defer q.wg.Done()
	for j := range q.ready {
		q.run(ctx, j)
	}
}

func (q *Queue) run(ctx context.Context, j *Job) {
	q.mu.Lock()
	h := q.handlers[j.Kind]
	st := q.statsFor(j.Kind)
	st.Waiting--
	st.Active++
	delete(q.queued, j.ID)
	q.running[j.ID] = true
	j.Attempt++
	j.Status = StatusActive
	j.UpdatedAt = q.now()
	snapshot := *j
	q.mu.Unlock()

	start := time.Now()
	err := q.invoke(ctx, h, snapshot)
	dur := time.Since(start)

	q.mu.Lock()
	st.Active--
	delete(q.running, j.ID)
	now := q.now()
	j.UpdatedAt = now
	var outcome string
	switch {
	case err == nil:
		j.Status = StatusCompleted
		j.LastError = ""
		st.Completed++
		outcome = "completed"
	case IsPermanent(err) || j.Attempt >= j.MaxAttempts:
		j.Status = StatusFailed
		j.LastError = err.Error()
		st.Failed++
		q.dropFailedLocked(j.ID)
		q.failed = append(q.failed, *j)
		outcome = "failed"
	default:
		j.Status = StatusWaiting
		j.LastError = err.Error()
		j.NextRunAt = now.Add(Backoff(q.cfg.BaseBackoff, q.cfg.MaxBackoff, j.Attempt))
		q.push(j)
		outcome = "retry"
	}
	follow, ok := q.next[j.ID]
	delete(q.next, j.ID)
	if ok && outcome != "retry" {
		q.push(follow)
	}
	final := *j
	q.mu.Unlock()

	q.report(ctx, final, outcome, err, dur)
	if outcome == "retry" || ok {
		q.signal()
	}
}

// dropFailedLocked removes an earlier failure recorded under id.
func (q *Queue) dropFailedLocked(id string) {
	for i, f := range q.failed {
		if f.ID == id {
			q.failed = append(q.failed[:i], q.failed[i+1:]...)
			q.statsFor(f.Kind).Failed--
			return
		}
	}
}

// invoke runs the handler, turning a panic into a permanent failure.
func (q *Queue) invoke(ctx context.Context, h Handler, j Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			q.monitor.Recover(r)
			err = Permanent(fmt.Errorf("panic in %s handler: %v", j.Kind, r))
		}
	}()
	if h == nil {
		return Permanent(fmt.Errorf("%w: %s", ErrUnknownKind, j.Kind))
	}
	return h.Handle(ctx, j)
}

func (q *Queue) report(ctx context.Context, j Job, outcome string, err error, dur time.Duration) {
	fields := map[string]any{
		"job_id":  j.ID,
		"kind":    string(j.Kind),
		"attempt": j.Attempt,
		"outcome": outcome,
	}
	switch outcome {
	case "completed":
		q.log.Debugw("job completed", fields)
	case "retry":
		fields["error"] = err.Error()
		fields["next_run_at"] = j.NextRunAt
		q.log.Infow("job retry scheduled", fields)
	case "failed":
		fields["error"] = err.Error()
		q.log.Errorw("job failed", fields)
		q.monitor.CaptureException(err, map[string]string{"module": "queue", "kind": string(j.Kind), "job_id": j.ID})
		if q.dead != nil {
			if derr := q.dead.Record(context.WithoutCancel(ctx), j); derr != nil {
				q.log.Errorf("record dead letter %s: %v", j.ID, derr)
			}
		}
	}
	if r, ok := q.sink.(metrics.JobRecorder); ok {
		if rerr := r.RecordJob(metrics.JobEvent{
			JobID: j.ID, Kind: string(j.Kind), Attempt: j.Attempt, Outcome: outcome, Duration: dur, Time: q.now(),
		}); rerr != nil {
			q.log.Errorf("metrics error: %v", rerr)
		}
	}
	if q.bus != nil {
		q.bus.Publish(events.JobFinished{JobID: j.ID, Kind: string(j.Kind), Attempt: j.Attempt, Outcome: outcome, Duration: dur, Err: err})
	}
}
