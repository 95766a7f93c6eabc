package agent

import (
	"context"
	"log/slog"
	"sync"
)

// Runner executes orchestration runs on a bounded worker pool, detached from
// the HTTP request that triggered them. Runs for the same conversation are
// serialized through a per-conversation lock so two quick user messages
// cannot interleave their context building and appends.
type Runner struct {
	orchestrator *Orchestrator
	queue        chan RunInput
	logger       *slog.Logger

	mu    sync.Mutex
	locks map[string]*conversationLock

	wg       sync.WaitGroup
	shutdown context.CancelFunc
}

type conversationLock struct {
	mu   sync.Mutex
	refs int
}

func NewRunner(orchestrator *Orchestrator, queueSize, workers int, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	if workers <= 0 {
		workers = 8
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Runner{
		orchestrator: orchestrator,
		queue:        make(chan RunInput, queueSize),
		logger:       logger,
		locks:        make(map[string]*conversationLock),
		shutdown:     cancel,
	}
	for i := 0; i < workers; i++ {
		r.wg.Add(1)
		go r.work(ctx)
	}
	return r
}

// Enqueue schedules a run. Returns false when the queue is full; the caller
// already acknowledged the user message, so a rejected run must surface in
// logs rather than as an HTTP error.
func (r *Runner) Enqueue(in RunInput) bool {
	select {
	case r.queue <- in:
		return true
	default:
		r.logger.Error("agent run queue full, dropping run",
			"conversation_id", in.Conversation.ID,
			"tenant_id", in.Tenant.ID)
		return false
	}
}

// Close stops accepting runs and waits for the workers to drain the queue.
// The run context is cancelled only after the drain so queued runs still
// complete normally instead of failing with a dead context.
func (r *Runner) Close() {
	close(r.queue)
	r.wg.Wait()
	r.shutdown()
}

func (r *Runner) work(ctx context.Context) {
	defer r.wg.Done()
	for in := range r.queue {
		r.runLocked(ctx, in)
	}
}

func (r *Runner) runLocked(ctx context.Context, in RunInput) {
	lock := r.acquire(in.Conversation.ID)
	defer r.release(in.Conversation.ID)

	lock.mu.Lock()
	defer lock.mu.Unlock()

	// HandleUserMessage recovers its own panics and never returns an error.
	r.orchestrator.HandleUserMessage(ctx, in)
}

func (r *Runner) acquire(conversationID string) *conversationLock {
	r.mu.Lock()
	defer r.mu.Unlock()
	lock, ok := r.locks[conversationID]
	if !ok {
		lock = &conversationLock{}
		r.locks[conversationID] = lock
	}
	lock.refs++
	return lock
}

func (r *Runner) release(conversationID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	lock, ok := r.locks[conversationID]
	if !ok {
		return
	}
	lock.refs--
	if lock.refs <= 0 {
		delete(r.locks, conversationID)
	}
}
