package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/Lol3rrr/cfuzz/internal/types"

	"go.uber.org/zap"
)

// QueueCapacity bounds the number of requests waiting for the actor.
// Senders block once it is full.
const QueueCapacity = 64

type reply struct {
	value any
	err   error
}

type envelope struct {
	ctx   context.Context
	cmd   command
	reply chan reply
}

// Handle is the cloneable way to talk to the storage actor. All requests are
// served one at a time, in the order they were enqueued, by a single
// goroutine that owns the Backend.
type Handle struct {
	backend Backend
	logger  *zap.Logger

	requests chan envelope
	quit     chan struct{}
	done     chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once
}

// New creates a handle whose actor is not running yet, see Start.
func New(backend Backend, logger *zap.Logger) *Handle {
	return newHandle(backend, logger, QueueCapacity)
}

func newHandle(backend Backend, logger *zap.Logger, capacity int) *Handle {
	return &Handle{
		backend:  backend,
		logger:   logger,
		requests: make(chan envelope, capacity),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start creates a handle and launches its actor.
func Start(backend Backend, logger *zap.Logger) *Handle {
	return New(backend, logger).Start()
}

// Start launches the actor goroutine. Calling it more than once is a no-op.
func (h *Handle) Start() *Handle {
	h.startOnce.Do(func() {
		go h.run()
	})
	return h
}

// Close stops the actor and releases the backend. Requests still queued are
// answered with ErrClosed.
func (h *Handle) Close() error {
	h.stopOnce.Do(func() {
		close(h.quit)
	})
	// never started: nothing will close done for us
	h.startOnce.Do(func() {
		close(h.done)
	})
	<-h.done
	return h.backend.Close()
}

func (h *Handle) run() {
	defer close(h.done)
	h.logger.Debug("storage actor started")
	for {
		select {
		case <-h.quit:
			h.logger.Debug("storage actor stopped")
			return
		case env := <-h.requests:
			res := h.execute(env.cmd)
			select {
			case env.reply <- res:
			case <-env.ctx.Done():
				h.logger.Warn("dropping storage reply, caller went away", zap.String("op", env.cmd.op()))
			}
		}
	}
}

func (h *Handle) execute(cmd command) (res reply) {
	defer func() {
		if p := recover(); p != nil {
			h.logger.Error("storage request panicked", zap.String("op", cmd.op()), zap.Any("panic", p))
			res = reply{err: &Error{Op: cmd.op(), Err: fmt.Errorf("panic: %v", p)}}
		}
	}()

	// the request is atomic once dequeued, so it does not follow the caller's context
	value, err := cmd.apply(context.Background(), h.backend)
	if err != nil {
		h.logger.Debug("storage request failed", zap.String("op", cmd.op()), zap.Error(err))
		return reply{err: &Error{Op: cmd.op(), Err: err}}
	}
	return reply{value: value}
}

func (h *Handle) request(ctx context.Context, cmd command) (any, error) {
	// an unbuffered reply lets the actor notice a caller that stopped waiting
	env := envelope{ctx: ctx, cmd: cmd, reply: make(chan reply)}

	select {
	case <-h.quit:
		return nil, ErrClosed
	default:
	}

	select {
	case h.requests <- env:
	case <-h.quit:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case res := <-env.reply:
		return res.value, res.err
	case <-h.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// StoreResult appends one finding of a project.
func (h *Handle) StoreResult(ctx context.Context, project string, result types.FuzzResult) error {
	_, err := h.request(ctx, storeResult{project: project, result: result})
	return err
}

// LoadResults returns every finding stored for a project. Unknown projects
// have no findings.
func (h *Handle) LoadResults(ctx context.Context, project string) ([]types.FuzzResult, error) {
	v, err := h.request(ctx, loadResults{project: project})
	if err != nil {
		return nil, err
	}
	return v.([]types.FuzzResult), nil
}

// UpsertProject inserts or replaces the source of a project. Targets in the
// argument are ignored, see AddProjectTarget.
func (h *Handle) UpsertProject(ctx context.Context, project types.Project) error {
	_, err := h.request(ctx, upsertProject{project: project})
	return err
}

// RemoveProject deletes a project together with its targets and findings.
func (h *Handle) RemoveProject(ctx context.Context, name string) error {
	_, err := h.request(ctx, removeProject{name: name})
	return err
}

func (h *Handle) LoadProjects(ctx context.Context) ([]types.Project, error) {
	v, err := h.request(ctx, loadProjects{})
	if err != nil {
		return nil, err
	}
	return v.([]types.Project), nil
}

// AddProjectTarget inserts or replaces the target with the same name.
func (h *Handle) AddProjectTarget(ctx context.Context, project string, target types.Target) error {
	_, err := h.request(ctx, addProjectTarget{project: project, target: target})
	return err
}

// FindTarget returns a stored project and one of its targets.
func (h *Handle) FindTarget(ctx context.Context, project, target string) (types.Project, types.Target, error) {
	v, err := h.request(ctx, findTarget{project: project, target: target})
	if err != nil {
		return types.Project{}, types.Target{}, err
	}
	found := v.(projectTarget)
	return found.project, found.target, nil
}
