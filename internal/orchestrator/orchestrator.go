package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Lol3rrr/cfuzz/internal/events"
	"github.com/Lol3rrr/cfuzz/internal/registry"
	"github.com/Lol3rrr/cfuzz/internal/runner"
	"github.com/Lol3rrr/cfuzz/internal/types"
	"github.com/Lol3rrr/cfuzz/pkg/telemetry"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrInvalidRequest = errors.New("invalid run request")
	ErrShuttingDown   = errors.New("orchestrator is shutting down")
)

// Storage is what the orchestrator needs from the storage actor.
type Storage interface {
	StoreResult(ctx context.Context, project string, result types.FuzzResult) error
	FindTarget(ctx context.Context, project, target string) (types.Project, types.Target, error)
}

type Option func(*Orchestrator)

func WithEvents(publisher *events.Publisher) Option {
	return func(o *Orchestrator) { o.events = publisher }
}

func WithTracerFactory(factory *telemetry.TracerFactory) Option {
	return func(o *Orchestrator) { o.tracers = factory }
}

// WithRunTimeout cancels every iteration that runs longer than d. Zero disables it.
func WithRunTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.runTimeout = d }
}

// WithRestartDelay is the pause before a repeating job starts over after a failed iteration.
func WithRestartDelay(d time.Duration) Option {
	return func(o *Orchestrator) { o.restartDelay = d }
}

// Orchestrator drives jobs through register, execute, collect and deregister,
// looping for repeating jobs.
type Orchestrator struct {
	runner   runner.Runner
	storage  Storage
	registry *registry.Registry
	events   *events.Publisher
	tracers  *telemetry.TracerFactory
	logger   *zap.Logger

	runTimeout   time.Duration
	restartDelay time.Duration

	// ctx outlives the requests that submitted the jobs, it is cancelled
	// when a graceful shutdown runs out of time
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func New(r runner.Runner, store Storage, reg *registry.Registry, logger *zap.Logger, opts ...Option) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		runner:       r,
		storage:      store,
		registry:     reg,
		logger:       logger,
		restartDelay: time.Second,
		ctx:          ctx,
		cancel:       cancel,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Resolve completes a request that only names a stored project and target.
// Fields set on the request take precedence over the stored ones. A request
// that brings its own runner or source keeps its repeating flag, a name-only
// request repeats as the stored target does.
func (o *Orchestrator) Resolve(ctx context.Context, req types.RunRequest) (types.RunRequest, error) {
	if req.Resolved() {
		return req, nil
	}

	p, t, err := o.storage.FindTarget(ctx, req.ProjectName, req.Name)
	if err != nil {
		return req, err
	}

	resolved := types.NewRunRequest(p, t)
	if req.Runner != nil {
		resolved.Runner = req.Runner
	}
	if req.Source != nil {
		resolved.Source = req.Source
	}
	if req.Folder != "" {
		resolved.Folder = req.Folder
	}
	if req.Runner != nil || req.Source != nil {
		resolved.Repeating = req.Repeating
	}
	return resolved, nil
}

// Submit registers the job and starts it in the background. The job keeps
// running after ctx is done, ctx only bounds the resolution of the request.
func (o *Orchestrator) Submit(ctx context.Context, req types.RunRequest) (string, error) {
	if err := req.Validate(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	req, err := o.Resolve(ctx, req)
	if err != nil {
		return "", err
	}

	// closed is checked and the job registered under one lock, so Shutdown
	// either refuses the job or finds it in CancelAll.
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return "", ErrShuttingDown
	}

	runID := uuid.NewString()
	err = o.registry.Register(registry.Job{
		Name:    req.Name,
		Project: req.ProjectName,
		RunID:   runID,
	})
	if err != nil {
		return "", err
	}

	o.wg.Add(1)
	go o.loop(runID, req)
	return runID, nil
}

// Cancel stops a running job. It reports whether the job was running.
func (o *Orchestrator) Cancel(name string) bool {
	ok := o.registry.Cancel(name)
	if ok {
		o.logger.Info("job cancelled", zap.String("job", name))
	}
	return ok
}

// Running returns the names of all registered jobs, sorted.
func (o *Orchestrator) Running() []string {
	return o.registry.Names()
}

// Shutdown cancels every job and waits for their loops. When ctx is done
// first the running fuzzers are killed.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()

	n := o.registry.CancelAll()
	o.logger.Info("stopping orchestrator", zap.Int("jobs", n))

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		o.logger.Warn("jobs did not stop in time, killing them")
		err = ctx.Err()
		o.cancel()
		<-done
	}
	o.cancel()
	return err
}

func (o *Orchestrator) loop(runID string, req types.RunRequest) {
	defer o.wg.Done()
	defer o.registry.Deregister(req.Name)

	logger := o.logger.With(
		zap.String("project", req.ProjectName),
		zap.String("job", req.Name),
		zap.String("run_id", runID),
	)
	logger.Info("job registered", zap.Bool("repeating", req.Repeating))

	for iteration := 1; ; iteration++ {
		sig := runner.NewSignal()
		if !o.registry.Arm(req.Name, sig) {
			logger.Info("job stopped before iteration", zap.Int("iteration", iteration))
			return
		}

		err := o.iterate(logger, runID, req.Clone(), iteration, sig)

		if !req.Repeating || o.registry.Stopped(req.Name) || o.ctx.Err() != nil {
			logger.Info("job finished", zap.Int("iterations", iteration))
			return
		}
		if err != nil && o.restartDelay > 0 {
			select {
			case <-time.After(o.restartDelay):
			case <-o.ctx.Done():
				return
			}
		}
	}
}

func (o *Orchestrator) iterate(logger *zap.Logger, runID string, req types.RunRequest, iteration int, sig *runner.Signal) error {
	logger = logger.With(zap.Int("iteration", iteration))

	span := o.tracers.Start(o.ctx, "fuzz iteration", telemetry.JobAttributes(req.ProjectName, req.Name).
		WithIteration(iteration).
		WithExtraAttribute("fuzz.run_id", runID))
	defer span.End()

	o.events.Emit(o.ctx, events.Started(runID, req, iteration, span.Carrier()))
	logger.Info("starting iteration")

	var artifacts [][]byte
	var err error
	if o.runTimeout > 0 {
		artifacts, err = runner.RunWithTimeout(o.ctx, o.runner, req, sig, o.runTimeout)
	} else {
		artifacts, err = runner.RunToCompletion(o.ctx, o.runner, req, sig)
	}
	cancelled := sig.Fired()

	switch {
	case err != nil:
		logger.Error("iteration failed", zap.Error(err))
		span.Fail(err)
	case artifacts == nil && cancelled:
		logger.Info("iteration cancelled")
		span.Event("cancelled")
	case artifacts == nil:
		logger.Info("iteration finished without artifacts")
	default:
		stored := o.store(logger, req, artifacts)
		logger.Info("iteration finished", zap.Int("artifacts", len(artifacts)), zap.Int("stored", stored))
		span.SetAttributes(telemetry.EmptySpanAttributes().
			WithArtifacts(len(artifacts)).
			WithExtraAttribute("fuzz.stored", stored))
	}

	o.events.Emit(o.ctx, events.Finished(runID, req, iteration, len(artifacts), cancelled, err))
	return err
}

// store persists every artifact under (project, job name) and returns how many made it.
func (o *Orchestrator) store(logger *zap.Logger, req types.RunRequest, artifacts [][]byte) int {
	stored := 0
	for _, content := range artifacts {
		err := o.storage.StoreResult(o.ctx, req.ProjectName, types.FuzzResult{Name: req.Name, Content: content})
		if err != nil {
			logger.Error("failed to store artifact", zap.Error(err))
			continue
		}
		stored++
	}
	return stored
}
