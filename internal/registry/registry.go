package registry

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/Lol3rrr/cfuzz/internal/runner"

	"go.uber.org/zap"
)

var ErrAlreadyRunning = errors.New("a job with this name is already running")

// Job describes a registered job.
type Job struct {
	Name      string
	Project   string
	RunID     string
	StartedAt time.Time
}

type entry struct {
	job     Job
	signal  *runner.Signal
	stopped bool
}

// Mirror keeps an external copy of the running set. Updates are applied one
// at a time and always write the registry state current at that moment, so
// the mirror settles on the running set even when a name is deregistered and
// registered again concurrently.
type Mirror interface {
	Add(ctx context.Context, name string) error
	Remove(ctx context.Context, name string) error
}

// Registry is the set of running jobs keyed by name. The lock is held only
// while the map is touched.
type Registry struct {
	mu   sync.Mutex
	jobs map[string]*entry

	mirrorMu sync.Mutex
	mirror   Mirror
	logger   *zap.Logger
}

func New(logger *zap.Logger, mirror Mirror) *Registry {
	return &Registry{
		jobs:   make(map[string]*entry),
		mirror: mirror,
		logger: logger,
	}
}

// Register adds a job, a job with the same name must not be running.
func (r *Registry) Register(job Job) error {
	r.mu.Lock()
	if _, ok := r.jobs[job.Name]; ok {
		r.mu.Unlock()
		return ErrAlreadyRunning
	}
	if job.StartedAt.IsZero() {
		job.StartedAt = time.Now()
	}
	r.jobs[job.Name] = &entry{job: job}
	r.mu.Unlock()

	r.syncMirror(job.Name)
	return nil
}

// Deregister removes a job. Removing an unknown name is a no-op.
func (r *Registry) Deregister(name string) {
	r.mu.Lock()
	_, ok := r.jobs[name]
	delete(r.jobs, name)
	r.mu.Unlock()

	if ok {
		r.syncMirror(name)
	}
}

// Arm installs the signal of the next iteration. It returns false when the
// job is no longer registered or was cancelled, the iteration must not start.
func (r *Registry) Arm(name string, sig *runner.Signal) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.jobs[name]
	if !ok || e.stopped {
		return false
	}
	e.signal = sig
	return true
}

// Cancel stops a running job: the current iteration is signalled and no
// further iteration starts. It reports whether a job was found.
func (r *Registry) Cancel(name string) bool {
	r.mu.Lock()
	e, ok := r.jobs[name]
	var sig *runner.Signal
	if ok {
		e.stopped = true
		sig = e.signal
	}
	r.mu.Unlock()

	sig.Fire()
	return ok
}

// Stopped reports whether the job was cancelled. Unknown jobs count as stopped.
func (r *Registry) Stopped(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.jobs[name]
	return !ok || e.stopped
}

// CancelAll cancels every registered job and returns how many there were.
func (r *Registry) CancelAll() int {
	r.mu.Lock()
	signals := make([]*runner.Signal, 0, len(r.jobs))
	for _, e := range r.jobs {
		e.stopped = true
		signals = append(signals, e.signal)
	}
	r.mu.Unlock()

	for _, sig := range signals {
		sig.Fire()
	}
	return len(signals)
}

func (r *Registry) Get(name string) (Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.jobs[name]
	if !ok {
		return Job{}, false
	}
	return e.job, true
}

// Names returns the running job names, sorted.
func (r *Registry) Names() []string {
	r.mu.Lock()
	names := make([]string, 0, len(r.jobs))
	for name := range r.jobs {
		names = append(names, name)
	}
	r.mu.Unlock()

	sort.Strings(names)
	return names
}

// syncMirror writes the current state of name to the mirror. The state is read
// after mirrorMu is taken, a stale add or remove can not land last.
func (r *Registry) syncMirror(name string) {
	if r.mirror == nil {
		return
	}
	r.mirrorMu.Lock()
	defer r.mirrorMu.Unlock()

	r.mu.Lock()
	_, running := r.jobs[name]
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	op := "remove"
	var err error
	if running {
		op = "add"
		err = r.mirror.Add(ctx, name)
	} else {
		err = r.mirror.Remove(ctx, name)
	}
	if err != nil {
		r.logger.Warn("failed to mirror running job", zap.String("op", op), zap.String("job", name), zap.Error(err))
	}
}
