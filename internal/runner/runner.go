package runner

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/Lol3rrr/cfuzz/config"
	"github.com/Lol3rrr/cfuzz/internal/types"
	"github.com/Lol3rrr/cfuzz/pkg/watchdog"

	"go.uber.org/zap"
)

// Runner executes one iteration of a job.
//
// A nil slice with a nil error means no artifacts: either the fuzzer exited
// cleanly without findings or the signal cancelled it. Callers tell the two
// apart with Signal.Fired.
type Runner interface {
	Run(ctx context.Context, req types.RunRequest, sig *Signal) ([][]byte, error)
}

// ArtifactObserver is told about artifacts while the fuzzer is still running.
type ArtifactObserver interface {
	ArtifactFound(req types.RunRequest, path string)
}

type Option func(*ProcessRunner)

// WithWatchDog reports artifacts as they are written instead of only after the run.
func WithWatchDog(factory *watchdog.WatchDogFactory, observer ArtifactObserver) Option {
	return func(r *ProcessRunner) {
		r.watchdogs = factory
		r.observer = observer
	}
}

// ProcessRunner checks out the source and runs the fuzzer as a child process.
type ProcessRunner struct {
	workDir      string
	pollInterval time.Duration
	gitBinary    string
	cargoBinary  string
	readFile     func(name string) ([]byte, error)
	logger       *zap.Logger

	watchdogs *watchdog.WatchDogFactory
	observer  ArtifactObserver
}

func NewProcessRunner(cfg config.RunnerConfig, logger *zap.Logger, opts ...Option) *ProcessRunner {
	r := &ProcessRunner{
		workDir:      cfg.WorkDir,
		pollInterval: cfg.PollInterval,
		gitBinary:    cfg.GitBinary,
		cargoBinary:  cfg.CargoBinary,
		readFile:     os.ReadFile,
		logger:       logger,
	}
	if r.pollInterval <= 0 {
		r.pollInterval = time.Second
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *ProcessRunner) Run(ctx context.Context, req types.RunRequest, sig *Signal) ([][]byte, error) {
	logger := r.logger.With(zap.String("project", req.ProjectName), zap.String("job", req.Name))

	if err := pathComponent("project name", req.ProjectName); err != nil {
		return nil, err
	}
	if err := pathComponent("job name", req.Name); err != nil {
		return nil, err
	}
	if err := subFolder(req.Folder); err != nil {
		return nil, err
	}

	ws, err := r.checkout(ctx, req, logger)
	if err != nil {
		return nil, err
	}
	defer ws.Release()

	dir := ws.path(req.Folder)
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return nil, &ConfigurationError{Field: "folder", Reason: fmt.Sprintf("%q is not a directory of the checkout", req.Folder)}
	}

	cmd, artifactDir, err := r.command(req, dir)
	if err != nil {
		return nil, err
	}

	stopWatching := r.watchArtifacts(req, artifactDir, logger)
	defer stopWatching()

	logger.Info("starting fuzzer", zap.String("command", cmd.String()), zap.String("dir", cmd.Dir))
	if err := cmd.Start(); err != nil {
		return nil, &ExecutionError{Command: cmd.String(), Err: err}
	}

	cancelled, err := r.supervise(ctx, cmd, sig, logger)
	if err != nil {
		return nil, err
	}
	if cancelled {
		logger.Info("fuzzer cancelled")
		return nil, nil
	}
	return r.collect(artifactDir, logger), nil
}

func (r *ProcessRunner) checkout(ctx context.Context, req types.RunRequest, logger *zap.Logger) (*workspace, error) {
	dest := filepath.Join(r.workDir, req.ProjectName, req.Name)

	switch src := req.Source.(type) {
	case types.Git:
		// a previous run of the same job may have left its checkout behind
		if err := os.RemoveAll(dest); err != nil {
			return nil, &CheckoutError{Repo: src.Repo, Dir: dest, Err: err}
		}
		if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
			return nil, &CheckoutError{Repo: src.Repo, Dir: dest, Err: err}
		}

		logger.Debug("cloning repository", zap.String("repo", src.Repo), zap.String("dest", dest))
		cmd := exec.CommandContext(ctx, r.gitBinary, "clone", src.Repo, dest)
		if out, err := cmd.CombinedOutput(); err != nil {
			if rmErr := os.RemoveAll(dest); rmErr != nil {
				logger.Error("failed to remove partial checkout", zap.String("dest", dest), zap.Error(rmErr))
			}
			if msg := strings.TrimSpace(string(out)); msg != "" {
				err = fmt.Errorf("%w: %s", err, msg)
			}
			return nil, &CheckoutError{Repo: src.Repo, Dir: dest, Err: err}
		}
	case nil:
		return nil, &ConfigurationError{Field: "source", Reason: "missing"}
	default:
		return nil, &ConfigurationError{Field: "source", Reason: fmt.Sprintf("unsupported kind %T", src)}
	}

	return &workspace{dir: dest, logger: logger}, nil
}

// command builds the fuzzer invocation and the directory it leaves artifacts in.
func (r *ProcessRunner) command(req types.RunRequest, dir string) (*exec.Cmd, string, error) {
	switch target := req.Runner.(type) {
	case types.CargoFuzz:
		cmd := exec.Command(r.cargoBinary, "fuzz", "run", target.Name)
		cmd.Dir = dir
		// nil stdio is connected to the null device
		cmd.Stdin, cmd.Stdout, cmd.Stderr = nil, nil, nil
		// the fuzzer forks its target, kill them together
		cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
		return cmd, filepath.Join(dir, "fuzz", "artifacts", target.Name), nil
	case nil:
		return nil, "", &ConfigurationError{Field: "runner", Reason: "missing"}
	default:
		return nil, "", &ConfigurationError{Field: "runner", Reason: fmt.Sprintf("unsupported kind %T", target)}
	}
}

// supervise waits for the child to exit, checking the signal once per poll
// interval. It reports whether the child was killed because of the signal.
func (r *ProcessRunner) supervise(ctx context.Context, cmd *exec.Cmd, sig *Signal, logger *zap.Logger) (bool, error) {
	exited := make(chan error, 1)
	go func() {
		exited <- cmd.Wait()
	}()

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case err := <-exited:
			var exitErr *exec.ExitError
			switch {
			case err == nil:
				logger.Info("fuzzer exited")
			case errors.As(err, &exitErr):
				// cargo fuzz exits non-zero after a crash, the artifacts tell the story
				logger.Info("fuzzer exited", zap.Int("code", exitErr.ExitCode()))
			default:
				return false, &ExecutionError{Command: cmd.String(), Err: err}
			}
			return false, nil
		case <-ticker.C:
			if !sig.take() {
				continue
			}
			logger.Debug("cancel signal received, killing fuzzer")
			if err := kill(cmd); err != nil {
				logger.Error("failed to kill fuzzer", zap.Error(err))
			}
			<-exited
			return true, nil
		case <-ctx.Done():
			if err := kill(cmd); err != nil {
				logger.Error("failed to kill fuzzer", zap.Error(err))
			}
			<-exited
			return false, ctx.Err()
		}
	}
}

// kill terminates the child and its process group. A child that already
// exited is not an error.
func kill(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	if err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL); err == nil {
		return nil
	}
	err := cmd.Process.Kill()
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}

func (r *ProcessRunner) watchArtifacts(req types.RunRequest, dir string, logger *zap.Logger) func() {
	if r.watchdogs == nil {
		return func() {}
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		logger.Warn("cannot watch artifacts", zap.String("dir", dir), zap.Error(err))
		return func() {}
	}

	ctx, cancel := context.WithCancel(context.Background())
	notify := make(chan string)
	wd, err := r.watchdogs.New(ctx, notify, watchdog.RegularFiles)
	if err != nil {
		cancel()
		logger.Warn("cannot watch artifacts", zap.String("dir", dir), zap.Error(err))
		return func() {}
	}
	if err := wd.AddDir(dir); err != nil {
		logger.Warn("cannot watch artifacts", zap.String("dir", dir), zap.Error(err))
	}

	relayed := make(chan struct{})
	go func() {
		defer close(relayed)
		for path := range notify {
			logger.Info("new artifact", zap.String("file", path))
			if r.observer != nil {
				r.observer.ArtifactFound(req, path)
			}
		}
	}()

	return func() {
		cancel()
		<-wd.Done()
		<-relayed
	}
}

// collect reads every regular file of the artifact directory. Files that can
// not be read are skipped, the rest is still returned.
func (r *ProcessRunner) collect(dir string, logger *zap.Logger) [][]byte {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			logger.Warn("failed to list artifacts", zap.String("dir", dir), zap.Error(err))
		}
		return nil
	}

	var artifacts [][]byte
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		data, err := r.readFile(path)
		if err != nil {
			logger.Warn("skipping unreadable artifact", zap.String("file", path), zap.Error(err))
			continue
		}
		artifacts = append(artifacts, data)
	}
	logger.Debug("collected artifacts", zap.Int("count", len(artifacts)))
	return artifacts
}
