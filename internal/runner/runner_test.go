package runner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/Lol3rrr/cfuzz/config"
	"github.com/Lol3rrr/cfuzz/internal/types"
	"github.com/Lol3rrr/cfuzz/pkg/watchdog"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const fakeGit = `
# clone <repo> <dest>
if [ "$2" = "broken" ]; then
	mkdir -p "$3/partial"
	echo "repository not found" >&2
	exit 128
fi
mkdir -p "$3/fuzzing"
`

const crashingCargo = `
# fuzz run <name>
mkdir -p "fuzz/artifacts/$3/nested"
printf 'crash-a' > "fuzz/artifacts/$3/crash-a"
printf 'crash-b' > "fuzz/artifacts/$3/crash-b"
exit 77
`

const cleanCargo = `
exit 0
`

const hangingCargo = `
exec sleep 30
`

type fixture struct {
	workDir string
	runner  *ProcessRunner
}

func writeScript(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0755))
	return path
}

func newFixture(t *testing.T, cargo string, opts ...Option) fixture {
	t.Helper()
	workDir := t.TempDir()
	cfg := config.RunnerConfig{
		WorkDir:      workDir,
		PollInterval: 10 * time.Millisecond,
		GitBinary:    writeScript(t, "git", fakeGit),
		CargoBinary:  writeScript(t, "cargo", cargo),
	}
	return fixture{workDir: workDir, runner: NewProcessRunner(cfg, zap.NewNop(), opts...)}
}

func (f fixture) assertWorkspaceGone(t *testing.T, req types.RunRequest) {
	t.Helper()
	_, err := os.Stat(filepath.Join(f.workDir, req.ProjectName, req.Name))
	assert.True(t, errors.Is(err, os.ErrNotExist), "workspace should be removed, stat error: %v", err)
}

func request() types.RunRequest {
	return types.RunRequest{
		ProjectName: "demo",
		Name:        "t1",
		Runner:      types.CargoFuzz{Name: "fuzz_1"},
		Source:      types.Git{Repo: "https://example/demo.git"},
		Folder:      "fuzzing",
	}
}

func TestRunCollectsArtifacts(t *testing.T) {
	f := newFixture(t, crashingCargo)
	req := request()

	artifacts, err := f.runner.Run(context.Background(), req, NewSignal())
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("crash-a"), []byte("crash-b")}, artifacts)
	f.assertWorkspaceGone(t, req)
}

func TestRunWithoutArtifacts(t *testing.T) {
	f := newFixture(t, cleanCargo)
	req := request()

	artifacts, err := f.runner.Run(context.Background(), req, NewSignal())
	require.NoError(t, err)
	assert.Nil(t, artifacts)
	f.assertWorkspaceGone(t, req)
}

func TestRunReplacesStaleWorkspace(t *testing.T) {
	f := newFixture(t, crashingCargo)
	req := request()

	stale := filepath.Join(f.workDir, "demo", "t1", "fuzzing", "fuzz", "artifacts", "fuzz_1")
	require.NoError(t, os.MkdirAll(stale, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(stale, "old-crash"), []byte("old"), 0644))

	artifacts, err := f.runner.Run(context.Background(), req, nil)
	require.NoError(t, err)
	assert.Len(t, artifacts, 2)
	f.assertWorkspaceGone(t, req)
}

func TestRunCheckoutFailure(t *testing.T) {
	f := newFixture(t, cleanCargo)
	req := request()
	req.Source = types.Git{Repo: "broken"}

	artifacts, err := f.runner.Run(context.Background(), req, NewSignal())
	assert.Nil(t, artifacts)

	var checkoutErr *CheckoutError
	require.ErrorAs(t, err, &checkoutErr)
	assert.Equal(t, "broken", checkoutErr.Repo)
	assert.Contains(t, err.Error(), "repository not found")
	f.assertWorkspaceGone(t, req)
}

func TestRunLaunchFailure(t *testing.T) {
	f := newFixture(t, cleanCargo)
	f.runner.cargoBinary = filepath.Join(t.TempDir(), "missing-cargo")
	req := request()

	_, err := f.runner.Run(context.Background(), req, NewSignal())
	var execErr *ExecutionError
	require.ErrorAs(t, err, &execErr)
	f.assertWorkspaceGone(t, req)
}

func TestRunMissingFolder(t *testing.T) {
	for name, opts := range map[string][]Option{
		"plain":    nil,
		"watchdog": {WithWatchDog(watchdog.NewWatchDogFactory(zap.NewNop()), &recordingObserver{})},
	} {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, cleanCargo, opts...)
			req := request()
			req.Folder = "does-not-exist"

			artifacts, err := f.runner.Run(context.Background(), req, NewSignal())
			assert.Nil(t, artifacts)

			var cfgErr *ConfigurationError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, "folder", cfgErr.Field)
			f.assertWorkspaceGone(t, req)
		})
	}
}

func TestRunSkipsUnreadableArtifacts(t *testing.T) {
	f := newFixture(t, crashingCargo)
	f.runner.readFile = func(name string) ([]byte, error) {
		if filepath.Base(name) == "crash-a" {
			return nil, os.ErrPermission
		}
		return os.ReadFile(name)
	}
	req := request()

	artifacts, err := f.runner.Run(context.Background(), req, NewSignal())
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("crash-b")}, artifacts)
	f.assertWorkspaceGone(t, req)
}

func TestRunCancelled(t *testing.T) {
	f := newFixture(t, hangingCargo)
	req := request()
	sig := NewSignal()

	time.AfterFunc(100*time.Millisecond, sig.Fire)
	start := time.Now()
	artifacts, err := f.runner.Run(context.Background(), req, sig)
	require.NoError(t, err)
	assert.Nil(t, artifacts)
	assert.True(t, sig.Fired())
	assert.Less(t, time.Since(start), 10*time.Second)
	f.assertWorkspaceGone(t, req)
}

func TestRunContextCancelled(t *testing.T) {
	f := newFixture(t, hangingCargo)
	req := request()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := f.runner.Run(ctx, req, NewSignal())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	f.assertWorkspaceGone(t, req)
}

func TestRunWithTimeout(t *testing.T) {
	f := newFixture(t, hangingCargo)
	req := request()
	sig := NewSignal()

	artifacts, err := RunWithTimeout(context.Background(), f.runner, req, sig, 100*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, artifacts)
	assert.True(t, sig.Fired())
	f.assertWorkspaceGone(t, req)
}

func TestRunWithTimeoutFinishesFirst(t *testing.T) {
	f := newFixture(t, crashingCargo)
	sig := NewSignal()

	artifacts, err := RunWithTimeout(context.Background(), f.runner, request(), sig, time.Minute)
	require.NoError(t, err)
	assert.Len(t, artifacts, 2)
	assert.False(t, sig.Fired())
}

func TestRunRejectsBadRequests(t *testing.T) {
	f := newFixture(t, cleanCargo)

	cases := map[string]func(*types.RunRequest){
		"missing source":   func(r *types.RunRequest) { r.Source = nil },
		"missing runner":   func(r *types.RunRequest) { r.Runner = nil },
		"escaping folder":  func(r *types.RunRequest) { r.Folder = "../../etc" },
		"absolute folder":  func(r *types.RunRequest) { r.Folder = "/tmp" },
		"job name path":    func(r *types.RunRequest) { r.Name = "../t1" },
		"empty project":    func(r *types.RunRequest) { r.ProjectName = "" },
		"dot project name": func(r *types.RunRequest) { r.ProjectName = ".." },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			req := request()
			mutate(&req)
			_, err := f.runner.Run(context.Background(), req, NewSignal())
			var cfgErr *ConfigurationError
			assert.ErrorAs(t, err, &cfgErr)
		})
	}
}

type recordingObserver struct {
	mu    sync.Mutex
	paths []string
}

func (o *recordingObserver) ArtifactFound(_ types.RunRequest, path string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.paths = append(o.paths, filepath.Base(path))
}

func TestRunReportsArtifactsWhileRunning(t *testing.T) {
	observer := &recordingObserver{}
	f := newFixture(t, `
printf 'early' > "fuzz/artifacts/$3/crash-early"
sleep 0.5
`, WithWatchDog(watchdog.NewWatchDogFactory(zap.NewNop()), observer))

	artifacts, err := f.runner.Run(context.Background(), request(), NewSignal())
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("early")}, artifacts)

	observer.mu.Lock()
	defer observer.mu.Unlock()
	assert.Equal(t, []string{"crash-early"}, observer.paths)
}

func TestSignal(t *testing.T) {
	var nilSignal *Signal
	nilSignal.Fire()
	assert.False(t, nilSignal.Fired())
	assert.False(t, nilSignal.take())

	sig := NewSignal()
	assert.False(t, sig.take())
	sig.Fire()
	sig.Fire()
	assert.True(t, sig.Fired())
	assert.True(t, sig.take())
	assert.False(t, sig.take())
	assert.True(t, sig.Fired())
}

type panickingRunner struct{}

func (panickingRunner) Run(context.Context, types.RunRequest, *Signal) ([][]byte, error) {
	panic("worker died")
}

func TestRunToCompletionRecoversPanic(t *testing.T) {
	_, err := RunToCompletion(context.Background(), panickingRunner{}, request(), NewSignal())
	assert.ErrorIs(t, err, ErrExecutionLost)
}

func TestKillExitedChild(t *testing.T) {
	f := newFixture(t, cleanCargo)
	cmd, _, err := f.runner.command(request(), t.TempDir())
	require.NoError(t, err)
	require.NoError(t, cmd.Run())

	assert.NoError(t, kill(cmd))
	assert.NoError(t, kill(cmd))
}
