package registry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Lol3rrr/cfuzz/internal/runner"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingMirror struct {
	mu  sync.Mutex
	ops []string
	err error
}

func (m *recordingMirror) Add(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops = append(m.ops, "+"+name)
	return m.err
}

func (m *recordingMirror) Remove(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops = append(m.ops, "-"+name)
	return m.err
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	r := New(zap.NewNop(), nil)

	require.NoError(t, r.Register(Job{Name: "t1", Project: "demo"}))
	assert.ErrorIs(t, r.Register(Job{Name: "t1", Project: "other"}), ErrAlreadyRunning)

	job, ok := r.Get("t1")
	require.True(t, ok)
	assert.Equal(t, "demo", job.Project)
	assert.False(t, job.StartedAt.IsZero())

	r.Deregister("t1")
	r.Deregister("t1")
	require.NoError(t, r.Register(Job{Name: "t1"}))
}

func TestNamesSorted(t *testing.T) {
	r := New(zap.NewNop(), nil)
	for _, name := range []string{"c", "a", "b"} {
		require.NoError(t, r.Register(Job{Name: name}))
	}
	assert.Equal(t, []string{"a", "b", "c"}, r.Names())

	r.Deregister("b")
	assert.Equal(t, []string{"a", "c"}, r.Names())
	assert.Empty(t, New(zap.NewNop(), nil).Names())
}

func TestCancelFiresArmedSignal(t *testing.T) {
	r := New(zap.NewNop(), nil)
	require.NoError(t, r.Register(Job{Name: "t1"}))

	sig := runner.NewSignal()
	require.True(t, r.Arm("t1", sig))
	assert.False(t, r.Stopped("t1"))

	assert.True(t, r.Cancel("t1"))
	assert.True(t, sig.Fired())
	assert.True(t, r.Stopped("t1"))

	// the next iteration must not start
	assert.False(t, r.Arm("t1", runner.NewSignal()))
	// still listed until the loop deregisters
	assert.Equal(t, []string{"t1"}, r.Names())

	assert.False(t, r.Cancel("unknown"))
	assert.True(t, r.Stopped("unknown"))
	assert.False(t, r.Arm("unknown", runner.NewSignal()))
}

func TestCancelBeforeArm(t *testing.T) {
	r := New(zap.NewNop(), nil)
	require.NoError(t, r.Register(Job{Name: "t1"}))

	assert.True(t, r.Cancel("t1"))
	assert.False(t, r.Arm("t1", runner.NewSignal()))
}

func TestCancelAll(t *testing.T) {
	r := New(zap.NewNop(), nil)
	signals := make([]*runner.Signal, 0, 3)
	for _, name := range []string{"a", "b", "c"} {
		require.NoError(t, r.Register(Job{Name: name}))
		sig := runner.NewSignal()
		require.True(t, r.Arm(name, sig))
		signals = append(signals, sig)
	}

	assert.Equal(t, 3, r.CancelAll())
	for _, sig := range signals {
		assert.True(t, sig.Fired())
	}
}

func TestConcurrentRegisterOnlyOneWins(t *testing.T) {
	r := New(zap.NewNop(), nil)

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if r.Register(Job{Name: "t1"}) == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestMirrorFollowsRegistry(t *testing.T) {
	mirror := &recordingMirror{}
	r := New(zap.NewNop(), mirror)

	require.NoError(t, r.Register(Job{Name: "t1"}))
	assert.Error(t, r.Register(Job{Name: "t1"}))
	r.Deregister("t1")
	r.Deregister("t1")

	assert.Equal(t, []string{"+t1", "-t1"}, mirror.ops)
}

func TestMirrorFailureIsNotFatal(t *testing.T) {
	r := New(zap.NewNop(), &recordingMirror{err: errors.New("redis down")})

	require.NoError(t, r.Register(Job{Name: "t1"}))
	assert.Equal(t, []string{"t1"}, r.Names())
}

func TestRedisMirrorUnreachable(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		MaxRetries:  -1,
		DialTimeout: 100 * time.Millisecond,
	})
	defer client.Close()

	r := New(zap.NewNop(), NewRedisMirror(client))
	require.NoError(t, r.Register(Job{Name: "t1"}))
	r.Deregister("t1")
	assert.Empty(t, r.Names())
}

// gatedMirror holds the set of mirrored names. Remove waits for release.
type gatedMirror struct {
	mu       sync.Mutex
	names    map[string]bool
	once     sync.Once
	removing chan struct{}
	release  chan struct{}
}

func newGatedMirror() *gatedMirror {
	return &gatedMirror{
		names:    make(map[string]bool),
		removing: make(chan struct{}),
		release:  make(chan struct{}),
	}
}

func (m *gatedMirror) Add(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.names[name] = true
	return nil
}

func (m *gatedMirror) Remove(_ context.Context, name string) error {
	m.once.Do(func() { close(m.removing) })
	<-m.release
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.names, name)
	return nil
}

func (m *gatedMirror) has(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.names[name]
}

func TestMirrorKeepsJobRegisteredDuringSlowRemove(t *testing.T) {
	mirror := newGatedMirror()
	r := New(zap.NewNop(), mirror)
	require.NoError(t, r.Register(Job{Name: "t1"}))

	deregistered := make(chan struct{})
	go func() {
		defer close(deregistered)
		r.Deregister("t1")
	}()
	<-mirror.removing

	registered := make(chan struct{})
	go func() {
		defer close(registered)
		assert.NoError(t, r.Register(Job{Name: "t1"}))
	}()
	require.Eventually(t, func() bool {
		_, ok := r.Get("t1")
		return ok
	}, time.Second, time.Millisecond)

	close(mirror.release)
	<-deregistered
	<-registered

	assert.Equal(t, []string{"t1"}, r.Names())
	assert.True(t, mirror.has("t1"))
}
