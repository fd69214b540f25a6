package watchdog

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestWatchDogReportsCreatedFiles(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	notify := make(chan string, 8)
	wd, err := NewWatchDogFactory(zap.NewNop()).New(ctx, notify, RegularFiles)
	require.NoError(t, err)
	require.NoError(t, wd.AddDir(dir))

	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested"), 0o755))
	crash := filepath.Join(dir, "crash-1")
	require.NoError(t, os.WriteFile(crash, []byte("boom"), 0o644))

	select {
	case got := <-notify:
		assert.Equal(t, crash, got)
	case <-time.After(5 * time.Second):
		t.Fatal("no notification for created file")
	}

	cancel()
	<-wd.Done()
	// drained and closed
	for range notify {
	}
}

func TestAddDirMissing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	notify := make(chan string)
	wd, err := NewWatchDogFactory(zap.NewNop()).New(ctx, notify, nil)
	require.NoError(t, err)

	assert.Error(t, wd.AddDir(filepath.Join(t.TempDir(), "missing")))

	cancel()
	<-wd.Done()
	_, open := <-notify
	assert.False(t, open)
}
