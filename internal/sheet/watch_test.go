package sheet

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestWatchCallsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stock.csv")
	require.NoError(t, os.WriteFile(path, []byte("ASIN\n"), 0o644))

	var calls int32
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, 10*time.Millisecond, func() error {
			atomic.AddInt32(&calls, 1)
			return errors.New("logged, not fatal")
		}, zap.NewNop())
	}()

	require.Eventually(t, func() bool {
		_ = os.WriteFile(path, []byte("ASIN\nB001\n"), 0o644)
		return atomic.LoadInt32(&calls) > 0
	}, 5*time.Second, 50*time.Millisecond)

	// a failing handler keeps the watch alive
	before := atomic.LoadInt32(&calls)
	require.Eventually(t, func() bool {
		_ = os.WriteFile(path, []byte("ASIN\nB002\n"), 0o644)
		return atomic.LoadInt32(&calls) > before
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}

func TestWatchMissingDirectory(t *testing.T) {
	err := Watch(context.Background(), filepath.Join(t.TempDir(), "nope", "stock.csv"), 0, func() error { return nil }, nil)
	require.Error(t, err)
}
