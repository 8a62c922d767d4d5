package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoopReportsWriteEvent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.log")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	l, err := New(50*time.Millisecond, nil)
	require.NoError(t, err)
	require.NoError(t, l.Add(path))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	require.NoError(t, os.WriteFile(path, []byte("xy"), 0o644))

	select {
	case ev := <-l.Events():
		assert.Equal(t, path, ev.Path)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for fsnotify event")
	}
}

func TestLoopTicks(t *testing.T) {
	l, err := New(10*time.Millisecond, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	select {
	case <-l.Ticks():
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for tick")
	}
}
