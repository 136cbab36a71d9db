package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcherDebouncedReindex(t *testing.T) {
	dir := t.TempDir()

	var fired atomic.Int64
	var gotFolder atomic.Value
	w, err := New(func(_ context.Context, folder string) {
		fired.Add(1)
		gotFolder.Store(folder)
	}, Options{Debounce: 100 * time.Millisecond}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Start(ctx, dir) }()
	defer w.Stop()

	time.Sleep(50 * time.Millisecond) // let the watch set settle

	// A burst of writes collapses into one reindex.
	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "doc.json"), []byte("v"), 0o644))
		time.Sleep(10 * time.Millisecond)
	}

	require.Eventually(t, func() bool { return fired.Load() == 1 }, 2*time.Second, 20*time.Millisecond)
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, int64(1), fired.Load())

	resolved, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)
	got, _ := filepath.EvalSymlinks(gotFolder.Load().(string))
	assert.Equal(t, resolved, got)
}

func TestWatcherIgnoresDotfiles(t *testing.T) {
	dir := t.TempDir()

	var fired atomic.Int64
	w, err := New(func(context.Context, string) { fired.Add(1) },
		Options{Debounce: 50 * time.Millisecond}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Start(ctx, dir) }()
	defer w.Stop()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".hidden"), []byte("x"), 0o644))

	time.Sleep(300 * time.Millisecond)
	assert.Zero(t, fired.Load())
}

func TestWatcherStopCancelsPending(t *testing.T) {
	dir := t.TempDir()

	var fired atomic.Int64
	w, err := New(func(context.Context, string) { fired.Add(1) },
		Options{Debounce: 200 * time.Millisecond}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Start(ctx, dir) }()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "doc.json"), []byte("x"), 0o644))
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, w.Stop())
	time.Sleep(400 * time.Millisecond)
	assert.Zero(t, fired.Load())
}

func TestOptionsDefaults(t *testing.T) {
	opts := Options{}.WithDefaults()
	assert.Equal(t, 2*time.Second, opts.Debounce)
}
