package watch

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

func TestMarkerWriteTriggersInvalidation(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "snapshot.marker")

	var calls atomic.Int32
	w, err := New(Options{MarkerPath: marker, Debounce: 20 * time.Millisecond},
		func(context.Context) error {
			calls.Add(1)
			return nil
		})
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Stop() })

	go func() { _ = w.Start(context.Background()) }()
	time.Sleep(50 * time.Millisecond) // let the watch register

	require.NoError(t, os.WriteFile(marker, []byte("snap-1"), 0o644))

	require.Eventually(t, func() bool {
		return calls.Load() == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, w.Fired())
}

func TestBurstOfWritesDebouncesToOneInvalidation(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "snapshot.marker")

	var calls atomic.Int32
	w, err := New(Options{MarkerPath: marker, Debounce: 100 * time.Millisecond},
		func(context.Context) error {
			calls.Add(1)
			return nil
		})
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Stop() })

	go func() { _ = w.Start(context.Background()) }()
	time.Sleep(50 * time.Millisecond)

	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(marker, []byte{byte(i)}, 0o644))
		time.Sleep(10 * time.Millisecond)
	}

	require.Eventually(t, func() bool {
		return calls.Load() >= 1
	}, 2*time.Second, 10*time.Millisecond)

	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
}

func TestUnrelatedFilesIgnored(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "snapshot.marker")

	var calls atomic.Int32
	w, err := New(Options{MarkerPath: marker, Debounce: 20 * time.Millisecond},
		func(context.Context) error {
			calls.Add(1)
			return nil
		})
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Stop() })

	go func() { _ = w.Start(context.Background()) }()
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.txt"), []byte("x"), 0o644))
	time.Sleep(200 * time.Millisecond)

	assert.Equal(t, int32(0), calls.Load())
}

func TestStopIdempotent(t *testing.T) {
	w, err := New(Options{MarkerPath: filepath.Join(t.TempDir(), "m")}, func(context.Context) error { return nil })
	require.NoError(t, err)

	require.NoError(t, w.Stop())
	require.NoError(t, w.Stop())
}
