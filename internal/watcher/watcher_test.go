package watcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func isMP3(name string) bool {
	return strings.HasSuffix(strings.ToLower(name), ".mp3")
}

func startWatcher(t *testing.T, root string) <-chan []string {
	t.Helper()
	batches := make(chan []string, 10)
	w := New(root, 100*time.Millisecond, isMP3, func(ctx context.Context, dirs []string) {
		batches <- dirs
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	select {
	case <-w.Started():
	case err := <-done:
		t.Fatalf("watcher stopped early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not start")
	}
	return batches
}

func TestWatcherBatchesDirtyDirectories(t *testing.T) {
	root := t.TempDir()
	djA := filepath.Join(root, "DJA")
	djB := filepath.Join(root, "moreDJs", "DJB")
	require.NoError(t, os.MkdirAll(djA, 0755))
	require.NoError(t, os.MkdirAll(djB, 0755))

	batches := startWatcher(t, root)

	require.NoError(t, os.WriteFile(filepath.Join(djA, "one.mp3"), []byte("a"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(djA, "two.mp3"), []byte("b"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(djB, "three.MP3"), []byte("c"), 0644))

	select {
	case dirs := <-batches:
		assert.Equal(t, []string{djA, djB}, dirs)
	case <-time.After(5 * time.Second):
		t.Fatal("no batch after writing audio")
	}
}

func TestWatcherIgnoresOtherFiles(t *testing.T) {
	root := t.TempDir()
	batches := startWatcher(t, root)

	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".set.mp3.123.tmp"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "set.peaks.json"), []byte("x"), 0644))

	select {
	case dirs := <-batches:
		t.Fatalf("unexpected batch %v", dirs)
	case <-time.After(400 * time.Millisecond):
	}
}

func TestWatcherFollowsNewDirectories(t *testing.T) {
	root := t.TempDir()
	batches := startWatcher(t, root)

	dj := filepath.Join(root, "NewDJ")
	require.NoError(t, os.Mkdir(dj, 0755))
	// give the watcher a moment to register the new directory
	time.Sleep(200 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(dj, "set.mp3"), []byte("x"), 0644))

	deadline := time.After(5 * time.Second)
	for {
		select {
		case dirs := <-batches:
			if len(dirs) == 1 && dirs[0] == dj {
				return
			}
		case <-deadline:
			t.Fatal("write in new directory not reported")
		}
	}
}

func TestTakeDirtyResets(t *testing.T) {
	w := New(t.TempDir(), time.Second, isMP3, nil, nil)
	w.dirty["/b"] = struct{}{}
	w.dirty["/a"] = struct{}{}
	assert.Equal(t, []string{"/a", "/b"}, w.takeDirty())
	assert.Empty(t, w.takeDirty())
}
