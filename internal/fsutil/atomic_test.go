package fsutil

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "manifest.json")

	require.NoError(t, WriteFileAtomic(path, []byte("first"), 0644))
	require.NoError(t, WriteFileAtomic(path, []byte("second"), 0644))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))
	assertOnlyFiles(t, dir, "manifest.json")
}

func TestWriteAtomicFailureKeepsPrevious(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mix.peaks.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"peaks":[1],"duration":1}`), 0644))

	boom := errors.New("disk full")
	err := WriteAtomic(path, 0644, func(w io.Writer) error {
		if _, err := w.Write([]byte(`{"peaks":[0.1,0.`)); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, `{"peaks":[1],"duration":1}`, string(data))
	assertOnlyFiles(t, dir, "mix.peaks.json")
}

func TestWriteAtomicFailureLeavesNothing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "search-index.json")

	err := WriteAtomic(path, 0644, func(w io.Writer) error {
		w.Write([]byte("[{"))
		return errors.New("interrupted")
	})
	require.Error(t, err)
	assert.False(t, Exists(path))
	assertOnlyFiles(t, dir)
}

func TestWriteJSONAtomic(t *testing.T) {
	dir := t.TempDir()
	v := map[string]any{"name": "A & B", "n": []int{1, 2}}

	compact := filepath.Join(dir, "compact.json")
	require.NoError(t, WriteJSONAtomic(compact, v, ""))
	data, err := os.ReadFile(compact)
	require.NoError(t, err)
	assert.Equal(t, `{"n":[1,2],"name":"A & B"}`, string(data))

	indented := filepath.Join(dir, "indented.json")
	require.NoError(t, WriteJSONAtomic(indented, v, "  "))
	data, err = os.ReadFile(indented)
	require.NoError(t, err)
	assert.Equal(t, "{\n  \"n\": [\n    1,\n    2\n  ],\n  \"name\": \"A & B\"\n}", string(data))
}

func TestProduceAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cover.jpg")

	t.Run("success", func(t *testing.T) {
		err := ProduceAtomic(path, func(tmp string) error {
			assert.Equal(t, ".jpg", filepath.Ext(tmp))
			return os.WriteFile(tmp, []byte{0xFF, 0xD8}, 0644)
		})
		require.NoError(t, err)
		assert.True(t, Exists(path))
	})

	t.Run("empty output rejected", func(t *testing.T) {
		other := filepath.Join(dir, "empty.png")
		err := ProduceAtomic(other, func(tmp string) error { return nil })
		require.Error(t, err)
		assert.False(t, Exists(other))
	})

	t.Run("tool failure", func(t *testing.T) {
		other := filepath.Join(dir, "failed.gif")
		err := ProduceAtomic(other, func(tmp string) error {
			os.WriteFile(tmp, []byte("partial"), 0644)
			return errors.New("exit status 1")
		})
		require.Error(t, err)
		assert.False(t, Exists(other))
	})

	assertOnlyFiles(t, dir, "cover.jpg")
}

func TestIsTempName(t *testing.T) {
	testCases := []struct {
		name     string
		expected bool
	}{
		{".manifest.json.123.tmp", true},
		{"upload.tmp", true},
		{".hidden", true},
		{"mix.mp3", false},
		{"mix.peaks.json", false},
	}
	for _, tc := range testCases {
		if got := IsTempName(tc.name); got != tc.expected {
			t.Errorf("IsTempName(%s): expected %v, got %v", tc.name, tc.expected, got)
		}
	}
}

func assertOnlyFiles(t *testing.T, dir string, names ...string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var got []string
	for _, e := range entries {
		got = append(got, e.Name())
	}
	assert.ElementsMatch(t, names, got)
}
