package logtail

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeLines(t *testing.T, path string, from, to int) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	for i := from; i <= to; i++ {
		_, err := fmt.Fprintf(f, "line %d\n", i)
		require.NoError(t, err)
	}
}

func TestTailLastLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kats.log")
	writeLines(t, path, 1, 100)

	lines, size, err := Tail(path, 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"line 98", "line 99", "line 100"}, lines)
	fi, _ := os.Stat(path)
	assert.Equal(t, fi.Size(), size)
}

func TestTailShortFileAndPartialLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kats.log")
	require.NoError(t, os.WriteFile(path, []byte("a\nb\nc"), 0o600))

	lines, _, err := Tail(path, 50)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, lines)
}

func TestTailAcrossChunks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kats.log")
	long := strings.Repeat("x", chunkSize/2)
	var b strings.Builder
	for i := 0; i < 6; i++ {
		fmt.Fprintf(&b, "%d %s\n", i, long)
	}
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o600))

	lines, _, err := Tail(path, 4)
	require.NoError(t, err)
	require.Len(t, lines, 4)
	assert.True(t, strings.HasPrefix(lines[0], "2 "))
	assert.True(t, strings.HasPrefix(lines[3], "5 "))
}

func TestTailMissingAndEmpty(t *testing.T) {
	_, _, err := Tail(filepath.Join(t.TempDir(), "none.log"), 5)
	require.ErrorIs(t, err, os.ErrNotExist)

	path := filepath.Join(t.TempDir(), "empty.log")
	require.NoError(t, os.WriteFile(path, nil, 0o600))
	lines, _, err := Tail(path, 5)
	require.NoError(t, err)
	assert.Empty(t, lines)
}

type syncBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

func TestFollowStreamsAppendedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kats.log")
	writeLines(t, path, 1, 2)
	_, size, err := Tail(path, 10)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	var out syncBuffer
	done := make(chan error, 1)
	go func() { done <- Follow(ctx, path, size, &out) }()

	require.Eventually(t, func() bool {
		writeLines(t, path, 3, 3)
		return strings.Contains(out.String(), "line 3")
	}, 5*time.Second, 50*time.Millisecond)
	assert.NotContains(t, out.String(), "line 1")

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Follow did not return after cancel")
	}
}

func TestFollowRestartsAfterTruncate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kats.log")
	writeLines(t, path, 1, 50)
	fi, err := os.Stat(path)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var out syncBuffer
	go func() { _ = Follow(ctx, path, fi.Size(), &out) }()

	require.NoError(t, os.WriteFile(path, []byte("fresh start\n"), 0o600))
	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "fresh start")
	}, 5*time.Second, 20*time.Millisecond)
}
