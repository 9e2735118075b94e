package e2e_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/alexjbarnes/drive-mirror/internal/ignore"
	"github.com/alexjbarnes/drive-mirror/internal/mirror"
	"github.com/alexjbarnes/drive-mirror/internal/remote"
	"github.com/alexjbarnes/drive-mirror/internal/state"
	"github.com/alexjbarnes/drive-mirror/internal/tree"
	"github.com/alexjbarnes/drive-mirror/internal/watcher"
	"github.com/stretchr/testify/require"
)

const (
	settleTimeout = 5 * time.Second
	pollInterval  = 50 * time.Millisecond
)

// harness runs the real daemon stack against a temp root: fsnotify
// watcher, bbolt cache and the in-memory remote store.
type harness struct {
	Root      string
	StatePath string
	Store     *remote.Memory

	cancel context.CancelFunc
	done   chan error
	cache  *state.State
}

// newHarness seeds nothing; call seed before start to get files picked
// up by startup reconciliation.
func newHarness(t *testing.T) *harness {
	t.Helper()

	return &harness{
		Root:      t.TempDir(),
		StatePath: filepath.Join(t.TempDir(), "state.db"),
		Store:     remote.NewMemory(),
	}
}

func (h *harness) seed(t *testing.T, files map[string]string) {
	t.Helper()

	for rel, content := range files {
		h.write(t, rel, content)
	}
}

// start launches the orchestrator and blocks until startup
// reconciliation has created the root remotely.
func (h *harness) start(t *testing.T) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cache, err := state.LoadAt(h.StatePath)
	require.NoError(t, err)
	require.NoError(t, cache.SetRoot(h.Root))
	h.cache = cache

	matcher, err := ignore.Load(h.Root, filepath.Join(h.Root, ".mirrorignore"))
	require.NoError(t, err)

	orch := mirror.New(mirror.Config{
		Root:          h.Root,
		CascadeDelete: true,
		MaxConcurrent: 4,
		RetryAttempts: 1,
	}, cache, h.Store, tree.NewEnumerator(matcher, logger), logger)

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.done = make(chan error, 1)

	go func() {
		h.done <- orch.Run(ctx, watcher.NewWatcher(h.Root, matcher, logger))
	}()

	t.Cleanup(func() { h.stop(t) })

	h.eventually(t, func() bool {
		entry, err := cache.GetEntry(h.Root)
		return err == nil && entry != nil
	}, "root never reached the remote store")
}

// stop cancels the daemon, waits for it and closes the cache. It is
// safe to call more than once.
func (h *harness) stop(t *testing.T) {
	t.Helper()

	if h.cancel == nil {
		return
	}

	h.cancel()

	select {
	case err := <-h.done:
		if err != nil {
			require.True(t, errors.Is(err, context.Canceled), "unexpected run error: %v", err)
		}
	case <-time.After(settleTimeout):
		t.Fatal("daemon did not stop")
	}

	require.NoError(t, h.cache.Close())
	h.cancel = nil
}

func (h *harness) path(rel string) string {
	return filepath.Join(h.Root, filepath.FromSlash(rel))
}

func (h *harness) write(t *testing.T, rel, content string) {
	t.Helper()

	p := h.path(rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
}

// remoteTree returns every remote path relative to the object mirroring
// the root, sorted. The root itself is "".
func (h *harness) remoteTree() []string {
	prefix := filepath.Base(h.Root)

	var out []string
	for _, p := range h.Store.Paths() {
		if !strings.HasPrefix(p, prefix) {
			continue
		}

		out = append(out, strings.TrimPrefix(strings.TrimPrefix(p, prefix), "/"))
	}

	sort.Strings(out)

	return out
}

// remoteContent returns the content of the remote object mirroring rel.
func (h *harness) remoteContent(t *testing.T, rel string) (string, bool) {
	t.Helper()

	entry, err := h.cache.GetEntry(h.path(rel))
	if err != nil || entry == nil {
		return "", false
	}

	obj, ok := h.Store.Get(entry.RemoteID)
	if !ok {
		return "", false
	}

	return string(obj.Content), true
}

func (h *harness) eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, settleTimeout, pollInterval, msg)
}

func (h *harness) eventuallyTree(t *testing.T, want ...string) {
	t.Helper()

	sort.Strings(want)

	var got []string
	ok := assertEventually(func() bool {
		got = h.remoteTree()
		return equalStrings(got, want)
	})
	require.True(t, ok, "remote tree mismatch\nwant: %v\ngot:  %v", want, got)
}

func assertEventually(cond func() bool) bool {
	deadline := time.Now().Add(settleTimeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(pollInterval)
	}
	return cond()
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (h *harness) cacheEntryID(path string) (string, error) {
	entry, err := h.cache.GetEntry(path)
	if err != nil || entry == nil {
		return "", err
	}

	return entry.RemoteID, nil
}
