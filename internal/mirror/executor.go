package mirror

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"golang.org/x/sync/semaphore"
)

// executor runs notification handlers. Tasks sharing a key run one at a
// time in submission order; tasks with disjoint keys run concurrently up
// to a limit. Nothing runs until open is called.
type executor struct {
	mu sync.Mutex
	// tails maps a key to the done channel of the last task submitted
	// for it.
	tails map[string]chan struct{}

	sem      *semaphore.Weighted
	gate     chan struct{}
	gateOnce sync.Once

	// abort releases tasks still held at the gate without running them.
	abort     chan struct{}
	abortOnce sync.Once

	wg     sync.WaitGroup
	logger *slog.Logger
}

func newExecutor(limit int, logger *slog.Logger) *executor {
	if limit < 1 {
		limit = 1
	}

	return &executor{
		tails:  make(map[string]chan struct{}),
		sem:    semaphore.NewWeighted(int64(limit)),
		gate:   make(chan struct{}),
		abort:  make(chan struct{}),
		logger: logger,
	}
}

// open lets queued and future tasks run.
func (e *executor) open() {
	e.gateOnce.Do(func() { close(e.gate) })
}

// discard drops every task still waiting for open. Tasks already past
// the gate are unaffected.
func (e *executor) discard() {
	e.abortOnce.Do(func() { close(e.abort) })
}

// submit queues fn behind every earlier task on keys. It also waits for
// earlier tasks on after, without holding up later tasks on those keys.
// submit never blocks.
func (e *executor) submit(ctx context.Context, keys, after []string, fn func(context.Context)) {
	keys = dedupe(keys)
	done := make(chan struct{})

	e.mu.Lock()

	var deps []chan struct{}

	for _, k := range after {
		if ch, ok := e.tails[k]; ok {
			deps = append(deps, ch)
		}
	}

	for _, k := range keys {
		if ch, ok := e.tails[k]; ok {
			deps = append(deps, ch)
		}

		e.tails[k] = done
	}

	e.mu.Unlock()

	e.wg.Add(1)

	go func() {
		defer e.wg.Done()
		defer e.finish(keys, done)

		select {
		case <-e.gate:
		case <-e.abort:
			return
		case <-ctx.Done():
			return
		}

		for _, ch := range deps {
			select {
			case <-ch:
			case <-ctx.Done():
				return
			}
		}

		if err := e.sem.Acquire(ctx, 1); err != nil {
			return
		}
		defer e.sem.Release(1)

		e.run(ctx, keys, fn)
	}()
}

// run calls fn, containing any panic so one bad notification cannot take
// the process down.
func (e *executor) run(ctx context.Context, keys []string, fn func(context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("handler panicked",
				slog.Any("keys", keys),
				slog.String("panic", fmt.Sprint(r)),
				slog.String("stack", string(debug.Stack())),
			)
		}
	}()

	fn(ctx)
}

func (e *executor) finish(keys []string, done chan struct{}) {
	e.mu.Lock()
	for _, k := range keys {
		if e.tails[k] == done {
			delete(e.tails, k)
		}
	}
	e.mu.Unlock()

	close(done)
}

// wait blocks until every submitted task has finished or given up.
func (e *executor) wait() {
	e.wg.Wait()
}

func dedupe(keys []string) []string {
	if len(keys) < 2 {
		return keys
	}

	out := make([]string, 0, len(keys))
	seen := make(map[string]bool, len(keys))

	for _, k := range keys {
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}

	return out
}
