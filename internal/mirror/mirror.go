// Package mirror keeps a remote object store in step with a local
// directory tree. It reconciles the tree against the metadata cache on
// startup and turns filesystem notifications into remote operations,
// making sure every remote object is created under an existing parent.
package mirror

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/alexjbarnes/drive-mirror/internal/models"
	"github.com/alexjbarnes/drive-mirror/internal/remote"
	"github.com/alexjbarnes/drive-mirror/internal/watcher"
)

// Cache persists SyncEntry records keyed by absolute local path.
type Cache interface {
	AllEntries() ([]models.SyncEntry, error)
	GetEntry(path string) (*models.SyncEntry, error)
	InsertEntries(entries []models.SyncEntry) error
	UpdateEntry(oldPath string, entry models.SyncEntry) error
	DeleteEntry(path string) error
	DeleteTree(path string) (int, error)
}

// RemoteStore is the remote object store.
type RemoteStore interface {
	GenerateIDs(ctx context.Context, count int) ([]string, error)
	Create(ctx context.Context, obj remote.Object) (string, error)
	UpdateContent(ctx context.Context, id string, content io.Reader) error
	Rename(ctx context.Context, id, newName string) error
	Delete(ctx context.Context, id string) error
}

// Enumerator lists every file and folder under a root, parents first.
type Enumerator interface {
	Enumerate(root string) ([]models.Item, error)
}

// Notifier delivers change notifications until its context ends.
type Notifier interface {
	Watch(ctx context.Context, h watcher.Handler) error
}

// readyNotifier is implemented by notifiers that can report when they
// are observing the whole tree.
type readyNotifier interface {
	Ready() <-chan struct{}
}

// Config tunes an Orchestrator.
type Config struct {
	// Root is the absolute path of the synchronization root.
	Root string

	// RootParentID is the remote folder the root is created in. Empty
	// means the remote top level.
	RootParentID string

	// CascadeDelete drops cached descendants along with a deleted
	// folder's entry.
	CascadeDelete bool

	// MaxConcurrent bounds how many notifications are handled at once.
	MaxConcurrent int

	// RetryAttempts is the number of tries per remote call. Values below
	// one mean a single attempt.
	RetryAttempts int
	RetryBackoff  time.Duration
}

// Orchestrator owns the synchronization of one root.
type Orchestrator struct {
	root          string
	cascadeDelete bool

	cache      Cache
	store      RemoteStore
	resolver   *Resolver
	reconciler *Reconciler
	exec       *executor
	retry      retryPolicy
	logger     *slog.Logger
}

// New creates an orchestrator. Notifications are queued until startup
// reconciliation has finished.
func New(cfg Config, cache Cache, store RemoteStore, enum Enumerator, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		root:          cfg.Root,
		cascadeDelete: cfg.CascadeDelete,
		cache:         cache,
		store:         store,
		resolver:      NewResolver(cfg.Root, cfg.RootParentID, cache),
		reconciler:    NewReconciler(cfg.Root, cache, enum),
		exec:          newExecutor(cfg.MaxConcurrent, logger),
		retry:         newRetryPolicy(cfg.RetryAttempts, cfg.RetryBackoff),
		logger:        logger,
	}
}

// Run starts the notifier, reconciles the tree, then serves
// notifications until ctx is cancelled or the notifier fails. It waits
// for in-flight handlers before returning. Notifications queued before
// the notifier became ready are dropped if it never does.
func (o *Orchestrator) Run(ctx context.Context, n Notifier) error {
	watchErr := make(chan error, 1)

	go func() {
		watchErr <- n.Watch(ctx, o)
	}()

	// Reconcile only once the notifier observes the tree, so nothing
	// changed in between slips through both.
	if rn, ok := n.(readyNotifier); ok {
		select {
		case <-rn.Ready():
		case err := <-watchErr:
			o.exec.discard()
			o.exec.wait()

			return err
		case <-ctx.Done():
			o.exec.discard()
			o.exec.wait()

			return ctx.Err()
		}
	}

	if err := o.Reconcile(ctx); err != nil {
		// Not fatal: what failed is retried on the next startup and
		// live changes are still mirrored.
		o.logger.Error("startup reconciliation failed", slog.String("error", err.Error()))
	}

	o.exec.open()

	err := <-watchErr

	o.exec.wait()

	return err
}

// OnCreated queues a Created notification.
func (o *Orchestrator) OnCreated(ctx context.Context, path string, kind models.Kind) {
	o.exec.submit(ctx, []string{path}, o.parentKeys(path), func(ctx context.Context) {
		o.handleCreated(ctx, path, kind)
	})
}

// OnChanged queues a Changed notification.
func (o *Orchestrator) OnChanged(ctx context.Context, path string, kind models.Kind) {
	o.exec.submit(ctx, []string{path}, o.parentKeys(path), func(ctx context.Context) {
		o.handleChanged(ctx, path, kind)
	})
}

// OnDeleted queues a Deleted notification.
func (o *Orchestrator) OnDeleted(ctx context.Context, path string) {
	o.exec.submit(ctx, []string{path}, nil, func(ctx context.Context) {
		o.handleDeleted(ctx, path)
	})
}

// OnRenamed queues a Renamed notification. It is ordered after pending
// work on both the old and the new path.
func (o *Orchestrator) OnRenamed(ctx context.Context, oldPath, newPath string, kind models.Kind) {
	o.exec.submit(ctx, []string{oldPath, newPath}, o.parentKeys(newPath), func(ctx context.Context) {
		o.handleRenamed(ctx, oldPath, newPath, kind)
	})
}

// parentKeys returns the executor key a task on path must wait for: its
// parent directory, unless path is the root.
func (o *Orchestrator) parentKeys(path string) []string {
	if path == o.root {
		return nil
	}

	return []string{parentDir(path)}
}
