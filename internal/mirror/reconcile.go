package mirror

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alexjbarnes/drive-mirror/internal/models"
)

// Pending is a local path that has no cache entry yet.
type Pending struct {
	Path string
	Kind models.Kind
	// ParentRemoteID is taken from the cached entry of the parent
	// directory. It is empty when the parent is pending too, or for the
	// root.
	ParentRemoteID string
}

// Reconciler computes which local paths still need uploading.
type Reconciler struct {
	root  string
	cache Cache
	enum  Enumerator
}

// NewReconciler creates a reconciler for root.
func NewReconciler(root string, cache Cache, enum Enumerator) *Reconciler {
	return &Reconciler{root: root, cache: cache, enum: enum}
}

// Unsynced returns every enumerated path without a cache entry, in
// enumeration order, so a parent always precedes its children. Paths are
// matched by exact string equality. It makes no remote calls and is
// safe to repeat.
func (r *Reconciler) Unsynced() ([]Pending, error) {
	items, err := r.enum.Enumerate(r.root)
	if err != nil {
		return nil, fmt.Errorf("enumerating %s: %w", r.root, err)
	}

	entries, err := r.cache.AllEntries()
	if err != nil {
		return nil, fmt.Errorf("reading cache: %w", err)
	}

	cached := make(map[string]models.SyncEntry, len(entries))
	for _, e := range entries {
		cached[e.Path] = e
	}

	var pending []Pending

	for _, item := range items {
		if _, ok := cached[item.Path]; ok {
			continue
		}

		p := Pending{Path: item.Path, Kind: item.Kind}

		if item.Path != r.root {
			if parent, ok := cached[parentDir(item.Path)]; ok {
				p.ParentRemoteID = parent.RemoteID
			}
		}

		pending = append(pending, p)
	}

	return pending, nil
}

// Reconcile uploads every local path the cache does not know about. All
// identifiers are allocated with one call up front, so a child can name
// its parent before the parent has been created. Entries are created in
// enumeration order and persisted together at the end. A failed entry is
// left for the next pass, and so are its descendants.
func (o *Orchestrator) Reconcile(ctx context.Context) error {
	pending, err := o.reconciler.Unsynced()
	if err != nil {
		return err
	}

	if len(pending) == 0 {
		o.logger.Info("tree already synchronized", slog.String("root", o.root))
		return nil
	}

	o.logger.Info("reconciling", slog.String("root", o.root), slog.Int("pending", len(pending)))

	var ids []string

	err = o.retry.do(ctx, o.logger, "generate ids", o.root, func() error {
		var genErr error
		ids, genErr = o.store.GenerateIDs(ctx, len(pending))

		return genErr
	})
	if err != nil {
		return fmt.Errorf("allocating %d identifiers: %w", len(pending), err)
	}

	if len(ids) != len(pending) {
		return fmt.Errorf("allocating identifiers: requested %d, received %d", len(pending), len(ids))
	}

	batch := make([]models.SyncEntry, len(pending))
	for i, p := range pending {
		batch[i] = models.SyncEntry{Path: p.Path, RemoteID: ids[i], ParentRemoteID: p.ParentRemoteID}
	}

	failed := make(map[string]bool)
	synced := make([]models.SyncEntry, 0, len(batch))

	for i, p := range pending {
		if ctx.Err() != nil {
			break
		}

		if p.Path != o.root && failed[parentDir(p.Path)] {
			failed[p.Path] = true

			o.logger.Warn("skipping upload, parent failed",
				slog.String("path", p.Path),
			)

			continue
		}

		entry := &batch[i]

		if entry.ParentRemoteID == "" {
			parentID, err := o.resolver.ParentID(p.Path, batch)
			if err != nil {
				failed[p.Path] = true

				o.logger.Warn("resolving parent failed",
					slog.String("path", p.Path),
					slog.String("error", err.Error()),
				)

				continue
			}

			entry.ParentRemoteID = parentID
		}

		id, err := o.create(ctx, *entry, p.Kind)
		if err != nil {
			failed[p.Path] = true

			o.logger.Warn("upload failed",
				slog.String("path", p.Path),
				slog.String("error", err.Error()),
			)

			continue
		}

		// Children resolve against the batch, so keep it current.
		entry.RemoteID = id
		synced = append(synced, *entry)
	}

	if len(synced) > 0 {
		if err := o.cache.InsertEntries(synced); err != nil {
			return fmt.Errorf("recording %d synchronized entries: %w", len(synced), err)
		}
	}

	o.logger.Info("reconciliation complete",
		slog.Int("uploaded", len(synced)),
		slog.Int("failed", len(failed)),
		slog.Int("remaining", len(pending)-len(synced)-len(failed)),
	)

	return nil
}
