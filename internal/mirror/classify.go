package mirror

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	mirrorerrors "github.com/alexjbarnes/drive-mirror/internal/errors"
	"github.com/alexjbarnes/drive-mirror/internal/models"
	"github.com/alexjbarnes/drive-mirror/internal/remote"
	"github.com/dustin/go-humanize"
)

// handleCreated uploads a new path. A path the cache already knows,
// typically one startup reconciliation just uploaded, is treated as a
// change so no duplicate object is created.
func (o *Orchestrator) handleCreated(ctx context.Context, path string, kind models.Kind) {
	entry, err := o.cache.GetEntry(path)
	if err != nil {
		o.logger.Warn("cache lookup failed", slog.String("path", path), slog.String("error", err.Error()))
		return
	}

	if entry != nil {
		o.updateExisting(ctx, *entry, kind)
		return
	}

	o.createOne(ctx, path, kind)
}

// handleChanged pushes new content for a known file, or uploads the path
// if it was never synchronized.
func (o *Orchestrator) handleChanged(ctx context.Context, path string, kind models.Kind) {
	entry, err := o.cache.GetEntry(path)
	if err != nil {
		o.logger.Warn("cache lookup failed", slog.String("path", path), slog.String("error", err.Error()))
		return
	}

	if entry == nil {
		o.createOne(ctx, path, kind)
		return
	}

	o.updateExisting(ctx, *entry, kind)
}

// handleDeleted removes the remote object of a known path. Unknown paths
// were never uploaded and need nothing.
func (o *Orchestrator) handleDeleted(ctx context.Context, path string) {
	entry, err := o.cache.GetEntry(path)
	if err != nil {
		o.logger.Warn("cache lookup failed", slog.String("path", path), slog.String("error", err.Error()))
		return
	}

	if entry == nil {
		o.logger.Debug("delete of untracked path ignored", slog.String("path", path))
		return
	}

	err = o.retry.do(ctx, o.logger, "delete", path, func() error {
		return o.store.Delete(ctx, entry.RemoteID)
	})
	if err != nil && !errors.Is(err, mirrorerrors.ErrRemoteNotFound) {
		o.logger.Warn("remote delete failed", slog.String("path", path), slog.String("error", err.Error()))
		return
	}

	if o.cascadeDelete {
		n, err := o.cache.DeleteTree(path)
		if err != nil {
			o.logger.Warn("removing cache entries failed", slog.String("path", path), slog.String("error", err.Error()))
			return
		}

		o.logger.Info("deleted", slog.String("path", path), slog.Int("entries", n))

		return
	}

	if err := o.cache.DeleteEntry(path); err != nil {
		o.logger.Warn("removing cache entry failed", slog.String("path", path), slog.String("error", err.Error()))
		return
	}

	o.logger.Info("deleted", slog.String("path", path))
}

// handleRenamed renames the remote object in place. Identifiers are
// unchanged; only the cache key moves. A synchronized object already at
// the new path was replaced locally, so its remote object is deleted.
func (o *Orchestrator) handleRenamed(ctx context.Context, oldPath, newPath string, kind models.Kind) {
	entry, err := o.cache.GetEntry(oldPath)
	if err != nil {
		o.logger.Warn("cache lookup failed", slog.String("path", oldPath), slog.String("error", err.Error()))
		return
	}

	if entry == nil {
		o.logger.Debug("rename of untracked path ignored",
			slog.String("from", oldPath),
			slog.String("to", newPath),
		)

		return
	}

	displaced, err := o.cache.GetEntry(newPath)
	if err != nil {
		o.logger.Warn("cache lookup failed", slog.String("path", newPath), slog.String("error", err.Error()))
		return
	}

	if displaced != nil && (!displaced.Synced() || displaced.RemoteID == entry.RemoteID) {
		displaced = nil
	}

	renamed := *entry
	renamed.Path = newPath

	err = o.retry.do(ctx, o.logger, "rename", newPath, func() error {
		return o.store.Rename(ctx, renamed.RemoteID, filepath.Base(newPath))
	})
	if err != nil {
		o.logger.Warn("remote rename failed",
			slog.String("from", oldPath),
			slog.String("to", newPath),
			slog.String("error", err.Error()),
		)

		return
	}

	if displaced != nil {
		o.removeDisplaced(ctx, *displaced)
	}

	if err := o.cache.UpdateEntry(oldPath, renamed); err != nil {
		o.logger.Warn("updating cache entry failed",
			slog.String("from", oldPath),
			slog.String("to", newPath),
			slog.String("error", err.Error()),
		)

		return
	}

	o.logger.Info("renamed",
		slog.String("from", oldPath),
		slog.String("to", newPath),
		slog.String("kind", kind.String()),
	)
}

// removeDisplaced deletes the remote object of an entry a rename
// replaced, along with its cache records. A failed delete leaves the
// remote object behind and is logged.
func (o *Orchestrator) removeDisplaced(ctx context.Context, displaced models.SyncEntry) {
	err := o.retry.do(ctx, o.logger, "delete", displaced.Path, func() error {
		return o.store.Delete(ctx, displaced.RemoteID)
	})
	if err != nil && !errors.Is(err, mirrorerrors.ErrRemoteNotFound) {
		o.logger.Warn("deleting replaced remote object failed",
			slog.String("path", displaced.Path),
			slog.String("remote_id", displaced.RemoteID),
			slog.String("error", err.Error()),
		)
	}

	if !o.cascadeDelete {
		return
	}

	// Entries left under a replaced folder would otherwise mix with the
	// renamed folder's children.
	if _, err := o.cache.DeleteTree(displaced.Path); err != nil {
		o.logger.Warn("removing cache entries failed", slog.String("path", displaced.Path), slog.String("error", err.Error()))
	}
}

// createOne uploads a single untracked path: resolve the parent,
// allocate one identifier, create, record.
func (o *Orchestrator) createOne(ctx context.Context, path string, kind models.Kind) {
	if _, err := os.Lstat(path); err != nil {
		// Gone again before its turn came; a Deleted notification follows.
		o.logger.Debug("skipping vanished path", slog.String("path", path))
		return
	}

	parentID, err := o.resolver.ParentID(path, nil)
	if err != nil {
		o.logger.Warn("resolving parent failed", slog.String("path", path), slog.String("error", err.Error()))
		return
	}

	var ids []string

	err = o.retry.do(ctx, o.logger, "generate ids", path, func() error {
		var genErr error
		ids, genErr = o.store.GenerateIDs(ctx, 1)

		return genErr
	})
	if err != nil {
		o.logger.Warn("allocating identifier failed", slog.String("path", path), slog.String("error", err.Error()))
		return
	}

	if len(ids) != 1 {
		o.logger.Warn("allocating identifier failed", slog.String("path", path), slog.Int("received", len(ids)))
		return
	}

	entry := models.SyncEntry{Path: path, RemoteID: ids[0], ParentRemoteID: parentID}

	id, err := o.create(ctx, entry, kind)
	if err != nil {
		o.logger.Warn("upload failed", slog.String("path", path), slog.String("error", err.Error()))
		return
	}

	entry.RemoteID = id

	if err := o.cache.InsertEntries([]models.SyncEntry{entry}); err != nil {
		o.logger.Warn("recording cache entry failed", slog.String("path", path), slog.String("error", err.Error()))
	}
}

// updateExisting replaces the content of a known file. Folders carry no
// content, so nothing is sent for them.
func (o *Orchestrator) updateExisting(ctx context.Context, entry models.SyncEntry, kind models.Kind) {
	if kind == models.KindFolder {
		o.logger.Debug("folder change ignored", slog.String("path", entry.Path))
		return
	}

	var size int64

	err := o.retry.do(ctx, o.logger, "update", entry.Path, func() error {
		f, err := os.Open(entry.Path)
		if err != nil {
			return fmt.Errorf("opening %s: %w", entry.Path, err)
		}
		defer f.Close()

		if info, err := f.Stat(); err == nil {
			size = info.Size()
		}

		return o.store.UpdateContent(ctx, entry.RemoteID, f)
	})
	if err != nil {
		o.logger.Warn("content update failed", slog.String("path", entry.Path), slog.String("error", err.Error()))
		return
	}

	o.logger.Info("updated",
		slog.String("path", entry.Path),
		slog.String("size", humanize.Bytes(uint64(size))),
	)
}

// create sends one create request for entry, using the identifier it
// already carries, and returns the identifier the store confirmed.
func (o *Orchestrator) create(ctx context.Context, entry models.SyncEntry, kind models.Kind) (string, error) {
	var (
		size int64
		id   string
	)

	err := o.retry.do(ctx, o.logger, "create", entry.Path, func() error {
		obj := remote.Object{
			ID:       entry.RemoteID,
			Name:     filepath.Base(entry.Path),
			Kind:     kind,
			ParentID: entry.ParentRemoteID,
		}

		if kind != models.KindFolder {
			f, err := os.Open(entry.Path)
			if err != nil {
				return fmt.Errorf("opening %s: %w", entry.Path, err)
			}
			defer f.Close()

			if info, err := f.Stat(); err == nil {
				size = info.Size()
			}

			obj.Content = f
		}

		var createErr error
		id, createErr = o.store.Create(ctx, obj)

		return createErr
	})
	if err != nil {
		return "", err
	}

	if id == "" {
		id = entry.RemoteID
	}

	attrs := []any{
		slog.String("path", entry.Path),
		slog.String("kind", kind.String()),
	}
	if kind != models.KindFolder {
		attrs = append(attrs, slog.String("size", humanize.Bytes(uint64(size))))
	}

	o.logger.Info("uploaded", attrs...)

	return id, nil
}
