package mirror

import (
	"fmt"
	"path/filepath"

	"github.com/alexjbarnes/drive-mirror/internal/models"
)

// Resolver maps a local path to the remote identifier of its parent
// folder.
type Resolver struct {
	root         string
	rootParentID string
	cache        Cache
}

// NewResolver creates a resolver for root. The root itself resolves to
// rootParentID.
func NewResolver(root, rootParentID string, cache Cache) *Resolver {
	return &Resolver{root: root, rootParentID: rootParentID, cache: cache}
}

// ParentID returns the remote identifier of path's parent directory. The
// cache is consulted first, then batch, which holds entries allocated in
// the same pass but not yet persisted. Only the direct parent is looked
// up. An empty result with a nil error means the parent is unknown and
// the object will be created at the remote top level.
func (r *Resolver) ParentID(path string, batch []models.SyncEntry) (string, error) {
	if path == r.root {
		return r.rootParentID, nil
	}

	parent := parentDir(path)

	entry, err := r.cache.GetEntry(parent)
	if err != nil {
		return "", fmt.Errorf("looking up parent %s: %w", parent, err)
	}

	if entry != nil && entry.Synced() {
		return entry.RemoteID, nil
	}

	for i := range batch {
		if batch[i].Path == parent {
			return batch[i].RemoteID, nil
		}
	}

	return "", nil
}

func parentDir(path string) string {
	return filepath.Dir(path)
}
