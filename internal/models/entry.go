// Package models defines types shared across internal packages.
package models

import "fmt"

// Kind is the filesystem attribute of a path at observation time. It is
// never persisted; callers derive it once per event from the filesystem.
type Kind int

const (
	// KindUnknown is used for paths that no longer exist (deletes).
	KindUnknown Kind = iota
	KindFile
	KindFolder
)

func (k Kind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindFolder:
		return "folder"
	case KindUnknown:
		return "unknown"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Item is one path produced by the tree enumerator.
type Item struct {
	Path string
	Kind Kind
}

// SyncEntry links an absolute local path to the remote object mirroring
// it. An empty RemoteID means the path has not been uploaded. An empty
// ParentRemoteID means the object sits at the remote top level, which is
// expected for the synchronization root and tolerated for orphans.
type SyncEntry struct {
	Path           string `json:"path" yaml:"path"`
	RemoteID       string `json:"remote_id" yaml:"remote_id"`
	ParentRemoteID string `json:"parent_remote_id,omitempty" yaml:"parent_remote_id,omitempty"`
}

// Synced reports whether the entry carries a remote identifier.
func (e SyncEntry) Synced() bool {
	return e.RemoteID != ""
}
