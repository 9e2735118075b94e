// Package remote implements the hierarchical object stores the mirror
// writes to: an HTTP client for a Drive-style REST API and an in-memory
// store for dry runs and tests.
package remote

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"

	mirrorerrors "github.com/alexjbarnes/drive-mirror/internal/errors"
	"github.com/alexjbarnes/drive-mirror/internal/models"
	"golang.org/x/text/unicode/norm"
)

const (
	folderMIMEType  = "application/vnd.google-apps.folder"
	defaultMIMEType = "application/octet-stream"
)

// Object describes a remote object to create. ID may be pre-allocated
// with GenerateIDs; when empty the store assigns one. Content is read
// for files and ignored for folders.
type Object struct {
	ID       string
	Name     string
	Kind     models.Kind
	ParentID string
	Content  io.Reader
}

// Error is returned by every remote operation that fails. It matches
// errors.ErrRemoteOperation, and errors.ErrRemoteNotFound when the store
// reported a missing object.
type Error struct {
	Op     string
	Status int
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("remote %s: %s", e.Op, e.Reason)
	}

	return fmt.Sprintf("remote %s (%d): %s", e.Op, e.Status, e.Reason)
}

func (e *Error) Unwrap() []error {
	return []error{mirrorerrors.ErrRemoteOperation, e.Err}
}

func (e *Error) Is(target error) bool {
	return target == mirrorerrors.ErrRemoteNotFound && e.Status == http.StatusNotFound
}

// Retryable reports whether repeating the operation may succeed:
// transport failures, throttling and server errors.
func (e *Error) Retryable() bool {
	return e.Status == 0 || e.Status == http.StatusTooManyRequests || e.Status >= http.StatusInternalServerError
}

// IsRetryable reports whether err is a retryable remote error.
func IsRetryable(err error) bool {
	var re *Error
	return errors.As(err, &re) && re.Retryable()
}

// objectName normalizes a local base name for the remote store. macOS
// reports decomposed (NFD) names; the remote side compares names in NFC.
func objectName(name string) string {
	return norm.NFC.String(name)
}

func mimeType(name string, kind models.Kind) string {
	if kind == models.KindFolder {
		return folderMIMEType
	}

	if t := mime.TypeByExtension(filepath.Ext(name)); t != "" {
		return t
	}

	return defaultMIMEType
}
