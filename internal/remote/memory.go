package remote

import (
	"context"
	"io"
	"net/http"
	"path"
	"sort"
	"sync"

	"github.com/alexjbarnes/drive-mirror/internal/models"
	"github.com/google/uuid"
)

// MemoryObject is an object held by Memory.
type MemoryObject struct {
	ID       string
	Name     string
	Kind     models.Kind
	ParentID string
	Content  []byte
}

// Memory is an in-process object store with the same contract as the
// HTTP client: identifiers are opaque, parents must exist and be folders,
// and deleting a folder deletes its descendants.
type Memory struct {
	mu      sync.Mutex
	objects map[string]*MemoryObject
}

// NewMemory creates an empty store.
func NewMemory() *Memory {
	return &Memory{objects: make(map[string]*MemoryObject)}
}

// GenerateIDs allocates count random identifiers.
func (m *Memory) GenerateIDs(_ context.Context, count int) ([]string, error) {
	ids := make([]string, count)
	for i := range ids {
		ids[i] = uuid.NewString()
	}

	return ids, nil
}

// Create stores a new object.
func (m *Memory) Create(_ context.Context, obj Object) (string, error) {
	var content []byte

	if obj.Kind != models.KindFolder && obj.Content != nil {
		data, err := io.ReadAll(obj.Content)
		if err != nil {
			return "", &Error{Op: "create", Reason: "reading content", Err: err}
		}

		content = data
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	id := obj.ID
	if id == "" {
		id = uuid.NewString()
	}

	if _, exists := m.objects[id]; exists {
		return "", &Error{Op: "create", Status: http.StatusConflict, Reason: "id already in use: " + id}
	}

	if obj.ParentID != "" {
		parent, ok := m.objects[obj.ParentID]
		if !ok {
			return "", &Error{Op: "create", Status: http.StatusNotFound, Reason: "parent not found: " + obj.ParentID}
		}

		if parent.Kind != models.KindFolder {
			return "", &Error{Op: "create", Status: http.StatusBadRequest, Reason: "parent is not a folder: " + obj.ParentID}
		}
	}

	m.objects[id] = &MemoryObject{
		ID:       id,
		Name:     objectName(obj.Name),
		Kind:     obj.Kind,
		ParentID: obj.ParentID,
		Content:  content,
	}

	return id, nil
}

// UpdateContent replaces a file's content.
func (m *Memory) UpdateContent(_ context.Context, id string, content io.Reader) error {
	data, err := io.ReadAll(content)
	if err != nil {
		return &Error{Op: "update", Reason: "reading content", Err: err}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	obj, ok := m.objects[id]
	if !ok {
		return &Error{Op: "update", Status: http.StatusNotFound, Reason: "file not found: " + id}
	}

	if obj.Kind == models.KindFolder {
		return &Error{Op: "update", Status: http.StatusBadRequest, Reason: "folders have no content: " + id}
	}

	obj.Content = data

	return nil
}

// Rename changes an object's name.
func (m *Memory) Rename(_ context.Context, id, newName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	obj, ok := m.objects[id]
	if !ok {
		return &Error{Op: "rename", Status: http.StatusNotFound, Reason: "file not found: " + id}
	}

	obj.Name = objectName(newName)

	return nil
}

// Delete removes an object and, for folders, everything beneath it.
func (m *Memory) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.objects[id]; !ok {
		return &Error{Op: "delete", Status: http.StatusNotFound, Reason: "file not found: " + id}
	}

	m.deleteLocked(id)

	return nil
}

func (m *Memory) deleteLocked(id string) {
	delete(m.objects, id)

	for childID, obj := range m.objects {
		if obj.ParentID == id {
			m.deleteLocked(childID)
		}
	}
}

// Get returns a copy of the object with the given id.
func (m *Memory) Get(id string) (MemoryObject, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	obj, ok := m.objects[id]
	if !ok {
		return MemoryObject{}, false
	}

	return *obj, true
}

// Len returns the number of stored objects.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.objects)
}

// Paths returns the slash-separated path of every object, built by
// following parent references, sorted. Top-level objects have a
// single-element path.
func (m *Memory) Paths() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	paths := make([]string, 0, len(m.objects))
	for id := range m.objects {
		paths = append(paths, m.pathLocked(id))
	}

	sort.Strings(paths)

	return paths
}

func (m *Memory) pathLocked(id string) string {
	obj := m.objects[id]
	if obj.ParentID == "" {
		return obj.Name
	}

	if _, ok := m.objects[obj.ParentID]; !ok {
		return obj.Name
	}

	return path.Join(m.pathLocked(obj.ParentID), obj.Name)
}
