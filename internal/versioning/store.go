package versioning

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/agentsmithy/agentsmithy/internal/agentserr"
)

// ErrNotFound is returned when an object hash has no corresponding object.
var ErrNotFound = agentserr.New(agentserr.KindNotFound, "object_not_found", errors.New("object not found"))

// Store is the on-disk content-addressed object store rooted at
// <dialog_dir>/checkpoints/objects. Objects are immutable once written, so
// concurrent readers never race with writers of the same hash.
type Store struct {
	root string // .../checkpoints
}

// NewStore opens (creating if necessary) the object store rooted at root.
func NewStore(root string) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(root, "objects"), 0o755); err != nil {
		return nil, fmt.Errorf("create objects dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(root, "refs"), 0o755); err != nil {
		return nil, fmt.Errorf("create refs dir: %w", err)
	}
	return &Store{root: root}, nil
}

func (s *Store) objectPath(h Hash) string {
	dir, file := h.ShardPath()
	return filepath.Join(s.root, "objects", dir, file)
}

// Has reports whether an object with this hash is already stored.
func (s *Store) Has(h Hash) bool {
	_, err := os.Stat(s.objectPath(h))
	return err == nil
}

// writeObject persists body under its content hash and returns the hash.
// Writing is idempotent: if the object already exists, it is not rewritten.
func (s *Store) writeObject(kind ObjectKind, body []byte) (Hash, error) {
	h := hashObject(kind, body)
	path := s.objectPath(h)
	if _, err := os.Stat(path); err == nil {
		return h, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create object dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, body, 0o644); err != nil {
		return "", fmt.Errorf("write object: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("rename object into place: %w", err)
	}
	return h, nil
}

func (s *Store) readObject(h Hash) ([]byte, error) {
	body, err := os.ReadFile(s.objectPath(h))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return body, nil
}

// PutBlob stores file content and returns its hash.
func (s *Store) PutBlob(content []byte) (Hash, error) {
	return s.writeObject(KindBlob, content)
}

// GetBlob reads back previously stored file content.
func (s *Store) GetBlob(h Hash) ([]byte, error) {
	return s.readObject(h)
}

// PutTree stores a tree object and returns its hash.
func (s *Store) PutTree(t *Tree) (Hash, error) {
	return s.writeObject(KindTree, t.encode())
}

// GetTree reads back a tree object.
func (s *Store) GetTree(h Hash) (*Tree, error) {
	body, err := s.readObject(h)
	if err != nil {
		return nil, err
	}
	return decodeTree(body)
}

// PutCommit stores a commit object and returns its hash.
func (s *Store) PutCommit(c *Commit) (Hash, error) {
	return s.writeObject(KindCommit, c.encode())
}

// GetCommit reads back a commit object.
func (s *Store) GetCommit(h Hash) (*Commit, error) {
	body, err := s.readObject(h)
	if err != nil {
		return nil, err
	}
	return decodeCommit(body)
}
