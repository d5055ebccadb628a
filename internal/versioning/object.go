// Package versioning implements AgentSmithy's content-addressed checkpoint
// subsystem: a blob/tree/commit object model, per-dialog main/session refs,
// a staging area for force-added/force-removed paths, and the
// create/restore/approve/reset operations.
package versioning

import (
	"bytes"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"sort"
	"time"
)

// ObjectKind discriminates the three object types stored in the object
// store; all three are addressed by the same hash space.
type ObjectKind string

const (
	KindBlob   ObjectKind = "blob"
	KindTree   ObjectKind = "tree"
	KindCommit ObjectKind = "commit"
)

// Hash is a content hash in lowercase hex, as produced by hashObject.
type Hash string

// hashObject computes a git-style object hash: sha1("<kind> <len>\0<body>").
func hashObject(kind ObjectKind, body []byte) Hash {
	h := sha1.New()
	fmt.Fprintf(h, "%s %d\x00", kind, len(body))
	h.Write(body)
	return Hash(hex.EncodeToString(h.Sum(nil)))
}

// ShardPath splits a hash into the two-level directory layout used under
// checkpoints/objects/<hh>/<rest-of-hash>.
func (h Hash) ShardPath() (dir, file string) {
	s := string(h)
	if len(s) < 3 {
		return s, s
	}
	return s[:2], s[2:]
}

// TreeEntryMode distinguishes a regular file from a nested tree.
type TreeEntryMode string

const (
	ModeFile TreeEntryMode = "file"
	ModeTree TreeEntryMode = "tree"
)

// TreeEntry is one named child of a Tree.
type TreeEntry struct {
	Name string
	Mode TreeEntryMode
	Hash Hash
}

// Tree is the directory-listing object: a sorted set of named entries.
type Tree struct {
	Entries []TreeEntry
}

// encode serializes the tree deterministically (sorted by name) so that
// identical directory contents always hash to the same value.
func (t *Tree) encode() []byte {
	sorted := make([]TreeEntry, len(t.Entries))
	copy(sorted, t.Entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	var buf bytes.Buffer
	for _, e := range sorted {
		fmt.Fprintf(&buf, "%s %s %s\n", e.Mode, e.Hash, e.Name)
	}
	return buf.Bytes()
}

func decodeTree(body []byte) (*Tree, error) {
	t := &Tree{}
	for _, line := range bytes.Split(bytes.TrimRight(body, "\n"), []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		parts := bytes.SplitN(line, []byte(" "), 3)
		if len(parts) != 3 {
			return nil, fmt.Errorf("malformed tree entry: %q", line)
		}
		t.Entries = append(t.Entries, TreeEntry{
			Mode: TreeEntryMode(parts[0]),
			Hash: Hash(parts[1]),
			Name: string(parts[2]),
		})
	}
	return t, nil
}

// Commit is the snapshot-with-history object.
type Commit struct {
	TreeHash   Hash
	ParentHash Hash // empty for the first commit
	Message    string
	AuthorTime time.Time
}

func (c *Commit) encode() []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "tree %s\n", c.TreeHash)
	if c.ParentHash != "" {
		fmt.Fprintf(&buf, "parent %s\n", c.ParentHash)
	}
	fmt.Fprintf(&buf, "time %s\n\n%s", c.AuthorTime.UTC().Format(time.RFC3339Nano), c.Message)
	return buf.Bytes()
}

func decodeCommit(body []byte) (*Commit, error) {
	parts := bytes.SplitN(body, []byte("\n\n"), 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("malformed commit object")
	}
	c := &Commit{Message: string(parts[1])}
	for _, line := range bytes.Split(parts[0], []byte("\n")) {
		fields := bytes.SplitN(line, []byte(" "), 2)
		if len(fields) != 2 {
			continue
		}
		switch string(fields[0]) {
		case "tree":
			c.TreeHash = Hash(fields[1])
		case "parent":
			c.ParentHash = Hash(fields[1])
		case "time":
			t, err := time.Parse(time.RFC3339Nano, string(fields[1]))
			if err == nil {
				c.AuthorTime = t
			}
		}
	}
	return c, nil
}
