package versioning

import (
	"os"
	"path/filepath"
	"strings"
)

// buildFlatTree walks workdir honoring the ignore matcher, reading and
// hashing every non-ignored file, then applies the staging area's
// force-add/force-remove overrides. The result maps every path that should
// appear in the next checkpoint's tree to its blob hash.
func (t *Tracker) buildFlatTree() (map[string]Hash, error) {
	flat := map[string]Hash{}

	err := filepath.WalkDir(t.workdir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == t.workdir {
			return nil
		}
		rel, relErr := filepath.Rel(t.workdir, path)
		if relErr != nil {
			return relErr
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if t.ignore.Matches(rel + "/") {
				return filepath.SkipDir
			}
			return nil
		}
		if t.ignore.Matches(rel) {
			return nil
		}
		content, readErr := os.ReadFile(path)
		if readErr != nil {
			return readErr
		}
		hash, putErr := t.store.PutBlob(content)
		if putErr != nil {
			return putErr
		}
		flat[rel] = hash
		return nil
	})
	if err != nil {
		return nil, err
	}

	sf, err := loadStaging(t.dialogRoot)
	if err != nil {
		return nil, err
	}
	for path, entry := range sf.Entries {
		switch entry.Op {
		case StagingAdd:
			flat[path] = entry.ContentHash
		case StagingRemove:
			delete(flat, path)
		}
	}
	return flat, nil
}

// buildNestedTree converts a flat path->blob map into the nested Tree/blob
// object graph and returns the root tree's hash.
func (t *Tracker) buildNestedTree(flat map[string]Hash) (Hash, error) {
	root := &treeNode{children: map[string]*treeNode{}}
	for path, hash := range flat {
		insertPath(root, strings.Split(path, "/"), hash)
	}
	return t.persistNode(root)
}

type treeNode struct {
	isFile   bool
	fileHash Hash
	children map[string]*treeNode
}

func insertPath(n *treeNode, segments []string, hash Hash) {
	if len(segments) == 1 {
		n.children[segments[0]] = &treeNode{isFile: true, fileHash: hash}
		return
	}
	child, ok := n.children[segments[0]]
	if !ok {
		child = &treeNode{children: map[string]*treeNode{}}
		n.children[segments[0]] = child
	}
	insertPath(child, segments[1:], hash)
}

func (t *Tracker) persistNode(n *treeNode) (Hash, error) {
	tree := &Tree{}
	for name, child := range n.children {
		if child.isFile {
			tree.Entries = append(tree.Entries, TreeEntry{Name: name, Mode: ModeFile, Hash: child.fileHash})
			continue
		}
		hash, err := t.persistNode(child)
		if err != nil {
			return "", err
		}
		tree.Entries = append(tree.Entries, TreeEntry{Name: name, Mode: ModeTree, Hash: hash})
	}
	return t.store.PutTree(tree)
}

// flattenTree reads back a tree object recursively into a flat path->blob map.
func (t *Tracker) flattenTree(root Hash) (map[string]Hash, error) {
	flat := map[string]Hash{}
	if root == "" {
		return flat, nil
	}
	var walk func(hash Hash, prefix string) error
	walk = func(hash Hash, prefix string) error {
		tree, err := t.store.GetTree(hash)
		if err != nil {
			return err
		}
		for _, e := range tree.Entries {
			p := e.Name
			if prefix != "" {
				p = prefix + "/" + e.Name
			}
			if e.Mode == ModeFile {
				flat[p] = e.Hash
				continue
			}
			if err := walk(e.Hash, p); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(root, ""); err != nil {
		return nil, err
	}
	return flat, nil
}
