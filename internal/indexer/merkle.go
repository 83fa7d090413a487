package indexer

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/S-Corkum/prd-engine/internal/models"
)

// MerkleLeaf is the per-file input to tree construction
type MerkleLeaf struct {
	Path     string
	FileHash string
	FileSize int64
}

// MerkleTree is the content-address tree for one snapshot of a repository.
// Leaves hash in the order of the tree listing, so the root commits to the
// file set as the host enumerates it.
type MerkleTree struct {
	Root   string
	Leaves map[string]string // path -> leaf hash
	Nodes  []models.MerkleNode
}

// leafHash commits to path, content hash, and size in one digest
func leafHash(leaf MerkleLeaf) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s\x00%s\x00%d", leaf.Path, leaf.FileHash, leaf.FileSize)))
	return hex.EncodeToString(sum[:])
}

func interiorHash(left, right string) string {
	sum := sha256.Sum256([]byte(left + right))
	return hex.EncodeToString(sum[:])
}

// BuildMerkleTree constructs the tree bottom-up over the leaves in listing
// order. At each level an odd trailing node is paired with itself. An empty
// file set yields an empty root.
func BuildMerkleTree(leaves []MerkleLeaf) *MerkleTree {
	tree := &MerkleTree{Leaves: make(map[string]string, len(leaves))}
	if len(leaves) == 0 {
		return tree
	}

	level := make([]string, 0, len(leaves))
	for _, leaf := range leaves {
		h := leafHash(leaf)
		tree.Leaves[leaf.Path] = h
		tree.Nodes = append(tree.Nodes, models.MerkleNode{
			NodeHash: h,
			NodePath: leaf.Path,
			IsLeaf:   true,
		})
		level = append(level, h)
	}

	parentOf := make(map[string]string)
	for len(level) > 1 {
		next := make([]string, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			left := level[i]
			right := left
			if i+1 < len(level) {
				right = level[i+1]
			}
			parent := interiorHash(left, right)
			tree.Nodes = append(tree.Nodes, models.MerkleNode{
				NodeHash:       parent,
				LeftChildHash:  left,
				RightChildHash: right,
			})
			parentOf[left] = parent
			parentOf[right] = parent
			next = append(next, parent)
		}
		level = next
	}
	tree.Root = level[0]

	for i := range tree.Nodes {
		tree.Nodes[i].ParentHash = parentOf[tree.Nodes[i].NodeHash]
	}
	return tree
}

// DiffLeaves compares a stored leaf set against the current one and returns
// the paths that changed, were added, or were removed. Unchanged files keep
// their leaf hash and are skipped by incremental re-indexing.
func DiffLeaves(previous, current map[string]string) (changed, removed []string) {
	for path, hash := range current {
		if prev, ok := previous[path]; !ok || prev != hash {
			changed = append(changed, path)
		}
	}
	for path := range previous {
		if _, ok := current[path]; !ok {
			removed = append(removed, path)
		}
	}
	sort.Strings(changed)
	sort.Strings(removed)
	return changed, removed
}
