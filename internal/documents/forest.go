package documents

import (
	"cmp"
	"fmt"
	"slices"
)

// Forest is an in-memory view over a flat list of documents: an arena keyed by id
// plus an index from sibling group to ordered members. Root documents are grouped
// per owner. It is rebuilt from rows on every use and never persisted.
type Forest struct {
	nodes    map[string]Document
	children map[string][]string
}

// TreeNode is one document of the nested view with its ordered children.
type TreeNode struct {
	Document Document
	Children []*TreeNode
}

// NewForest indexes documents by id and by parent.
func NewForest(documents []Document) *Forest {
	forest := &Forest{
		nodes:    make(map[string]Document, len(documents)),
		children: make(map[string][]string),
	}
	for _, document := range documents {
		forest.nodes[document.ID] = document
	}
	for _, document := range documents {
		key := groupFor(document.ParentID, document.OwnerID).key()
		forest.children[key] = append(forest.children[key], document.ID)
	}
	for key := range forest.children {
		slices.SortFunc(forest.children[key], forest.compareSiblings)
	}
	return forest
}

// Len returns the number of documents in the forest.
func (f *Forest) Len() int {
	return len(f.nodes)
}

// Document returns the document with the given id.
func (f *Forest) Document(id string) (Document, bool) {
	document, ok := f.nodes[id]
	return document, ok
}

// Children returns the children of parentID ordered by sort order.
func (f *Forest) Children(parentID string) []Document {
	return f.members(childGroup(parentID))
}

// Roots returns the root documents of ownerID ordered by sort order.
func (f *Forest) Roots(ownerID string) []Document {
	return f.members(rootGroup(ownerID))
}

func (f *Forest) members(group siblingGroup) []Document {
	ids := f.children[group.key()]
	siblings := make([]Document, 0, len(ids))
	for _, id := range ids {
		siblings = append(siblings, f.nodes[id])
	}
	return siblings
}

// CanAssignParent applies the hierarchy validator against the in-memory forest.
func (f *Forest) CanAssignParent(documentID string, proposedParentID *string) (bool, error) {
	return canAssignParent(documentID, proposedParentID, f.lookupChildren)
}

// Subtree returns the ids of rootID and all of its descendants grouped by depth.
func (f *Forest) Subtree(rootID string) ([][]string, error) {
	if _, ok := f.nodes[rootID]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrDocumentNotFound, rootID)
	}
	return collectSubtree(rootID, f.lookupChildren)
}

// GroupsWithDuplicateOrders returns every sibling group that holds two documents
// with the same order, each sorted the way the sibling index sorts it.
func (f *Forest) GroupsWithDuplicateOrders() [][]Document {
	keys := make([]string, 0, len(f.children))
	for key := range f.children {
		keys = append(keys, key)
	}
	slices.Sort(keys)

	var groups [][]Document
	for _, key := range keys {
		ids := f.children[key]
		seen := make(map[int64]struct{}, len(ids))
		duplicated := false
		for _, id := range ids {
			order := f.nodes[id].SortOrder
			if _, ok := seen[order]; ok {
				duplicated = true
				break
			}
			seen[order] = struct{}{}
		}
		if !duplicated {
			continue
		}
		group := make([]Document, 0, len(ids))
		for _, id := range ids {
			group = append(group, f.nodes[id])
		}
		groups = append(groups, group)
	}
	return groups
}

// Validate checks order uniqueness per sibling group, the absence of self
// parents, dangling parents, and cycles.
func (f *Forest) Validate() error {
	if groups := f.GroupsWithDuplicateOrders(); len(groups) > 0 {
		return fmt.Errorf("%w: %d sibling groups", ErrDuplicateOrder, len(groups))
	}
	limit := len(f.nodes)
	for id, document := range f.nodes {
		if document.ParentID != nil && *document.ParentID == id {
			return fmt.Errorf("%w: %s", ErrSelfParent, id)
		}
		current := document
		for steps := 0; current.ParentID != nil; steps++ {
			if steps >= limit {
				return fmt.Errorf("%w: cycle through %s", ErrHierarchyCorrupted, id)
			}
			parent, ok := f.nodes[*current.ParentID]
			if !ok {
				return fmt.Errorf("%w: %s references missing parent %s", ErrHierarchyCorrupted, current.ID, *current.ParentID)
			}
			current = parent
		}
	}
	return nil
}

// BuildTree nests documents under their parents. Documents whose parent is not
// part of the input become roots of the view. Construction is iterative.
func BuildTree(documents []Document) []*TreeNode {
	forest := NewForest(documents)
	nodes := make(map[string]*TreeNode, len(documents))
	for id, document := range forest.nodes {
		nodes[id] = &TreeNode{Document: document}
	}

	var roots []*TreeNode
	for _, key := range forest.sortedGroupKeys() {
		ids := forest.children[key]
		parent, hasParent := nodes[key]
		for _, id := range ids {
			if hasParent {
				parent.Children = append(parent.Children, nodes[id])
				continue
			}
			roots = append(roots, nodes[id])
		}
	}
	slices.SortStableFunc(roots, func(left, right *TreeNode) int {
		if left.Document.ParentID == nil && right.Document.ParentID != nil {
			return -1
		}
		if left.Document.ParentID != nil && right.Document.ParentID == nil {
			return 1
		}
		return forest.compareSiblings(left.Document.ID, right.Document.ID)
	})
	return roots
}

func (f *Forest) lookupChildren(parentIDs []string) ([]string, error) {
	var ids []string
	for _, parentID := range parentIDs {
		ids = append(ids, f.children[parentID]...)
	}
	return ids, nil
}

func (f *Forest) sortedGroupKeys() []string {
	keys := make([]string, 0, len(f.children))
	for key := range f.children {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	return keys
}

func (f *Forest) compareSiblings(leftID, rightID string) int {
	left, right := f.nodes[leftID], f.nodes[rightID]
	if result := cmp.Compare(left.SortOrder, right.SortOrder); result != 0 {
		return result
	}
	if result := left.CreatedAt.Compare(right.CreatedAt); result != 0 {
		return result
	}
	return cmp.Compare(left.ID, right.ID)
}
