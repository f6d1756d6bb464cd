package documents

import (
	"fmt"
	"slices"
)

// childLookup returns the ids of every document whose parent is one of parentIDs.
type childLookup func(parentIDs []string) ([]string, error)

// orderAssignment is the order value a sibling must hold after a structural change.
type orderAssignment struct {
	documentID string
	order      int64
}

// canAssignParent reports whether documentID may be placed under proposedParentID.
// A nil proposal (root) is always legal; the document itself and any of its
// descendants are not.
func canAssignParent(documentID string, proposedParentID *string, children childLookup) (bool, error) {
	if proposedParentID == nil {
		return true, nil
	}
	target := *proposedParentID
	if target == documentID {
		return false, nil
	}

	found := false
	err := walkDescendants(documentID, children, func(level []string) bool {
		if slices.Contains(level, target) {
			found = true
			return false
		}
		return true
	})
	if err != nil {
		return false, err
	}
	return !found, nil
}

// collectSubtree returns the subtree rooted at rootID grouped by depth; index 0 holds rootID.
func collectSubtree(rootID string, children childLookup) ([][]string, error) {
	levels := [][]string{{rootID}}
	err := walkDescendants(rootID, children, func(level []string) bool {
		levels = append(levels, level)
		return true
	})
	if err != nil {
		return nil, err
	}
	return levels, nil
}

// walkDescendants visits descendants of rootID one depth level at a time until
// the frontier is empty or visit returns false. Reaching a node twice means the
// stored parent references are cyclic.
func walkDescendants(rootID string, children childLookup, visit func(level []string) bool) error {
	visited := map[string]struct{}{rootID: {}}
	frontier := []string{rootID}
	for len(frontier) > 0 {
		next, err := children(frontier)
		if err != nil {
			return err
		}
		level := make([]string, 0, len(next))
		for _, id := range next {
			if _, seen := visited[id]; seen {
				return fmt.Errorf("%w: %s reached twice below %s", ErrHierarchyCorrupted, id, rootID)
			}
			visited[id] = struct{}{}
			level = append(level, id)
		}
		if len(level) == 0 {
			return nil
		}
		if !visit(level) {
			return nil
		}
		frontier = level
	}
	return nil
}

// planMoveWithinParent computes the contiguous order for siblingIDs (already
// sorted by order) after moving documentID to targetIndex. A nil plan with a nil
// error means the document already sits at targetIndex.
func planMoveWithinParent(siblingIDs []string, documentID string, targetIndex int) ([]orderAssignment, error) {
	currentIndex := slices.Index(siblingIDs, documentID)
	if currentIndex < 0 {
		return nil, fmt.Errorf("%w: %s", ErrDocumentNotInParent, documentID)
	}
	if targetIndex < 0 || targetIndex >= len(siblingIDs) {
		return nil, fmt.Errorf("%w: %d not in [0, %d]", ErrIndexOutOfRange, targetIndex, len(siblingIDs)-1)
	}
	if currentIndex == targetIndex {
		return nil, nil
	}

	reordered := make([]string, 0, len(siblingIDs))
	for _, id := range siblingIDs {
		if id != documentID {
			reordered = append(reordered, id)
		}
	}
	reordered = slices.Insert(reordered, targetIndex, documentID)
	return renumberContiguous(reordered), nil
}

// renumberContiguous assigns orders 0..n-1 following the slice order.
func renumberContiguous(orderedIDs []string) []orderAssignment {
	assignments := make([]orderAssignment, 0, len(orderedIDs))
	for index, id := range orderedIDs {
		assignments = append(assignments, orderAssignment{documentID: id, order: int64(index)})
	}
	return assignments
}

// changedAssignments drops assignments that match the order already stored.
func changedAssignments(assignments []orderAssignment, current map[string]int64) []orderAssignment {
	changed := make([]orderAssignment, 0, len(assignments))
	for _, assignment := range assignments {
		if existing, ok := current[assignment.documentID]; ok && existing == assignment.order {
			continue
		}
		changed = append(changed, assignment)
	}
	return changed
}
