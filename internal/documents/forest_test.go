package documents

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func forestDocument(id string, parentID *string, order int64) Document {
	return ownedForestDocument(id, "user-1", parentID, order)
}

func ownedForestDocument(id, ownerID string, parentID *string, order int64) Document {
	return Document{
		ID:        id,
		Title:     id,
		ParentID:  parentID,
		SortOrder: order,
		OwnerID:   ownerID,
		CreatedAt: time.Unix(1700000000, 0).UTC(),
	}
}

func TestForestChildrenAreSortedBySiblingOrder(t *testing.T) {
	forest := NewForest([]Document{
		forestDocument("B", nil, 1),
		forestDocument("A", nil, 0),
		forestDocument("X2", stringPointer("A"), 1),
		forestDocument("X1", stringPointer("A"), 0),
	})

	require.Equal(t, 4, forest.Len())
	roots := forest.Roots("user-1")
	require.Len(t, roots, 2)
	require.Equal(t, "A", roots[0].ID)
	require.Equal(t, "B", roots[1].ID)

	children := forest.Children("A")
	require.Len(t, children, 2)
	require.Equal(t, "X1", children[0].ID)
	require.Equal(t, "X2", children[1].ID)
	require.Empty(t, forest.Children("B"))
}

func TestForestGroupsRootsPerOwner(t *testing.T) {
	forest := NewForest([]Document{
		ownedForestDocument("a-root", "user-a", nil, 0),
		ownedForestDocument("b-first", "user-b", nil, 0),
		ownedForestDocument("b-second", "user-b", nil, 1),
		ownedForestDocument("b-fork", "user-b", stringPointer("a-root"), 0),
		ownedForestDocument("a-child", "user-a", stringPointer("a-root"), 1),
	})

	require.NoError(t, forest.Validate())
	require.Empty(t, forest.GroupsWithDuplicateOrders())
	require.Equal(t, []Document{forest.nodes["a-root"]}, forest.Roots("user-a"))
	require.Len(t, forest.Roots("user-b"), 2)
	require.Empty(t, forest.Roots("user-c"))

	children := forest.Children("a-root")
	require.Len(t, children, 2)
	require.Equal(t, "b-fork", children[0].ID)
	require.Equal(t, "a-child", children[1].ID)

	levels, err := forest.Subtree("a-root")
	require.NoError(t, err)
	require.Equal(t, [][]string{{"a-root"}, {"b-fork", "a-child"}}, levels)
}

func TestForestCanAssignParentAndSubtree(t *testing.T) {
	forest := NewForest([]Document{
		forestDocument("A", nil, 0),
		forestDocument("B", stringPointer("A"), 0),
		forestDocument("C", stringPointer("B"), 0),
		forestDocument("D", nil, 1),
	})

	allowed, err := forest.CanAssignParent("A", stringPointer("C"))
	require.NoError(t, err)
	require.False(t, allowed)

	allowed, err = forest.CanAssignParent("C", stringPointer("D"))
	require.NoError(t, err)
	require.True(t, allowed)

	levels, err := forest.Subtree("A")
	require.NoError(t, err)
	require.Equal(t, [][]string{{"A"}, {"B"}, {"C"}}, levels)

	_, err = forest.Subtree("missing")
	require.ErrorIs(t, err, ErrDocumentNotFound)
}

func TestForestValidate(t *testing.T) {
	valid := NewForest([]Document{
		forestDocument("A", nil, 0),
		forestDocument("B", nil, 1),
		forestDocument("C", stringPointer("A"), 0),
	})
	require.NoError(t, valid.Validate())

	duplicates := NewForest([]Document{
		forestDocument("A", nil, 0),
		forestDocument("B", nil, 0),
	})
	require.ErrorIs(t, duplicates.Validate(), ErrDuplicateOrder)
	groups := duplicates.GroupsWithDuplicateOrders()
	require.Len(t, groups, 1)
	require.Len(t, groups[0], 2)

	selfParent := NewForest([]Document{forestDocument("A", stringPointer("A"), 0)})
	require.ErrorIs(t, selfParent.Validate(), ErrSelfParent)

	cycle := NewForest([]Document{
		forestDocument("A", stringPointer("B"), 0),
		forestDocument("B", stringPointer("A"), 0),
	})
	require.ErrorIs(t, cycle.Validate(), ErrHierarchyCorrupted)

	dangling := NewForest([]Document{forestDocument("A", stringPointer("gone"), 0)})
	require.ErrorIs(t, dangling.Validate(), ErrHierarchyCorrupted)
}

func TestBuildTreeNestsChildrenAndPromotesOrphans(t *testing.T) {
	roots := BuildTree([]Document{
		forestDocument("orphan", stringPointer("hidden"), 0),
		forestDocument("B", nil, 1),
		forestDocument("A", nil, 0),
		forestDocument("A2", stringPointer("A"), 1),
		forestDocument("A1", stringPointer("A"), 0),
		forestDocument("A1x", stringPointer("A1"), 0),
	})

	require.Len(t, roots, 3)
	require.Equal(t, "A", roots[0].Document.ID)
	require.Equal(t, "B", roots[1].Document.ID)
	require.Equal(t, "orphan", roots[2].Document.ID)

	require.Len(t, roots[0].Children, 2)
	require.Equal(t, "A1", roots[0].Children[0].Document.ID)
	require.Equal(t, "A2", roots[0].Children[1].Document.ID)
	require.Len(t, roots[0].Children[0].Children, 1)
	require.Equal(t, "A1x", roots[0].Children[0].Children[0].Document.ID)
	require.Empty(t, roots[1].Children)
}

func TestBuildTreeOfEmptyInput(t *testing.T) {
	require.Empty(t, BuildTree(nil))
}
