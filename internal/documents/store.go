package documents

import (
	"database/sql"
	"errors"
	"fmt"
	"hash/fnv"
	"slices"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	columnID         = "id"
	columnParentID   = "parent_id"
	columnSortOrder  = "sort_order"
	columnUpdatedAt  = "updated_at"
	columnForkCount  = "fork_count"
	columnOwnerID    = "owner_id"
	queryID          = columnID + " = ?"
	queryIDIn        = columnID + " IN ?"
	queryParentID    = columnParentID + " = ?"
	queryParentIDIn  = columnParentID + " IN ?"
	queryParentIsNil = columnParentID + " IS NULL"
	queryOwnerID     = columnOwnerID + " = ?"
	lookupChunkSize  = 500
	dialectPostgres  = "postgres"

	rootGroupPrefix   = "\x00root:"
	siblingLockPrefix = "documents:siblings:"
	hierarchyLockName = "documents:hierarchy"
)

var (
	siblingOrdering = []string{"sort_order ASC", "created_at ASC", "id ASC"}
	lockForUpdate   = clause.Locking{Strength: "UPDATE"}
)

// findDocument loads a document row, taking a row lock where the backend supports it.
func findDocument(tx *gorm.DB, id string) (Document, error) {
	var document Document
	err := tx.Clauses(lockForUpdate).Where(queryID, id).Take(&document).Error
	return document, err
}

// siblingGroup names one order sequence: the children of a parent document, or
// the root documents of a single owner.
type siblingGroup struct {
	parentID *string
	ownerID  string
}

func rootGroup(ownerID string) siblingGroup {
	return siblingGroup{ownerID: ownerID}
}

func childGroup(parentID string) siblingGroup {
	return siblingGroup{parentID: &parentID}
}

// groupFor returns the group a document with parentID and ownerID belongs to.
func groupFor(parentID *string, ownerID string) siblingGroup {
	if parentID == nil {
		return rootGroup(ownerID)
	}
	return childGroup(*parentID)
}

func (g siblingGroup) key() string {
	if g.parentID == nil {
		return rootGroupPrefix + g.ownerID
	}
	return *g.parentID
}

func (g siblingGroup) String() string {
	if g.parentID == nil {
		return fmt.Sprintf("root of %s", g.ownerID)
	}
	return fmt.Sprintf("parent %s", *g.parentID)
}

// scopeSiblingGroup restricts a query to the members of group.
func scopeSiblingGroup(tx *gorm.DB, group siblingGroup) *gorm.DB {
	if group.parentID == nil {
		return tx.Where(queryParentIsNil).Where(queryOwnerID, group.ownerID)
	}
	return tx.Where(queryParentID, *group.parentID)
}

// loadSiblings builds the sibling index of group from stored rows.
func loadSiblings(tx *gorm.DB, group siblingGroup) ([]Document, error) {
	query := applySiblingOrdering(scopeSiblingGroup(tx.Clauses(lockForUpdate).Model(&Document{}), group))
	var siblings []Document
	if err := query.Find(&siblings).Error; err != nil {
		return nil, err
	}
	return siblings, nil
}

// nextSiblingOrder returns max(order)+1 within the group, or 0 for an empty group.
func nextSiblingOrder(tx *gorm.DB, group siblingGroup) (int64, error) {
	var maxOrder sql.NullInt64
	row := scopeSiblingGroup(tx.Model(&Document{}), group).Select("MAX(" + columnSortOrder + ")").Row()
	if err := row.Scan(&maxOrder); err != nil {
		return 0, err
	}
	if !maxOrder.Valid {
		return 0, nil
	}
	return maxOrder.Int64 + 1, nil
}

// duplicateSiblingOrders returns order values held by more than one sibling.
func duplicateSiblingOrders(tx *gorm.DB, group siblingGroup) ([]int64, error) {
	var duplicates []int64
	err := scopeSiblingGroup(tx.Model(&Document{}), group).
		Group(columnSortOrder).
		Having("COUNT(*) > 1").
		Pluck(columnSortOrder, &duplicates).Error
	return duplicates, err
}

// applyOrderAssignments writes the assignments whose value differs from the stored order.
func applyOrderAssignments(tx *gorm.DB, siblings []Document, assignments []orderAssignment, now time.Time) (int, error) {
	current := make(map[string]int64, len(siblings))
	for _, sibling := range siblings {
		current[sibling.ID] = sibling.SortOrder
	}
	changed := changedAssignments(assignments, current)
	for _, assignment := range changed {
		err := tx.Model(&Document{}).
			Where(queryID, assignment.documentID).
			Updates(map[string]any{
				columnSortOrder: assignment.order,
				columnUpdatedAt: now,
			}).Error
		if err != nil {
			return 0, err
		}
	}
	return len(changed), nil
}

// renumberSiblingGroup compacts group to 0..k-1 keeping its current order.
func renumberSiblingGroup(tx *gorm.DB, group siblingGroup, now time.Time) error {
	siblings, err := loadSiblings(tx, group)
	if err != nil {
		return err
	}
	ids := make([]string, 0, len(siblings))
	for _, sibling := range siblings {
		ids = append(ids, sibling.ID)
	}
	_, err = applyOrderAssignments(tx, siblings, renumberContiguous(ids), now)
	return err
}

// transactionChildLookup answers frontier queries inside the running transaction.
func transactionChildLookup(tx *gorm.DB) childLookup {
	return func(parentIDs []string) ([]string, error) {
		var ids []string
		for chunk := range slices.Chunk(parentIDs, lookupChunkSize) {
			var childIDs []string
			if err := tx.Model(&Document{}).Where(queryParentIDIn, chunk).Pluck(columnID, &childIDs).Error; err != nil {
				return nil, err
			}
			ids = append(ids, childIDs...)
		}
		return ids, nil
	}
}

// lockHierarchy serializes writers that change parent references or remove
// subtrees on PostgreSQL. Descendant walks read without row locks and rely on it.
// It must be the first lock a transaction takes.
func lockHierarchy(tx *gorm.DB) error {
	if !usesAdvisoryLocks(tx) {
		return nil
	}
	return tx.Exec("SELECT pg_advisory_xact_lock(?)", advisoryLockKey(hierarchyLockName)).Error
}

// lockSiblingGroups serializes writers of the given groups on PostgreSQL with
// transaction-scoped advisory locks taken in a stable order. Row locks alone do
// not cover an empty group. Group locks are taken after lockHierarchy and before
// any row lock. SQLite runs with a single connection and needs none.
func lockSiblingGroups(tx *gorm.DB, groups ...siblingGroup) error {
	if !usesAdvisoryLocks(tx) {
		return nil
	}
	keys := make([]int64, 0, len(groups))
	for _, group := range groups {
		keys = append(keys, advisoryLockKey(siblingLockPrefix+group.key()))
	}
	slices.Sort(keys)
	keys = slices.Compact(keys)
	for _, key := range keys {
		if err := tx.Exec("SELECT pg_advisory_xact_lock(?)", key).Error; err != nil {
			return err
		}
	}
	return nil
}

func usesAdvisoryLocks(tx *gorm.DB) bool {
	return tx.Dialector != nil && tx.Dialector.Name() == dialectPostgres
}

func advisoryLockKey(name string) int64 {
	hasher := fnv.New64a()
	_, _ = hasher.Write([]byte(name))
	return int64(hasher.Sum64())
}

func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
