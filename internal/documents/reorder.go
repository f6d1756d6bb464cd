package documents

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	reasonDocumentNotInParent = "document_not_in_parent"
	reasonIndexOutOfRange     = "index_out_of_range"
)

// Reorder moves a document to request.Index within the sibling group of
// request.ParentID and renumbers the group to 0..n-1. Moving a document to the
// index it already holds writes nothing.
func (s *Service) Reorder(ctx context.Context, userID UserID, request ReorderRequest) (Document, error) {
	if err := s.ensureDatabase(opReorder); err != nil {
		return Document{}, err
	}
	if request.Index < 0 {
		return Document{}, newServiceError(opReorder, reasonIndexOutOfRange, ErrorKindInvalidArgument,
			fmt.Errorf("%w: %d", ErrIndexOutOfRange, request.Index))
	}
	documentID := request.DocumentID.String()
	group := groupFor(optionalString(request.ParentID), userID.String())

	var result Document
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockSiblingGroups(tx, group); err != nil {
			s.logError(opReorder, reasonLockFailed, err)
			return newServiceError(opReorder, reasonLockFailed, ErrorKindUpstream, err)
		}
		siblings, err := loadSiblings(tx, group)
		if err != nil {
			s.logError(opReorder, reasonQueryFailed, err, zap.String(fieldDocumentID, documentID))
			return newServiceError(opReorder, reasonQueryFailed, ErrorKindUpstream, err)
		}

		siblingIDs := make([]string, 0, len(siblings))
		var target *Document
		for index := range siblings {
			siblingIDs = append(siblingIDs, siblings[index].ID)
			if siblings[index].ID == documentID {
				target = &siblings[index]
			}
		}
		if target == nil {
			return s.missingReorderTarget(tx, userID, documentID, group)
		}
		if target.OwnerID != userID.String() {
			return newServiceError(opReorder, reasonNotOwner, ErrorKindForbidden,
				fmt.Errorf("%w: %s", ErrNotOwner, documentID))
		}

		plan, err := planMoveWithinParent(siblingIDs, documentID, request.Index)
		switch {
		case errors.Is(err, ErrIndexOutOfRange):
			return newServiceError(opReorder, reasonIndexOutOfRange, ErrorKindInvalidArgument, err)
		case err != nil:
			return newServiceError(opReorder, reasonDocumentNotInParent, ErrorKindNotFound, err)
		case plan == nil:
			result = *target
			return nil
		}

		now := s.now()
		written, err := applyOrderAssignments(tx, siblings, plan, now)
		if err != nil {
			s.logError(opReorder, reasonUpdateFailed, err, zap.String(fieldDocumentID, documentID))
			return newServiceError(opReorder, reasonUpdateFailed, ErrorKindUpstream, err)
		}
		if err := s.auditSiblingGroups(tx, opReorder, group); err != nil {
			return err
		}
		if err := tx.Where(queryID, documentID).Take(&result).Error; err != nil {
			s.logError(opReorder, reasonQueryFailed, err, zap.String(fieldDocumentID, documentID))
			return newServiceError(opReorder, reasonQueryFailed, ErrorKindUpstream, err)
		}
		s.loggerOrDefault().Debug("documents reordered",
			zap.String(fieldDocumentID, documentID),
			zap.Int("index", request.Index),
			zap.Int("rows_written", written),
		)
		return nil
	})
	if err != nil {
		return Document{}, err
	}
	return result, nil
}

// missingReorderTarget reports a target absent from group. A root document of
// another owner lives in that owner's root group, so it is rejected as not owned.
func (s *Service) missingReorderTarget(tx *gorm.DB, userID UserID, documentID string, group siblingGroup) error {
	var stored Document
	err := tx.Select(columnID, columnParentID, columnOwnerID).Where(queryID, documentID).Take(&stored).Error
	if err != nil && !isNotFound(err) {
		s.logError(opReorder, reasonQueryFailed, err, zap.String(fieldDocumentID, documentID))
		return newServiceError(opReorder, reasonQueryFailed, ErrorKindUpstream, err)
	}
	if err == nil && stored.OwnerID != userID.String() && sameParent(stored.ParentID, group.parentID) {
		return newServiceError(opReorder, reasonNotOwner, ErrorKindForbidden,
			fmt.Errorf("%w: %s", ErrNotOwner, documentID))
	}
	return newServiceError(opReorder, reasonDocumentNotInParent, ErrorKindNotFound,
		fmt.Errorf("%w: %s under %s", ErrDocumentNotInParent, documentID, group))
}

// moveToParent detaches document from its sibling group and appends it to the
// group of newParentID. The old group is compacted to 0..k-1 and both groups are
// audited before the transaction commits. Moving to the current parent is a no-op.
// Callers hold the locks taken by lockForMove.
func (s *Service) moveToParent(tx *gorm.DB, operation string, userID UserID, document Document, newParentID *string, now time.Time) error {
	if sameParent(document.ParentID, newParentID) {
		return nil
	}
	if newParentID != nil && *newParentID == document.ID {
		return newServiceError(operation, reasonSelfParent, ErrorKindConflict,
			fmt.Errorf("%w: %s", ErrSelfParent, document.ID))
	}

	if newParentID != nil {
		parent, err := findDocument(tx, *newParentID)
		if isNotFound(err) {
			return newServiceError(operation, reasonParentNotFound, ErrorKindNotFound,
				fmt.Errorf("%w: %s", ErrParentNotFound, *newParentID))
		}
		if err != nil {
			s.logError(operation, reasonQueryFailed, err, zap.String(fieldParentID, *newParentID))
			return newServiceError(operation, reasonQueryFailed, ErrorKindUpstream, err)
		}
		if !parent.VisibleTo(userID) {
			return newServiceError(operation, reasonNotVisible, ErrorKindForbidden,
				fmt.Errorf("%w: %s", ErrNotVisible, *newParentID))
		}
	}

	allowed, err := canAssignParent(document.ID, newParentID, transactionChildLookup(tx))
	if errors.Is(err, ErrHierarchyCorrupted) {
		s.logError(operation, reasonHierarchyCorrupted, err, zap.String(fieldDocumentID, document.ID))
		return newServiceError(operation, reasonHierarchyCorrupted, ErrorKindConflict, err)
	}
	if err != nil {
		s.logError(operation, reasonQueryFailed, err, zap.String(fieldDocumentID, document.ID))
		return newServiceError(operation, reasonQueryFailed, ErrorKindUpstream, err)
	}
	if !allowed {
		return newServiceError(operation, reasonCycleDetected, ErrorKindConflict,
			fmt.Errorf("%w: %s under %s", ErrCycleDetected, *newParentID, document.ID))
	}

	oldGroup := groupFor(document.ParentID, document.OwnerID)
	newGroup := groupFor(newParentID, document.OwnerID)
	order, err := nextSiblingOrder(tx, newGroup)
	if err != nil {
		s.logError(operation, reasonOrderFailed, err)
		return newServiceError(operation, reasonOrderFailed, ErrorKindUpstream, err)
	}
	var parentValue any
	if newParentID != nil {
		parentValue = *newParentID
	}
	err = tx.Model(&Document{}).Where(queryID, document.ID).Updates(map[string]any{
		columnParentID:  parentValue,
		columnSortOrder: order,
		columnUpdatedAt: now,
	}).Error
	if err != nil {
		s.logError(operation, reasonUpdateFailed, err, zap.String(fieldDocumentID, document.ID))
		return newServiceError(operation, reasonUpdateFailed, ErrorKindUpstream, err)
	}
	if err := renumberSiblingGroup(tx, oldGroup, now); err != nil {
		s.logError(operation, reasonOrderFailed, err, zap.String(fieldDocumentID, document.ID))
		return newServiceError(operation, reasonOrderFailed, ErrorKindUpstream, err)
	}
	return s.auditSiblingGroups(tx, operation, oldGroup, newGroup)
}
