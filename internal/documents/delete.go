package documents

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const reasonDeleteFailed = "delete_failed"

// Delete removes a document together with all of its descendants. Rows are
// removed deepest level first in a single transaction under the hierarchy lock,
// so no create or move can attach below a collected node. The former sibling
// group keeps its remaining orders; gaps are not compacted. The deleted
// documents are returned with the root first.
func (s *Service) Delete(ctx context.Context, userID UserID, documentID DocumentID) ([]Document, error) {
	if err := s.ensureDatabase(opDelete); err != nil {
		return nil, err
	}
	rootID := documentID.String()

	var deleted []Document
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockHierarchy(tx); err != nil {
			s.logError(opDelete, reasonLockFailed, err)
			return newServiceError(opDelete, reasonLockFailed, ErrorKindUpstream, err)
		}
		root, err := findDocument(tx, rootID)
		if isNotFound(err) {
			return newServiceError(opDelete, reasonDocumentNotFound, ErrorKindNotFound,
				fmt.Errorf("%w: %s", ErrDocumentNotFound, rootID))
		}
		if err != nil {
			s.logError(opDelete, reasonQueryFailed, err, zap.String(fieldDocumentID, rootID))
			return newServiceError(opDelete, reasonQueryFailed, ErrorKindUpstream, err)
		}
		if root.OwnerID != userID.String() {
			return newServiceError(opDelete, reasonNotOwner, ErrorKindForbidden,
				fmt.Errorf("%w: %s", ErrNotOwner, rootID))
		}

		levels, err := collectSubtree(rootID, transactionChildLookup(tx))
		if errors.Is(err, ErrHierarchyCorrupted) {
			s.logError(opDelete, reasonHierarchyCorrupted, err, zap.String(fieldDocumentID, rootID))
			return newServiceError(opDelete, reasonHierarchyCorrupted, ErrorKindConflict, err)
		}
		if err != nil {
			s.logError(opDelete, reasonQueryFailed, err, zap.String(fieldDocumentID, rootID))
			return newServiceError(opDelete, reasonQueryFailed, ErrorKindUpstream, err)
		}

		for _, level := range levels {
			rows, err := loadDocuments(tx, level)
			if err != nil {
				s.logError(opDelete, reasonQueryFailed, err, zap.String(fieldDocumentID, rootID))
				return newServiceError(opDelete, reasonQueryFailed, ErrorKindUpstream, err)
			}
			deleted = append(deleted, rows...)
		}

		for _, level := range slices.Backward(levels) {
			if err := deleteDocuments(tx, level); err != nil {
				s.logError(opDelete, reasonDeleteFailed, err, zap.String(fieldDocumentID, rootID))
				return newServiceError(opDelete, reasonDeleteFailed, ErrorKindUpstream, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.loggerOrDefault().Info("documents deleted",
		zap.String(fieldUserID, userID.String()),
		zap.String(fieldDocumentID, rootID),
		zap.Int("count", len(deleted)),
	)
	return deleted, nil
}

func loadDocuments(tx *gorm.DB, ids []string) ([]Document, error) {
	var documents []Document
	for chunk := range slices.Chunk(ids, lookupChunkSize) {
		var rows []Document
		if err := tx.Where(queryIDIn, chunk).Order(columnID).Find(&rows).Error; err != nil {
			return nil, err
		}
		documents = append(documents, rows...)
	}
	return documents, nil
}

func deleteDocuments(tx *gorm.DB, ids []string) error {
	for chunk := range slices.Chunk(ids, lookupChunkSize) {
		if err := tx.Where(queryIDIn, chunk).Delete(&Document{}).Error; err != nil {
			return err
		}
	}
	return nil
}
