package documents

import (
	"context"
	"fmt"
	"unicode/utf8"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	forkTitleSuffix = " (fork)"
	reasonNotPublic = "not_public"
)

// Fork copies a public document into a private child of the source owned by
// userID and increments the source fork counter in the same transaction.
func (s *Service) Fork(ctx context.Context, userID UserID, sourceID DocumentID) (Document, error) {
	if err := s.ensureDatabase(opFork); err != nil {
		return Document{}, err
	}
	if s.idProvider == nil {
		s.logError(opFork, reasonMissingIDProvider, errMissingIDProvider)
		return Document{}, newServiceError(opFork, reasonMissingIDProvider, ErrorKindUpstream, errMissingIDProvider)
	}
	id := sourceID.String()
	group := childGroup(id)

	var fork Document
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockHierarchy(tx); err != nil {
			s.logError(opFork, reasonLockFailed, err)
			return newServiceError(opFork, reasonLockFailed, ErrorKindUpstream, err)
		}
		if err := lockSiblingGroups(tx, group); err != nil {
			s.logError(opFork, reasonLockFailed, err)
			return newServiceError(opFork, reasonLockFailed, ErrorKindUpstream, err)
		}
		source, err := findDocument(tx, id)
		if isNotFound(err) {
			return newServiceError(opFork, reasonDocumentNotFound, ErrorKindNotFound,
				fmt.Errorf("%w: %s", ErrDocumentNotFound, id))
		}
		if err != nil {
			s.logError(opFork, reasonQueryFailed, err, zap.String(fieldDocumentID, id))
			return newServiceError(opFork, reasonQueryFailed, ErrorKindUpstream, err)
		}
		if !source.IsPublic {
			return newServiceError(opFork, reasonNotPublic, ErrorKindForbidden,
				fmt.Errorf("%w: %s", ErrNotPublic, id))
		}

		increment := tx.Model(&Document{}).Where(queryID, id).
			UpdateColumn(columnForkCount, gorm.Expr(columnForkCount+" + ?", 1))
		if increment.Error != nil {
			s.logError(opFork, reasonUpdateFailed, increment.Error, zap.String(fieldDocumentID, id))
			return newServiceError(opFork, reasonUpdateFailed, ErrorKindUpstream, increment.Error)
		}
		if increment.RowsAffected != 1 {
			return newServiceError(opFork, reasonDocumentNotFound, ErrorKindNotFound,
				fmt.Errorf("%w: %s", ErrDocumentNotFound, id))
		}

		order, err := nextSiblingOrder(tx, group)
		if err != nil {
			s.logError(opFork, reasonOrderFailed, err, zap.String(fieldDocumentID, id))
			return newServiceError(opFork, reasonOrderFailed, ErrorKindUpstream, err)
		}
		forkID, err := s.idProvider.NewID()
		if err != nil {
			s.logError(opFork, reasonIDGenerationFailed, err)
			return newServiceError(opFork, reasonIDGenerationFailed, ErrorKindUpstream, err)
		}

		now := s.now()
		parentID := source.ID
		forkedFrom := source.ID
		fork = Document{
			ID:           forkID,
			Title:        forkTitle(source.Title),
			Content:      source.Content,
			Style:        source.Style,
			ParentID:     &parentID,
			SortOrder:    order,
			OwnerID:      userID.String(),
			IsPublic:     false,
			ForkedFromID: &forkedFrom,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := tx.Create(&fork).Error; err != nil {
			s.logError(opFork, reasonInsertFailed, err, zap.String(fieldDocumentID, id))
			return newServiceError(opFork, reasonInsertFailed, ErrorKindUpstream, err)
		}
		return s.auditSiblingGroups(tx, opFork, group)
	})
	if err != nil {
		return Document{}, err
	}
	return fork, nil
}

// forkTitle appends the fork suffix, shortening the source title so the result
// stays within MaxTitleLength characters.
func forkTitle(sourceTitle string) string {
	limit := MaxTitleLength - utf8.RuneCountInString(forkTitleSuffix)
	if utf8.RuneCountInString(sourceTitle) > limit {
		sourceTitle = string([]rune(sourceTitle)[:limit])
	}
	return sourceTitle + forkTitleSuffix
}
