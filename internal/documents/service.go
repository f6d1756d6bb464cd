package documents

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opServiceNew = "documents.service.new"
	opList       = "documents.list"
	opListPublic = "documents.list_public"
	opGet        = "documents.get"
	opTree       = "documents.tree"
	opCreate     = "documents.create"
	opUpdate     = "documents.update"
	opDelete     = "documents.delete"
	opReorder    = "documents.reorder"
	opFork       = "documents.fork"

	fieldUserID     = "user_id"
	fieldDocumentID = "document_id"
	fieldParentID   = "parent_id"

	reasonMissingDatabase    = "missing_database"
	reasonMissingIDProvider  = "missing_id_provider"
	reasonQueryFailed        = "query_failed"
	reasonDocumentNotFound   = "document_not_found"
	reasonParentNotFound     = "parent_not_found"
	reasonNotOwner           = "not_owner"
	reasonNotVisible         = "not_visible"
	reasonMissingTitle       = "missing_title"
	reasonTitleTooLong       = "title_too_long"
	reasonInvalidVisibility  = "invalid_visibility"
	reasonIDGenerationFailed = "id_generation_failed"
	reasonInsertFailed       = "insert_failed"
	reasonUpdateFailed       = "update_failed"
	reasonLockFailed         = "lock_failed"
	reasonOrderFailed        = "order_failed"
	reasonDuplicateOrder     = "duplicate_order"
	reasonSelfParent         = "self_parent"
	reasonCycleDetected      = "cycle_detected"
	reasonHierarchyCorrupted = "hierarchy_corrupted"
)

var noOpLogger = zap.NewNop()

// ServiceConfig describes the dependencies of the document hierarchy service.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Service owns the document forest: creation, ordering, moves, forks, and cascading deletes.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

// NewService validates the configuration and constructs a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, reasonMissingDatabase, ErrorKindUpstream, errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, reasonMissingIDProvider, ErrorKindUpstream, errMissingIDProvider)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// List returns the documents visible to userID under the requested visibility,
// ordered by sibling order.
func (s *Service) List(ctx context.Context, userID UserID, visibility Visibility) ([]Document, error) {
	if err := s.ensureDatabase(opList); err != nil {
		return nil, err
	}

	query := s.db.WithContext(ctx).Model(&Document{})
	switch visibility {
	case VisibilityAll, "":
		query = query.Where("owner_id = ? OR is_public = ?", userID.String(), true)
	case VisibilityOwned:
		query = query.Where("owner_id = ?", userID.String())
	case VisibilityPublic:
		query = query.Where("is_public = ?", true)
	default:
		return nil, newServiceError(opList, reasonInvalidVisibility, ErrorKindInvalidArgument,
			fmt.Errorf("%w: %q", ErrInvalidVisibility, visibility))
	}

	var documents []Document
	if err := applySiblingOrdering(query.Order(columnParentID)).Find(&documents).Error; err != nil {
		s.logError(opList, reasonQueryFailed, err, zap.String(fieldUserID, userID.String()))
		return nil, newServiceError(opList, reasonQueryFailed, ErrorKindUpstream, err)
	}
	return documents, nil
}

// ListPublic returns every public document.
func (s *Service) ListPublic(ctx context.Context) ([]Document, error) {
	if err := s.ensureDatabase(opListPublic); err != nil {
		return nil, err
	}

	var documents []Document
	query := s.db.WithContext(ctx).Where("is_public = ?", true)
	if err := applySiblingOrdering(query.Order(columnParentID)).Find(&documents).Error; err != nil {
		s.logError(opListPublic, reasonQueryFailed, err)
		return nil, newServiceError(opListPublic, reasonQueryFailed, ErrorKindUpstream, err)
	}
	return documents, nil
}

// Get returns a single document visible to userID.
func (s *Service) Get(ctx context.Context, userID UserID, documentID DocumentID) (Document, error) {
	if err := s.ensureDatabase(opGet); err != nil {
		return Document{}, err
	}

	var document Document
	err := s.db.WithContext(ctx).Where(queryID, documentID.String()).Take(&document).Error
	if isNotFound(err) {
		return Document{}, newServiceError(opGet, reasonDocumentNotFound, ErrorKindNotFound,
			fmt.Errorf("%w: %s", ErrDocumentNotFound, documentID))
	}
	if err != nil {
		s.logError(opGet, reasonQueryFailed, err, zap.String(fieldDocumentID, documentID.String()))
		return Document{}, newServiceError(opGet, reasonQueryFailed, ErrorKindUpstream, err)
	}
	if !document.VisibleTo(userID) {
		return Document{}, newServiceError(opGet, reasonNotVisible, ErrorKindForbidden,
			fmt.Errorf("%w: %s", ErrNotVisible, documentID))
	}
	return document, nil
}

// Tree returns the nested view of every document visible to userID.
func (s *Service) Tree(ctx context.Context, userID UserID) ([]*TreeNode, error) {
	documents, err := s.List(ctx, userID, VisibilityAll)
	if err != nil {
		var serviceErr *ServiceError
		if errors.As(err, &serviceErr) {
			return nil, newServiceError(opTree, reasonFromCode(serviceErr.Code()), serviceErr.Kind(), serviceErr.Unwrap())
		}
		return nil, err
	}
	return BuildTree(documents), nil
}

// Create appends a new document to the end of its sibling group.
func (s *Service) Create(ctx context.Context, userID UserID, request CreateRequest) (Document, error) {
	if err := s.ensureDatabase(opCreate); err != nil {
		return Document{}, err
	}
	if s.idProvider == nil {
		s.logError(opCreate, reasonMissingIDProvider, errMissingIDProvider)
		return Document{}, newServiceError(opCreate, reasonMissingIDProvider, ErrorKindUpstream, errMissingIDProvider)
	}
	title := strings.TrimSpace(request.Title)
	if err := validateTitle(opCreate, title); err != nil {
		return Document{}, err
	}
	parentID := optionalString(request.ParentID)
	group := groupFor(parentID, userID.String())

	var created Document
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if parentID != nil {
			if err := lockHierarchy(tx); err != nil {
				s.logError(opCreate, reasonLockFailed, err)
				return newServiceError(opCreate, reasonLockFailed, ErrorKindUpstream, err)
			}
		}
		if err := lockSiblingGroups(tx, group); err != nil {
			s.logError(opCreate, reasonLockFailed, err)
			return newServiceError(opCreate, reasonLockFailed, ErrorKindUpstream, err)
		}
		if parentID != nil {
			parent, err := findDocument(tx, *parentID)
			if isNotFound(err) {
				return newServiceError(opCreate, reasonParentNotFound, ErrorKindNotFound,
					fmt.Errorf("%w: %s", ErrParentNotFound, *parentID))
			}
			if err != nil {
				s.logError(opCreate, reasonQueryFailed, err, zap.String(fieldParentID, *parentID))
				return newServiceError(opCreate, reasonQueryFailed, ErrorKindUpstream, err)
			}
			if !parent.VisibleTo(userID) {
				return newServiceError(opCreate, reasonNotVisible, ErrorKindForbidden,
					fmt.Errorf("%w: %s", ErrNotVisible, *parentID))
			}
		}

		order, err := nextSiblingOrder(tx, group)
		if err != nil {
			s.logError(opCreate, reasonOrderFailed, err)
			return newServiceError(opCreate, reasonOrderFailed, ErrorKindUpstream, err)
		}
		documentID, err := s.idProvider.NewID()
		if err != nil {
			s.logError(opCreate, reasonIDGenerationFailed, err)
			return newServiceError(opCreate, reasonIDGenerationFailed, ErrorKindUpstream, err)
		}

		now := s.now()
		created = Document{
			ID:        documentID,
			Title:     title,
			Content:   request.Content,
			Style:     request.Style,
			ParentID:  parentID,
			SortOrder: order,
			OwnerID:   userID.String(),
			IsPublic:  request.IsPublic,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := tx.Create(&created).Error; err != nil {
			s.logError(opCreate, reasonInsertFailed, err, zap.String(fieldDocumentID, documentID))
			return newServiceError(opCreate, reasonInsertFailed, ErrorKindUpstream, err)
		}
		return s.auditSiblingGroups(tx, opCreate, group)
	})
	if err != nil {
		return Document{}, err
	}
	return created, nil
}

// Update applies a partial update. Only the owner may update a document; a
// parent change is validated and routed through the cross-parent move.
func (s *Service) Update(ctx context.Context, userID UserID, request UpdateRequest) (Document, error) {
	if err := s.ensureDatabase(opUpdate); err != nil {
		return Document{}, err
	}
	if request.Title != nil {
		if err := validateTitle(opUpdate, strings.TrimSpace(*request.Title)); err != nil {
			return Document{}, err
		}
	}
	documentID := request.DocumentID.String()

	var updated Document
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if request.Parent != nil {
			if err := s.lockForMove(tx, opUpdate, userID, documentID, optionalString(request.Parent.ParentID)); err != nil {
				return err
			}
		}
		document, err := findDocument(tx, documentID)
		if isNotFound(err) {
			return newServiceError(opUpdate, reasonDocumentNotFound, ErrorKindNotFound,
				fmt.Errorf("%w: %s", ErrDocumentNotFound, documentID))
		}
		if err != nil {
			s.logError(opUpdate, reasonQueryFailed, err, zap.String(fieldDocumentID, documentID))
			return newServiceError(opUpdate, reasonQueryFailed, ErrorKindUpstream, err)
		}
		if document.OwnerID != userID.String() {
			return newServiceError(opUpdate, reasonNotOwner, ErrorKindForbidden,
				fmt.Errorf("%w: %s", ErrNotOwner, documentID))
		}

		now := s.now()
		if request.Parent != nil {
			if err := s.moveToParent(tx, opUpdate, userID, document, optionalString(request.Parent.ParentID), now); err != nil {
				return err
			}
		}

		changes := map[string]any{}
		if request.Title != nil && strings.TrimSpace(*request.Title) != document.Title {
			changes["title"] = strings.TrimSpace(*request.Title)
		}
		if request.Content != nil && *request.Content != document.Content {
			changes["content"] = *request.Content
		}
		if request.Style != nil && *request.Style != document.Style {
			changes["style"] = *request.Style
		}
		if request.IsPublic != nil && *request.IsPublic != document.IsPublic {
			changes["is_public"] = *request.IsPublic
		}
		if len(changes) > 0 {
			changes[columnUpdatedAt] = now
			if err := tx.Model(&Document{}).Where(queryID, documentID).Updates(changes).Error; err != nil {
				s.logError(opUpdate, reasonUpdateFailed, err, zap.String(fieldDocumentID, documentID))
				return newServiceError(opUpdate, reasonUpdateFailed, ErrorKindUpstream, err)
			}
		}

		if err := tx.Where(queryID, documentID).Take(&updated).Error; err != nil {
			s.logError(opUpdate, reasonQueryFailed, err, zap.String(fieldDocumentID, documentID))
			return newServiceError(opUpdate, reasonQueryFailed, ErrorKindUpstream, err)
		}
		return nil
	})
	if err != nil {
		return Document{}, err
	}
	return updated, nil
}

// lockForMove takes the hierarchy lock and the locks of both sibling groups a
// move touches before any row of them is locked. The stored parent cannot change
// while the hierarchy lock is held.
func (s *Service) lockForMove(tx *gorm.DB, operation string, userID UserID, documentID string, newParentID *string) error {
	if err := lockHierarchy(tx); err != nil {
		s.logError(operation, reasonLockFailed, err)
		return newServiceError(operation, reasonLockFailed, ErrorKindUpstream, err)
	}
	var current Document
	err := tx.Select(columnID, columnParentID, columnOwnerID).Where(queryID, documentID).Take(&current).Error
	if isNotFound(err) {
		return nil
	}
	if err != nil {
		s.logError(operation, reasonQueryFailed, err, zap.String(fieldDocumentID, documentID))
		return newServiceError(operation, reasonQueryFailed, ErrorKindUpstream, err)
	}
	if current.OwnerID != userID.String() {
		return nil
	}
	err = lockSiblingGroups(tx, groupFor(current.ParentID, current.OwnerID), groupFor(newParentID, current.OwnerID))
	if err != nil {
		s.logError(operation, reasonLockFailed, err)
		return newServiceError(operation, reasonLockFailed, ErrorKindUpstream, err)
	}
	return nil
}

// auditSiblingGroups fails the running transaction when any of the groups holds duplicate orders.
func (s *Service) auditSiblingGroups(tx *gorm.DB, operation string, groups ...siblingGroup) error {
	for _, group := range groups {
		duplicates, err := duplicateSiblingOrders(tx, group)
		if err != nil {
			s.logError(operation, reasonQueryFailed, err)
			return newServiceError(operation, reasonQueryFailed, ErrorKindUpstream, err)
		}
		if len(duplicates) > 0 {
			cause := fmt.Errorf("%w: %s holds %v", ErrDuplicateOrder, group, duplicates)
			s.logError(operation, reasonDuplicateOrder, cause)
			return newServiceError(operation, reasonDuplicateOrder, ErrorKindConflict, cause)
		}
	}
	return nil
}

func validateTitle(operation, title string) error {
	if title == "" {
		return newServiceError(operation, reasonMissingTitle, ErrorKindInvalidArgument, ErrMissingTitle)
	}
	if length := utf8.RuneCountInString(title); length > MaxTitleLength {
		return newServiceError(operation, reasonTitleTooLong, ErrorKindInvalidArgument,
			fmt.Errorf("%w: %d characters", ErrTitleTooLong, length))
	}
	return nil
}

func (s *Service) ensureDatabase(operation string) error {
	if s == nil || s.db == nil {
		s.logError(operation, reasonMissingDatabase, errMissingDatabase)
		return newServiceError(operation, reasonMissingDatabase, ErrorKindUpstream, errMissingDatabase)
	}
	return nil
}

func (s *Service) now() time.Time {
	clock := s.clock
	if clock == nil {
		clock = time.Now
	}
	return clock().UTC().Truncate(time.Microsecond)
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil || s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("documents service error", attrs...)
}

func applySiblingOrdering(query *gorm.DB) *gorm.DB {
	for _, ordering := range siblingOrdering {
		query = query.Order(ordering)
	}
	return query
}

func reasonFromCode(code string) string {
	if index := strings.LastIndex(code, "."); index >= 0 {
		return code[index+1:]
	}
	return code
}
