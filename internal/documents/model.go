package documents

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidDocumentID indicates that a document identifier is empty or exceeds storage bounds.
	ErrInvalidDocumentID = errors.New("documents: invalid document id")
	// ErrInvalidUserID indicates that a user identifier is empty or exceeds storage bounds.
	ErrInvalidUserID = errors.New("documents: invalid user id")
	// ErrInvalidVisibility indicates an unknown visibility filter.
	ErrInvalidVisibility = errors.New("documents: invalid visibility")
)

// DocumentID represents a validated document identifier.
type DocumentID string

// NewDocumentID validates raw input and returns a DocumentID.
func NewDocumentID(rawInput string) (DocumentID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidDocumentID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidDocumentID, maxIdentifierLength)
	}
	return DocumentID(trimmed), nil
}

// NewParentID normalizes an optional parent reference. Nil and blank input mean the root group.
func NewParentID(rawInput *string) (*DocumentID, error) {
	if rawInput == nil || strings.TrimSpace(*rawInput) == "" {
		return nil, nil
	}
	id, err := NewDocumentID(*rawInput)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

// String returns the underlying string identifier.
func (id DocumentID) String() string {
	return string(id)
}

// UserID represents a validated user identifier.
type UserID string

// NewUserID validates raw input and returns a UserID.
func NewUserID(rawInput string) (UserID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidUserID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidUserID, maxIdentifierLength)
	}
	return UserID(trimmed), nil
}

// String returns the underlying string identifier.
func (id UserID) String() string {
	return string(id)
}

// Visibility selects which documents a listing returns.
type Visibility string

const (
	// VisibilityAll lists documents owned by the caller plus every public document.
	VisibilityAll Visibility = "all"
	// VisibilityOwned lists only documents owned by the caller.
	VisibilityOwned Visibility = "owned"
	// VisibilityPublic lists only public documents.
	VisibilityPublic Visibility = "public"
)

// ParseVisibility maps a query value onto a Visibility. Blank input selects VisibilityAll.
func ParseVisibility(rawInput string) (Visibility, error) {
	switch strings.ToLower(strings.TrimSpace(rawInput)) {
	case "", string(VisibilityAll):
		return VisibilityAll, nil
	case string(VisibilityOwned):
		return VisibilityOwned, nil
	case string(VisibilityPublic):
		return VisibilityPublic, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidVisibility, rawInput)
	}
}

// MaxTitleLength is the longest title, in characters, a document may carry.
const MaxTitleLength = 512

// Document is a node of the document forest. Sibling order is scoped to ParentID;
// root documents form one group per owner.
type Document struct {
	ID           string    `gorm:"column:id;primaryKey;size:190;not null"`
	Title        string    `gorm:"column:title;size:512;not null"`
	Content      string    `gorm:"column:content;type:text;not null;default:''"`
	Style        string    `gorm:"column:style;type:text;not null;default:''"`
	ParentID     *string   `gorm:"column:parent_id;size:190;index:idx_documents_parent_order,priority:1"`
	SortOrder    int64     `gorm:"column:sort_order;not null;default:0;index:idx_documents_parent_order,priority:2"`
	OwnerID      string    `gorm:"column:owner_id;size:190;not null;index:idx_documents_owner"`
	IsPublic     bool      `gorm:"column:is_public;not null;default:false;index:idx_documents_public"`
	ForkedFromID *string   `gorm:"column:forked_from_id;size:190;index:idx_documents_forked_from"`
	ForkCount    int64     `gorm:"column:fork_count;not null;default:0"`
	CreatedAt    time.Time `gorm:"column:created_at;not null;autoCreateTime:false"`
	UpdatedAt    time.Time `gorm:"column:updated_at;not null;autoUpdateTime:false"`
}

// TableName provides the explicit table binding for GORM.
func (Document) TableName() string {
	return "documents"
}

// IsRoot reports whether the document sits in the root sibling group.
func (d Document) IsRoot() bool {
	return d.ParentID == nil
}

// VisibleTo reports whether the user may read the document.
func (d Document) VisibleTo(userID UserID) bool {
	return d.IsPublic || d.OwnerID == userID.String()
}

// CreateRequest describes a new document.
type CreateRequest struct {
	Title    string
	Content  string
	Style    string
	ParentID *DocumentID
	IsPublic bool
}

// ParentAssignment carries a requested parent change; a nil ParentID moves the document to its owner's root group.
type ParentAssignment struct {
	ParentID *DocumentID
}

// UpdateRequest carries a partial document update. Nil fields are left untouched.
type UpdateRequest struct {
	DocumentID DocumentID
	Title      *string
	Content    *string
	Style      *string
	IsPublic   *bool
	Parent     *ParentAssignment
}

// ReorderRequest moves a document to Index within the sibling group of ParentID.
type ReorderRequest struct {
	DocumentID DocumentID
	ParentID   *DocumentID
	Index      int
}

func optionalString(id *DocumentID) *string {
	if id == nil {
		return nil
	}
	value := id.String()
	return &value
}

func sameParent(left, right *string) bool {
	if left == nil || right == nil {
		return left == nil && right == nil
	}
	return *left == *right
}
