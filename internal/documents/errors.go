package documents

import (
	"errors"
	"fmt"
)

// ErrorKind classifies service failures for transport mapping.
type ErrorKind string

const (
	ErrorKindNotFound        ErrorKind = "not_found"
	ErrorKindForbidden       ErrorKind = "forbidden"
	ErrorKindInvalidArgument ErrorKind = "invalid_argument"
	ErrorKindConflict        ErrorKind = "conflict"
	ErrorKindUpstream        ErrorKind = "upstream"
)

var (
	// ErrDocumentNotFound indicates the referenced document does not exist.
	ErrDocumentNotFound = errors.New("documents: document not found")
	// ErrParentNotFound indicates the requested parent document does not exist.
	ErrParentNotFound = errors.New("documents: parent document not found")
	// ErrDocumentNotInParent indicates the document is not a child of the supplied parent.
	ErrDocumentNotInParent = errors.New("documents: document not found under parent")
	// ErrNotOwner indicates the caller does not own the document.
	ErrNotOwner = errors.New("documents: caller does not own document")
	// ErrNotVisible indicates the document is neither owned by the caller nor public.
	ErrNotVisible = errors.New("documents: document is not visible to caller")
	// ErrNotPublic indicates a fork was requested for a private document.
	ErrNotPublic = errors.New("documents: document is not public")
	// ErrMissingTitle indicates a blank title.
	ErrMissingTitle = errors.New("documents: title is required")
	// ErrTitleTooLong indicates a title longer than MaxTitleLength characters.
	ErrTitleTooLong = errors.New("documents: title is too long")
	// ErrIndexOutOfRange indicates a reorder target outside the sibling group.
	ErrIndexOutOfRange = errors.New("documents: target index out of range")
	// ErrSelfParent indicates a document was assigned as its own parent.
	ErrSelfParent = errors.New("documents: document cannot be its own parent")
	// ErrCycleDetected indicates the proposed parent is a descendant of the document.
	ErrCycleDetected = errors.New("documents: proposed parent is a descendant")
	// ErrDuplicateOrder indicates two siblings would share an order value.
	ErrDuplicateOrder = errors.New("documents: duplicate sibling order")
	// ErrHierarchyCorrupted indicates stored parent references already contain a cycle.
	ErrHierarchyCorrupted = errors.New("documents: hierarchy corrupted")

	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
)

// ServiceError carries a stable operation-scoped code and the failure kind.
type ServiceError struct {
	code string
	kind ErrorKind
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code returns the dotted operation.reason code.
func (e *ServiceError) Code() string {
	return e.code
}

// Kind returns the failure classification.
func (e *ServiceError) Kind() ErrorKind {
	return e.kind
}

// KindOf extracts the ErrorKind of err, treating unknown errors as upstream failures.
func KindOf(err error) ErrorKind {
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr.kind
	}
	return ErrorKindUpstream
}

func newServiceError(operation, reason string, kind ErrorKind, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, kind: kind, err: cause}
}
