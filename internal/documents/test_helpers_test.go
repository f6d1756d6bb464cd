package documents

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type sequenceIDProvider struct {
	mu     sync.Mutex
	prefix string
	next   int
}

func (p *sequenceIDProvider) NewID() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.next++
	return fmt.Sprintf("%s-%03d", p.prefix, p.next), nil
}

// tickingClock advances by one second on every reading.
type tickingClock struct {
	mu      sync.Mutex
	current time.Time
}

func (c *tickingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(time.Second)
	return c.current
}

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:folio_documents_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})
	if err := db.AutoMigrate(&Document{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	clock := &tickingClock{current: time.Unix(1700000000, 0).UTC()}
	service, err := NewService(ServiceConfig{
		Database:   db,
		Clock:      clock.Now,
		IDProvider: &sequenceIDProvider{prefix: "doc"},
	})
	if err != nil {
		t.Fatalf("failed to construct documents service: %v", err)
	}
	return service, db
}

func mustUserID(t *testing.T, value string) UserID {
	t.Helper()
	id, err := NewUserID(value)
	if err != nil {
		t.Fatalf("unexpected user id error: %v", err)
	}
	return id
}

func mustDocumentID(t *testing.T, value string) DocumentID {
	t.Helper()
	id, err := NewDocumentID(value)
	if err != nil {
		t.Fatalf("unexpected document id error: %v", err)
	}
	return id
}

func documentIDPointer(t *testing.T, value string) *DocumentID {
	t.Helper()
	id := mustDocumentID(t, value)
	return &id
}

func mustCreate(t *testing.T, service *Service, owner UserID, title string, parentID *DocumentID, isPublic bool) Document {
	t.Helper()
	document, err := service.Create(context.Background(), owner, CreateRequest{
		Title:    title,
		Content:  "content of " + title,
		ParentID: parentID,
		IsPublic: isPublic,
	})
	if err != nil {
		t.Fatalf("failed to create %s: %v", title, err)
	}
	return document
}

func loadDocument(t *testing.T, db *gorm.DB, id string) Document {
	t.Helper()
	var document Document
	if err := db.Where("id = ?", id).Take(&document).Error; err != nil {
		t.Fatalf("failed to load document %s: %v", id, err)
	}
	return document
}

// siblingTitles returns the titles of a sibling group in stored order and fails
// unless the orders are exactly 0..n-1.
func siblingTitles(t *testing.T, db *gorm.DB, group siblingGroup) []string {
	t.Helper()
	siblings, err := loadSiblings(db, group)
	if err != nil {
		t.Fatalf("failed to load siblings: %v", err)
	}
	titles := make([]string, 0, len(siblings))
	for index, sibling := range siblings {
		if sibling.SortOrder != int64(index) {
			t.Fatalf("expected contiguous orders, %s holds %d at position %d", sibling.Title, sibling.SortOrder, index)
		}
		titles = append(titles, sibling.Title)
	}
	return titles
}

func requireServiceError(t *testing.T, err error, expectedCode string, expectedKind ErrorKind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error %s, got nil", expectedCode)
	}
	serviceErr, ok := err.(*ServiceError)
	if !ok {
		t.Fatalf("expected *ServiceError, got %T (%v)", err, err)
	}
	if serviceErr.Code() != expectedCode {
		t.Fatalf("expected code %s, got %s", expectedCode, serviceErr.Code())
	}
	if serviceErr.Kind() != expectedKind {
		t.Fatalf("expected kind %s, got %s", expectedKind, serviceErr.Kind())
	}
}
