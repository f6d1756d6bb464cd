package integration_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/folio/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/folio/backend/internal/database"
	"github.com/MarcoPoloResearchLab/folio/backend/internal/documents"
	"github.com/MarcoPoloResearchLab/folio/backend/internal/server"
	"github.com/MarcoPoloResearchLab/folio/backend/internal/users"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const (
	sessionSigningSecret = "integration-secret"
	sessionCookieName    = "app_session"
	sessionIssuer        = "tauth"
	ownerUserID          = "user-ada"
	readerUserID         = "user-grace"
	jsonContentType      = "application/json"
)

type documentResponse struct {
	ID           string  `json:"id"`
	Title        string  `json:"title"`
	ParentID     *string `json:"parentId"`
	OwnerID      string  `json:"ownerId"`
	IsPublic     bool    `json:"isPublic"`
	Order        int64   `json:"order"`
	ForkedFromID *string `json:"forkedFromId"`
	ForkCount    int64   `json:"forkCount"`
	AuthorName   string  `json:"authorName"`
}

type treeNodeResponse struct {
	documentResponse
	Children []treeNodeResponse `json:"children"`
}

func TestDocumentHierarchyFlow(testContext *testing.T) {
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:integration_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := database.Open(database.Options{Driver: database.DriverSQLite, Path: dsn}, zap.NewNop())
	if err != nil {
		testContext.Fatalf("failed to open database: %v", err)
	}

	documentsService, err := documents.NewService(documents.ServiceConfig{
		Database:   db,
		IDProvider: documents.NewUUIDProvider(),
		Logger:     zap.NewNop(),
	})
	if err != nil {
		testContext.Fatalf("failed to build documents service: %v", err)
	}
	userService, err := users.NewService(users.ServiceConfig{Database: db})
	if err != nil {
		testContext.Fatalf("failed to build user service: %v", err)
	}
	sessionValidator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(sessionSigningSecret),
		Issuer:        sessionIssuer,
		CookieName:    sessionCookieName,
	})
	if err != nil {
		testContext.Fatalf("failed to construct session validator: %v", err)
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		SessionValidator: sessionValidator,
		Users:            userService,
		DocumentsService: documentsService,
		Logger:           zap.NewNop(),
	})
	if err != nil {
		testContext.Fatalf("failed to build handler: %v", err)
	}

	testServer := httptest.NewServer(handler)
	defer testServer.Close()

	now := time.Now()
	ownerCookie := &http.Cookie{Name: sessionCookieName, Value: mustMintSessionToken(testContext, ownerUserID, "Ada", now)}
	readerCookie := &http.Cookie{Name: sessionCookieName, Value: mustMintSessionToken(testContext, readerUserID, "Grace", now)}

	client := &apiClient{baseURL: testServer.URL, testContext: testContext}

	var chapterOne, chapterTwo, chapterThree, section documentResponse
	client.mustCall(http.MethodPost, "/documents", ownerCookie, map[string]any{"title": "Chapter 1"}, http.StatusCreated, &chapterOne)
	client.mustCall(http.MethodPost, "/documents", ownerCookie, map[string]any{"title": "Chapter 2", "isPublic": true}, http.StatusCreated, &chapterTwo)
	client.mustCall(http.MethodPost, "/documents", ownerCookie, map[string]any{"title": "Chapter 3"}, http.StatusCreated, &chapterThree)
	client.mustCall(http.MethodPost, "/documents", ownerCookie, map[string]any{"title": "Section", "parentId": chapterOne.ID}, http.StatusCreated, &section)
	if chapterThree.Order != 2 || section.Order != 0 {
		testContext.Fatalf("unexpected initial orders: chapter3=%d section=%d", chapterThree.Order, section.Order)
	}

	var moved documentResponse
	client.mustCall(http.MethodPut, "/documents/"+chapterThree.ID+"/reorder", ownerCookie, map[string]any{"index": 0}, http.StatusOK, &moved)
	if moved.Order != 0 {
		testContext.Fatalf("expected chapter 3 at index 0, got %d", moved.Order)
	}

	var fork documentResponse
	client.mustCall(http.MethodPost, "/documents/fork", readerCookie, map[string]any{"documentId": chapterTwo.ID}, http.StatusCreated, &fork)
	if fork.OwnerID != readerUserID || fork.IsPublic || fork.ParentID == nil || *fork.ParentID != chapterTwo.ID {
		testContext.Fatalf("unexpected fork: %#v", fork)
	}
	if fork.AuthorName != "Grace" {
		testContext.Fatalf("expected fork author Grace, got %q", fork.AuthorName)
	}

	var readerRoot documentResponse
	client.mustCall(http.MethodPost, "/documents", readerCookie, map[string]any{"title": "Notes"}, http.StatusCreated, &readerRoot)
	if readerRoot.Order != 0 {
		testContext.Fatalf("expected reader's first root at order 0, got %d", readerRoot.Order)
	}

	var publicDocuments []documentResponse
	client.mustCall(http.MethodGet, "/documents/public", readerCookie, nil, http.StatusOK, &publicDocuments)
	if len(publicDocuments) != 1 || publicDocuments[0].ID != chapterTwo.ID || publicDocuments[0].ForkCount != 1 {
		testContext.Fatalf("unexpected public documents: %#v", publicDocuments)
	}

	var readerDocuments []documentResponse
	client.mustCall(http.MethodGet, "/documents?visibility=owned", readerCookie, nil, http.StatusOK, &readerDocuments)
	if len(readerDocuments) != 2 {
		testContext.Fatalf("expected the reader's root and fork, got %#v", readerDocuments)
	}

	var source documentResponse
	client.mustCall(http.MethodGet, "/documents/"+chapterTwo.ID, readerCookie, nil, http.StatusOK, &source)
	if source.ForkCount != 1 || source.AuthorName != "Ada" {
		testContext.Fatalf("unexpected source after fork: %#v", source)
	}

	client.mustCall(http.MethodDelete, "/documents/"+chapterOne.ID, readerCookie, nil, http.StatusForbidden, nil)

	var deleted struct {
		Success bool     `json:"success"`
		Deleted []string `json:"deleted"`
	}
	client.mustCall(http.MethodDelete, "/documents/"+chapterTwo.ID, ownerCookie, nil, http.StatusOK, &deleted)
	if !deleted.Success || len(deleted.Deleted) != 2 || deleted.Deleted[0] != chapterTwo.ID || deleted.Deleted[1] != fork.ID {
		testContext.Fatalf("unexpected cascade: %#v", deleted)
	}

	var tree struct {
		Roots []treeNodeResponse `json:"roots"`
	}
	client.mustCall(http.MethodGet, "/documents/tree", ownerCookie, nil, http.StatusOK, &tree)
	if len(tree.Roots) != 2 {
		testContext.Fatalf("expected two roots, got %d", len(tree.Roots))
	}
	if tree.Roots[0].ID != chapterThree.ID || tree.Roots[1].ID != chapterOne.ID {
		testContext.Fatalf("unexpected root order: %s, %s", tree.Roots[0].Title, tree.Roots[1].Title)
	}
	if len(tree.Roots[1].Children) != 1 || tree.Roots[1].Children[0].ID != section.ID {
		testContext.Fatalf("expected section under chapter 1, got %#v", tree.Roots[1].Children)
	}
}

type apiClient struct {
	baseURL     string
	testContext *testing.T
}

func (c *apiClient) mustCall(method, path string, cookie *http.Cookie, body any, expectedStatus int, target any) {
	c.testContext.Helper()
	var payload []byte
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			c.testContext.Fatalf("failed to encode request: %v", err)
		}
		payload = encoded
	}
	request, err := http.NewRequest(method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		c.testContext.Fatalf("failed to construct request: %v", err)
	}
	request.AddCookie(cookie)
	if body != nil {
		request.Header.Set("Content-Type", jsonContentType)
	}

	response, err := http.DefaultClient.Do(request)
	if err != nil {
		c.testContext.Fatalf("%s %s failed: %v", method, path, err)
	}
	defer response.Body.Close()

	if response.StatusCode != expectedStatus {
		c.testContext.Fatalf("%s %s: expected status %d, got %d", method, path, expectedStatus, response.StatusCode)
	}
	if target == nil {
		return
	}
	if err := json.NewDecoder(response.Body).Decode(target); err != nil {
		c.testContext.Fatalf("failed to decode %s %s response: %v", method, path, err)
	}
}

func mustMintSessionToken(testContext *testing.T, userID, displayName string, now time.Time) string {
	testContext.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.SessionClaims{
		UserID:          userID,
		UserDisplayName: displayName,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    sessionIssuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now.Add(-time.Minute)),
			NotBefore: jwt.NewNumericDate(now.Add(-time.Minute)),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	})
	signed, err := token.SignedString([]byte(sessionSigningSecret))
	if err != nil {
		testContext.Fatalf("failed to sign token: %v", err)
	}
	return signed
}
