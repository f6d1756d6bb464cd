package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"time"

	"github.com/MarcoPoloResearchLab/folio/backend/internal/documents"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	codeInvalidJSON       = "request.invalid_json"
	codeInvalidDocumentID = "request.invalid_document_id"
	codeMissingIndex      = "request.missing_index"
	codeInvalidVisibility = "documents.list.invalid_visibility"
	codeInternal          = "internal"
)

var jsonNull = []byte("null")

type errorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type documentPayload struct {
	ID           string  `json:"id"`
	Title        string  `json:"title"`
	Content      string  `json:"content"`
	Style        string  `json:"style"`
	ParentID     *string `json:"parentId"`
	OwnerID      string  `json:"ownerId"`
	IsPublic     bool    `json:"isPublic"`
	Order        int64   `json:"order"`
	ForkedFromID *string `json:"forkedFromId"`
	ForkCount    int64   `json:"forkCount"`
	CreatedAt    string  `json:"createdAt"`
	UpdatedAt    string  `json:"updatedAt"`
	AuthorName   string  `json:"authorName,omitempty"`
}

type treeNodePayload struct {
	documentPayload
	Children []treeNodePayload `json:"children"`
}

type documentTreeResponse struct {
	Roots []treeNodePayload `json:"roots"`
}

type deleteResponse struct {
	Success bool     `json:"success"`
	Deleted []string `json:"deleted"`
}

type createDocumentRequest struct {
	Title    string  `json:"title"`
	Content  string  `json:"content"`
	Style    string  `json:"style"`
	ParentID *string `json:"parentId"`
	IsPublic bool    `json:"isPublic"`
}

// updateDocumentRequest keeps parentId raw so an absent key can be told apart from null.
type updateDocumentRequest struct {
	Title    *string         `json:"title"`
	Content  *string         `json:"content"`
	Style    *string         `json:"style"`
	IsPublic *bool           `json:"isPublic"`
	ParentID json.RawMessage `json:"parentId"`
}

type reorderDocumentRequest struct {
	ParentID *string `json:"parentId"`
	Index    *int    `json:"index"`
}

type forkDocumentRequest struct {
	DocumentID string `json:"documentId"`
}

func (h *httpHandler) handleListDocuments(c *gin.Context) {
	userID, ok := h.currentUser(c)
	if !ok {
		return
	}
	visibility, err := documents.ParseVisibility(c.Query("visibility"))
	if err != nil {
		respondError(c, http.StatusBadRequest, documents.ErrorKindInvalidArgument, codeInvalidVisibility, err.Error())
		return
	}

	items, err := h.documentsService.List(c.Request.Context(), userID, visibility)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.documentPayloads(c, items))
}

func (h *httpHandler) handleListPublicDocuments(c *gin.Context) {
	items, err := h.documentsService.ListPublic(c.Request.Context())
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.documentPayloads(c, items))
}

func (h *httpHandler) handleDocumentTree(c *gin.Context) {
	userID, ok := h.currentUser(c)
	if !ok {
		return
	}
	roots, err := h.documentsService.Tree(c.Request.Context(), userID)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	var ownerIDs []string
	pending := slices.Clone(roots)
	for len(pending) > 0 {
		node := pending[len(pending)-1]
		pending = pending[:len(pending)-1]
		ownerIDs = append(ownerIDs, node.Document.OwnerID)
		pending = append(pending, node.Children...)
	}
	names := h.authorNames(c, ownerIDs)

	response := documentTreeResponse{Roots: make([]treeNodePayload, 0, len(roots))}
	for _, root := range roots {
		response.Roots = append(response.Roots, newTreeNodePayload(root, names))
	}
	c.JSON(http.StatusOK, response)
}

func (h *httpHandler) handleGetDocument(c *gin.Context) {
	userID, ok := h.currentUser(c)
	if !ok {
		return
	}
	documentID, ok := pathDocumentID(c)
	if !ok {
		return
	}
	document, err := h.documentsService.Get(c.Request.Context(), userID, documentID)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.documentPayloadWithAuthor(c, document))
}

func (h *httpHandler) handleCreateDocument(c *gin.Context) {
	userID, ok := h.currentUser(c)
	if !ok {
		return
	}
	var request createDocumentRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		respondError(c, http.StatusBadRequest, documents.ErrorKindInvalidArgument, codeInvalidJSON, err.Error())
		return
	}
	parentID, err := documents.NewParentID(request.ParentID)
	if err != nil {
		respondError(c, http.StatusBadRequest, documents.ErrorKindInvalidArgument, codeInvalidDocumentID, err.Error())
		return
	}

	created, err := h.documentsService.Create(c.Request.Context(), userID, documents.CreateRequest{
		Title:    request.Title,
		Content:  request.Content,
		Style:    request.Style,
		ParentID: parentID,
		IsPublic: request.IsPublic,
	})
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	h.notify([]string{userID.String()}, []string{created.ID})
	c.JSON(http.StatusCreated, h.documentPayloadWithAuthor(c, created))
}

func (h *httpHandler) handleUpdateDocument(c *gin.Context) {
	userID, ok := h.currentUser(c)
	if !ok {
		return
	}
	documentID, ok := pathDocumentID(c)
	if !ok {
		return
	}
	var request updateDocumentRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		respondError(c, http.StatusBadRequest, documents.ErrorKindInvalidArgument, codeInvalidJSON, err.Error())
		return
	}
	parent, err := decodeParentAssignment(request.ParentID)
	if err != nil {
		respondError(c, http.StatusBadRequest, documents.ErrorKindInvalidArgument, codeInvalidDocumentID, err.Error())
		return
	}

	updated, err := h.documentsService.Update(c.Request.Context(), userID, documents.UpdateRequest{
		DocumentID: documentID,
		Title:      request.Title,
		Content:    request.Content,
		Style:      request.Style,
		IsPublic:   request.IsPublic,
		Parent:     parent,
	})
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	h.notify([]string{userID.String()}, []string{updated.ID})
	c.JSON(http.StatusOK, h.documentPayloadWithAuthor(c, updated))
}

func (h *httpHandler) handleReorderDocument(c *gin.Context) {
	userID, ok := h.currentUser(c)
	if !ok {
		return
	}
	documentID, ok := pathDocumentID(c)
	if !ok {
		return
	}
	var request reorderDocumentRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		respondError(c, http.StatusBadRequest, documents.ErrorKindInvalidArgument, codeInvalidJSON, err.Error())
		return
	}
	if request.Index == nil {
		respondError(c, http.StatusBadRequest, documents.ErrorKindInvalidArgument, codeMissingIndex, "index is required")
		return
	}
	parentID, err := documents.NewParentID(request.ParentID)
	if err != nil {
		respondError(c, http.StatusBadRequest, documents.ErrorKindInvalidArgument, codeInvalidDocumentID, err.Error())
		return
	}

	reordered, err := h.documentsService.Reorder(c.Request.Context(), userID, documents.ReorderRequest{
		DocumentID: documentID,
		ParentID:   parentID,
		Index:      *request.Index,
	})
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	h.notify([]string{userID.String()}, []string{reordered.ID})
	c.JSON(http.StatusOK, h.documentPayloadWithAuthor(c, reordered))
}

func (h *httpHandler) handleDeleteDocument(c *gin.Context) {
	userID, ok := h.currentUser(c)
	if !ok {
		return
	}
	documentID, ok := pathDocumentID(c)
	if !ok {
		return
	}

	deleted, err := h.documentsService.Delete(c.Request.Context(), userID, documentID)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	recipients := []string{userID.String()}
	deletedIDs := make([]string, 0, len(deleted))
	for _, document := range deleted {
		deletedIDs = append(deletedIDs, document.ID)
		recipients = append(recipients, document.OwnerID)
	}
	h.notify(recipients, deletedIDs)
	c.JSON(http.StatusOK, deleteResponse{Success: true, Deleted: deletedIDs})
}

func (h *httpHandler) handleForkDocument(c *gin.Context) {
	userID, ok := h.currentUser(c)
	if !ok {
		return
	}
	var request forkDocumentRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		respondError(c, http.StatusBadRequest, documents.ErrorKindInvalidArgument, codeInvalidJSON, err.Error())
		return
	}
	sourceID, err := documents.NewDocumentID(request.DocumentID)
	if err != nil {
		respondError(c, http.StatusBadRequest, documents.ErrorKindInvalidArgument, codeInvalidDocumentID, err.Error())
		return
	}

	fork, err := h.documentsService.Fork(c.Request.Context(), userID, sourceID)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	recipients := []string{userID.String()}
	if source, err := h.documentsService.Get(c.Request.Context(), userID, sourceID); err == nil {
		recipients = append(recipients, source.OwnerID)
	}
	h.notify(recipients, []string{fork.ID, sourceID.String()})
	c.JSON(http.StatusCreated, h.documentPayloadWithAuthor(c, fork))
}

func (h *httpHandler) respondServiceError(c *gin.Context, err error) {
	var serviceErr *documents.ServiceError
	if !errors.As(err, &serviceErr) {
		h.logger.Error("documents request failed", zap.String("path", c.FullPath()), zap.Error(err))
		respondError(c, http.StatusInternalServerError, documents.ErrorKindUpstream, codeInternal, "internal error")
		return
	}

	status := statusForKind(serviceErr.Kind())
	message := serviceErr.Error()
	if status == http.StatusInternalServerError {
		h.logger.Error("documents request failed",
			zap.String("path", c.FullPath()),
			zap.String("code", serviceErr.Code()),
			zap.Error(err),
		)
		message = "internal error"
	}
	respondError(c, status, serviceErr.Kind(), serviceErr.Code(), message)
}

func statusForKind(kind documents.ErrorKind) int {
	switch kind {
	case documents.ErrorKindNotFound:
		return http.StatusNotFound
	case documents.ErrorKindForbidden:
		return http.StatusForbidden
	case documents.ErrorKindInvalidArgument:
		return http.StatusBadRequest
	case documents.ErrorKindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, status int, kind documents.ErrorKind, code, message string) {
	c.AbortWithStatusJSON(status, errorResponse{Error: string(kind), Code: code, Message: message})
}

func pathDocumentID(c *gin.Context) (documents.DocumentID, bool) {
	documentID, err := documents.NewDocumentID(c.Param("id"))
	if err != nil {
		respondError(c, http.StatusBadRequest, documents.ErrorKindInvalidArgument, codeInvalidDocumentID, err.Error())
		return "", false
	}
	return documentID, true
}

// decodeParentAssignment maps an absent parentId to no change and null or "" to the root group.
func decodeParentAssignment(raw json.RawMessage) (*documents.ParentAssignment, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	if bytes.Equal(bytes.TrimSpace(raw), jsonNull) {
		return &documents.ParentAssignment{}, nil
	}
	var value string
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, err
	}
	parentID, err := documents.NewParentID(&value)
	if err != nil {
		return nil, err
	}
	return &documents.ParentAssignment{ParentID: parentID}, nil
}

func (h *httpHandler) documentPayloads(c *gin.Context, items []documents.Document) []documentPayload {
	ownerIDs := make([]string, 0, len(items))
	for _, item := range items {
		ownerIDs = append(ownerIDs, item.OwnerID)
	}
	names := h.authorNames(c, ownerIDs)

	payloads := make([]documentPayload, 0, len(items))
	for _, item := range items {
		payloads = append(payloads, newDocumentPayload(item, names))
	}
	return payloads
}

func (h *httpHandler) documentPayloadWithAuthor(c *gin.Context, document documents.Document) documentPayload {
	return newDocumentPayload(document, h.authorNames(c, []string{document.OwnerID}))
}

// authorNames resolves display names best effort; a lookup failure only drops authorName.
func (h *httpHandler) authorNames(c *gin.Context, ownerIDs []string) map[string]string {
	if len(ownerIDs) == 0 {
		return nil
	}
	names, err := h.users.DisplayNames(c.Request.Context(), ownerIDs)
	if err != nil {
		h.logger.Warn("author name lookup failed", zap.Error(err))
		return nil
	}
	return names
}

func newDocumentPayload(document documents.Document, names map[string]string) documentPayload {
	return documentPayload{
		ID:           document.ID,
		Title:        document.Title,
		Content:      document.Content,
		Style:        document.Style,
		ParentID:     document.ParentID,
		OwnerID:      document.OwnerID,
		IsPublic:     document.IsPublic,
		Order:        document.SortOrder,
		ForkedFromID: document.ForkedFromID,
		ForkCount:    document.ForkCount,
		CreatedAt:    formatTimestamp(document.CreatedAt),
		UpdatedAt:    formatTimestamp(document.UpdatedAt),
		AuthorName:   names[document.OwnerID],
	}
}

func newTreeNodePayload(node *documents.TreeNode, names map[string]string) treeNodePayload {
	payload := treeNodePayload{
		documentPayload: newDocumentPayload(node.Document, names),
		Children:        make([]treeNodePayload, 0, len(node.Children)),
	}
	for _, child := range node.Children {
		payload.Children = append(payload.Children, newTreeNodePayload(child, names))
	}
	return payload
}

func formatTimestamp(value time.Time) string {
	return value.UTC().Format(time.RFC3339Nano)
}
