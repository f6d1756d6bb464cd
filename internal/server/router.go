package server

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"time"

	"github.com/MarcoPoloResearchLab/folio/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/folio/backend/internal/documents"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	userIDContextKey         = "folio_user_id"
	defaultHeartbeatInterval = 25 * time.Second
	notificationTimeout      = 5 * time.Second
)

var (
	errMissingSessionValidator = errors.New("session validator dependency required")
	errMissingUserDirectory    = errors.New("user directory dependency required")
	errMissingDocumentsService = errors.New("documents service dependency required")
)

// SessionValidator authenticates requests from their session cookie.
type SessionValidator interface {
	ValidateRequest(r *http.Request) (auth.SessionClaims, error)
}

// UserDirectory resolves canonical user ids and author names.
type UserDirectory interface {
	ResolveCanonicalUserID(ctx context.Context, claims auth.SessionClaims) (string, error)
	DisplayNames(ctx context.Context, userIDs []string) (map[string]string, error)
}

// Dependencies are the collaborators of the HTTP handler. Realtime defaults to
// an in-process dispatcher.
type Dependencies struct {
	SessionValidator  SessionValidator
	Users             UserDirectory
	DocumentsService  *documents.Service
	Realtime          ChangeBroker
	Logger            *zap.Logger
	AllowedOrigins    []string
	HeartbeatInterval time.Duration
}

// NewHTTPHandler wires the document API onto a gin engine.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.SessionValidator == nil {
		return nil, errMissingSessionValidator
	}
	if deps.Users == nil {
		return nil, errMissingUserDirectory
	}
	if deps.DocumentsService == nil {
		return nil, errMissingDocumentsService
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	realtime := deps.Realtime
	if realtime == nil {
		realtime = NewRealtimeDispatcher()
	}
	heartbeat := deps.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(deps.AllowedOrigins))

	handler := &httpHandler{
		sessions:          deps.SessionValidator,
		users:             deps.Users,
		documentsService:  deps.DocumentsService,
		realtime:          realtime,
		logger:            logger,
		heartbeatInterval: heartbeat,
	}

	router.GET("/healthz", handler.handleHealth)
	router.GET("/documents/public", handler.handleListPublicDocuments)

	protected := router.Group("/documents")
	protected.Use(handler.authorizeRequest)
	protected.GET("", handler.handleListDocuments)
	protected.GET("/tree", handler.handleDocumentTree)
	protected.GET("/stream", handler.handleDocumentStream)
	protected.GET("/:id", handler.handleGetDocument)
	protected.POST("", handler.handleCreateDocument)
	protected.POST("/fork", handler.handleForkDocument)
	protected.PUT("/:id", handler.handleUpdateDocument)
	protected.PUT("/:id/reorder", handler.handleReorderDocument)
	protected.DELETE("/:id", handler.handleDeleteDocument)

	return router, nil
}

type httpHandler struct {
	sessions          SessionValidator
	users             UserDirectory
	documentsService  *documents.Service
	realtime          ChangeBroker
	logger            *zap.Logger
	heartbeatInterval time.Duration
}

func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	origins := slices.Clone(allowedOrigins)
	return cors.New(cors.Config{
		AllowOriginFunc: func(origin string) bool {
			return len(origins) == 0 || slices.Contains(origins, origin)
		},
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Cache-Control", "X-Requested-With"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	claims, err := h.sessions.ValidateRequest(c.Request)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredSessionToken) || errors.Is(err, auth.ErrMissingSessionToken) {
			h.logger.Info("session validation failed", zap.Error(err))
		} else {
			h.logger.Warn("session validation failed", zap.Error(err))
		}
		abortUnauthorized(c, "auth.invalid_session")
		return
	}

	userID, err := h.users.ResolveCanonicalUserID(c.Request.Context(), claims)
	if err != nil {
		h.logger.Warn("user identity resolution failed", zap.String("subject", claims.Subject), zap.Error(err))
		abortUnauthorized(c, "auth.unknown_identity")
		return
	}
	c.Set(userIDContextKey, userID)
	c.Next()
}

func abortUnauthorized(c *gin.Context, code string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse{
		Error:   "unauthorized",
		Code:    code,
		Message: "a valid session is required",
	})
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// currentUser returns the caller resolved by authorizeRequest.
func (h *httpHandler) currentUser(c *gin.Context) (documents.UserID, bool) {
	userID, err := documents.NewUserID(c.GetString(userIDContextKey))
	if err != nil {
		abortUnauthorized(c, "auth.missing_user")
		return "", false
	}
	return userID, true
}

// notify publishes a documents-changed event to every distinct recipient.
// Failures are logged; the mutation has already committed.
func (h *httpHandler) notify(recipients []string, documentIDs []string) {
	ctx, cancel := context.WithTimeout(context.Background(), notificationTimeout)
	defer cancel()

	unique := slices.Clone(recipients)
	slices.Sort(unique)
	unique = slices.Compact(unique)
	now := time.Now().UTC()
	for _, userID := range unique {
		if userID == "" {
			continue
		}
		err := h.realtime.Publish(ctx, RealtimeMessage{
			UserID:      userID,
			EventType:   RealtimeEventDocumentsChanged,
			DocumentIDs: documentIDs,
			Timestamp:   now,
		})
		if err != nil {
			h.logger.Warn("realtime publish failed", zap.String("user_id", userID), zap.Error(err))
		}
	}
}
