package users

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/folio/backend/internal/auth"
	"gorm.io/gorm"
)

const displayNameChunkSize = 500

// ErrInvalidIdentity indicates the claims did not contain a usable identifier.
var ErrInvalidIdentity = errors.New("users: invalid identity")

// ServiceConfig describes the dependencies required for user identity resolution.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
}

// Service manages canonical user identifiers and resolves author names.
type Service struct {
	db    *gorm.DB
	now   func() time.Time
	cache sync.Map
}

// NewService constructs the identity service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("users: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{
		db:  cfg.Database,
		now: clock,
	}, nil
}

// ResolveCanonicalUserID returns the canonical user id for the session claims,
// recording the identity on first sight and refreshing its profile afterwards.
func (s *Service) ResolveCanonicalUserID(ctx context.Context, claims auth.SessionClaims) (string, error) {
	provider, subject := deriveProviderSubject(claims)
	if subject == "" {
		return "", ErrInvalidIdentity
	}

	cacheKey := provider + ":" + subject
	if cached, ok := s.cache.Load(cacheKey); ok {
		if canonicalID, ok := cached.(string); ok {
			return canonicalID, nil
		}
	}

	db := s.db.WithContext(ctx)
	var identity Identity
	err := db.Where("provider = ? AND subject = ?", provider, subject).Take(&identity).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		identity = Identity{
			Provider:    provider,
			Subject:     subject,
			UserID:      subject,
			Email:       normalize(claims.UserEmail),
			DisplayName: normalize(claims.UserDisplayName),
			LastSeenAt:  s.now().UTC(),
		}
		if err := db.Create(&identity).Error; err != nil {
			return "", err
		}
	case err != nil:
		return "", err
	default:
		updates := map[string]any{"last_seen_at": s.now().UTC()}
		if email := normalize(claims.UserEmail); email != "" && email != identity.Email {
			updates["user_email"] = email
		}
		if display := normalize(claims.UserDisplayName); display != "" && display != identity.DisplayName {
			updates["user_display_name"] = display
		}
		err := db.Model(&Identity{}).
			Where("provider = ? AND subject = ?", provider, subject).
			Updates(updates).
			Error
		if err != nil {
			return "", err
		}
	}

	s.cache.Store(cacheKey, identity.UserID)
	return identity.UserID, nil
}

// DisplayNames maps each known user id onto its author name. Unknown ids and
// identities without a name or email are omitted.
func (s *Service) DisplayNames(ctx context.Context, userIDs []string) (map[string]string, error) {
	ids := slices.Clone(userIDs)
	slices.Sort(ids)
	ids = slices.Compact(ids)

	names := make(map[string]string, len(ids))
	for chunk := range slices.Chunk(ids, displayNameChunkSize) {
		var identities []Identity
		err := s.db.WithContext(ctx).
			Where("user_id IN ?", chunk).
			Order("updated_at DESC").
			Find(&identities).
			Error
		if err != nil {
			return nil, err
		}
		for _, identity := range identities {
			if _, seen := names[identity.UserID]; seen {
				continue
			}
			if name := identity.AuthorName(); name != "" {
				names[identity.UserID] = name
			}
		}
	}
	return names, nil
}

func deriveProviderSubject(claims auth.SessionClaims) (string, string) {
	provider := defaultProvider
	subject := normalize(claims.Subject)

	if raw := normalize(claims.UserID); raw != "" {
		prefix, rest, found := strings.Cut(raw, ":")
		switch {
		case found && normalize(prefix) != "" && normalize(rest) != "":
			provider = normalize(prefix)
			subject = normalize(rest)
		case !found && subject == "":
			subject = raw
		}
	}

	if subject == "" {
		subject = normalize(claims.UserEmail)
	}
	return provider, subject
}
