// Package users resolves authenticated sessions into territory actors.
package users

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/territory/internal/auth"
	"github.com/MarcoPoloResearchLab/territory/internal/territory"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrInvalidIdentity indicates the claims did not contain a usable identifier.
var ErrInvalidIdentity = errors.New("users: invalid identity")

const defaultProvider = "default"

// ServiceConfig describes the dependencies required for actor resolution.
// RestrictedRoles lists the session roles whose holders are confined to their geozones.
type ServiceConfig struct {
	Database        *gorm.DB
	Clock           func() time.Time
	RestrictedRoles []string
	Logger          *zap.Logger
}

// Service manages canonical user identifiers and provider-specific identities.
type Service struct {
	db              *gorm.DB
	now             func() time.Time
	restrictedRoles []string
	logger          *zap.Logger
	cache           sync.Map
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
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	roles := make([]string, 0, len(cfg.RestrictedRoles))
	for _, role := range cfg.RestrictedRoles {
		if trimmed := normalize(role); trimmed != "" {
			roles = append(roles, trimmed)
		}
	}
	return &Service{
		db:              cfg.Database,
		now:             clock,
		restrictedRoles: roles,
		logger:          logger,
	}, nil
}

// ResolveActor turns validated session claims into the actor the arbitrator acts on behalf of.
func (s *Service) ResolveActor(claims auth.SessionClaims) (territory.Actor, error) {
	canonical, err := s.ResolveCanonicalUserID(claims)
	if err != nil {
		return territory.Actor{}, err
	}
	userID, err := territory.NewUserID(canonical)
	if err != nil {
		return territory.Actor{}, fmt.Errorf("%w: %v", ErrInvalidIdentity, err)
	}
	return territory.Actor{
		UserID:             userID,
		GeofenceRestricted: s.IsRestricted(claims),
	}, nil
}

// IsRestricted reports whether any session role is configured as geofence restricted.
func (s *Service) IsRestricted(claims auth.SessionClaims) bool {
	if len(s.restrictedRoles) == 0 {
		return false
	}
	return claims.HasAnyRole(s.restrictedRoles)
}

// ResolveCanonicalUserID returns the canonical user id for the provided session claims.
// The provider prefix of a "provider:subject" user id is stripped, and a new identity row
// is recorded the first time a provider+subject pair is seen.
func (s *Service) ResolveCanonicalUserID(claims auth.SessionClaims) (string, error) {
	provider, subject := deriveProviderSubject(claims)
	if subject == "" {
		return "", ErrInvalidIdentity
	}

	cacheKey := provider + ":" + subject
	if cached, ok := s.cache.Load(cacheKey); ok {
		if canonical, ok := cached.(string); ok {
			return canonical, nil
		}
	}

	var identity Identity
	err := s.db.
		Where("provider = ? AND subject = ?", provider, subject).
		First(&identity).
		Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		identity = Identity{
			Provider:    provider,
			Subject:     subject,
			UserID:      subject,
			Email:       normalize(claims.UserEmail),
			DisplayName: normalize(claims.UserDisplayName),
			Roles:       joinRoles(claims.UserRoles),
			LastSeenAt:  s.now().UTC(),
		}
		if err := s.db.Create(&identity).Error; err != nil {
			s.logger.Error("identity create failed", zap.String("provider", provider), zap.Error(err))
			return "", err
		}
	case err != nil:
		s.logger.Error("identity lookup failed", zap.String("provider", provider), zap.Error(err))
		return "", err
	default:
		updates := map[string]interface{}{"last_seen_at": s.now().UTC()}
		if email := normalize(claims.UserEmail); email != "" && email != identity.Email {
			updates["user_email"] = email
		}
		if display := normalize(claims.UserDisplayName); display != "" && display != identity.DisplayName {
			updates["user_display_name"] = display
		}
		if roles := joinRoles(claims.UserRoles); roles != identity.Roles {
			updates["user_roles"] = roles
		}
		if err := s.db.Model(&Identity{}).
			Where("provider = ? AND subject = ?", provider, subject).
			Updates(updates).
			Error; err != nil {
			s.logger.Warn("identity refresh failed", zap.String("user_id", identity.UserID), zap.Error(err))
		}
	}

	s.cache.Store(cacheKey, identity.UserID)
	return identity.UserID, nil
}

func deriveProviderSubject(claims auth.SessionClaims) (string, string) {
	provider := defaultProvider
	subject := normalize(claims.Subject)

	raw := normalize(claims.UserID)
	if raw != "" {
		if segments := strings.SplitN(raw, ":", 2); len(segments) == 2 {
			if normalize(segments[0]) != "" && normalize(segments[1]) != "" {
				provider = normalize(segments[0])
				subject = normalize(segments[1])
			}
		} else {
			subject = raw
		}
	}

	if subject == "" {
		subject = normalize(claims.UserEmail)
	}

	return provider, subject
}
