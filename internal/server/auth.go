package server

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"github.com/opennotes/opennotes/internal/core/domain"
	apperrors "github.com/opennotes/opennotes/internal/core/errors"
)

// gatewayClaims is the identity token minted by the platform gateway.
type gatewayClaims struct {
	Username       string   `json:"username"`
	Email          string   `json:"email"`
	ServiceAccount bool     `json:"service_account"`
	PlatformAdmin  bool     `json:"platform_admin"`
	ManageServers  []string `json:"manage_servers"`
	jwt.RegisteredClaims
}

// Identity is the resolved caller for one request.
type Identity struct {
	Profile *domain.UserProfile

	serviceAccount bool
	platformAdmin  bool
	manageServers  map[string]bool
}

// IsServiceAccount reports tier-1 access.
func (id *Identity) IsServiceAccount() bool { return id.serviceAccount }

// IsPlatformAdmin reports tier-2 access.
func (id *Identity) IsPlatformAdmin() bool { return id.platformAdmin }

// ProfileStore resolves gateway identities to user profiles.
type ProfileStore interface {
	GetProfileByUsername(ctx context.Context, username string) (*domain.UserProfile, error)
	EnsureProfile(ctx context.Context, username, email string) (*domain.UserProfile, error)
	GetMembership(ctx context.Context, communityID, profileID string) (*domain.CommunityMember, error)
}

// AuthConfig holds the gateway token secret and the service-account
// recognition rules.
type AuthConfig struct {
	SigningSecret string
	EmailDomains  []string
	NamePatterns  []string
}

// Authenticator verifies gateway tokens and evaluates the four access
// tiers: service account, platform admin, gateway manage-server
// permission, community membership role.
type Authenticator struct {
	store        ProfileStore
	secret       []byte
	emailDomains []string
	namePatterns []*regexp.Regexp
	logger       *zerolog.Logger
}

// NewAuthenticator compiles the recognition rules.
func NewAuthenticator(store ProfileStore, cfg AuthConfig, logger *zerolog.Logger) (*Authenticator, error) {
	patterns := make([]*regexp.Regexp, 0, len(cfg.NamePatterns))

	for _, raw := range cfg.NamePatterns {
		re, err := regexp.Compile(raw)
		if err != nil {
			return nil, fmt.Errorf("compile service account pattern %q: %w", raw, err)
		}

		patterns = append(patterns, re)
	}

	return &Authenticator{
		store:        store,
		secret:       []byte(cfg.SigningSecret),
		emailDomains: cfg.EmailDomains,
		namePatterns: patterns,
		logger:       logger,
	}, nil
}

// Identify parses the bearer token and resolves the caller's profile.
func (a *Authenticator) Identify(r *http.Request) (*Identity, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return nil, fmt.Errorf("missing bearer token: %w", apperrors.ErrUnauthorized)
	}

	raw := strings.TrimPrefix(header, "Bearer ")
	if raw == header {
		return nil, fmt.Errorf("malformed authorization header: %w", apperrors.ErrUnauthorized)
	}

	claims := &gatewayClaims{}

	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return nil, fmt.Errorf("verify token: %w: %w", apperrors.ErrUnauthorized, err)
	}

	if claims.Username == "" {
		return nil, fmt.Errorf("token has no username: %w", apperrors.ErrUnauthorized)
	}

	// Read-first: most requests are from known users and skip the upsert.
	profile, err := a.store.GetProfileByUsername(r.Context(), claims.Username)
	if apperrors.Is(err, apperrors.ErrNotFound) {
		profile, err = a.store.EnsureProfile(r.Context(), claims.Username, claims.Email)
	}

	if err != nil {
		return nil, fmt.Errorf("resolve profile: %w", err)
	}

	manage := make(map[string]bool, len(claims.ManageServers))
	for _, id := range claims.ManageServers {
		manage[id] = true
	}

	return &Identity{
		Profile:        profile,
		serviceAccount: a.isServiceAccount(claims, profile),
		platformAdmin:  claims.PlatformAdmin || profile.IsPlatformAdmin,
		manageServers:  manage,
	}, nil
}

// isServiceAccount recognizes tier 1 by claim flag, profile flag, email
// domain, or username pattern.
func (a *Authenticator) isServiceAccount(claims *gatewayClaims, profile *domain.UserProfile) bool {
	if claims.ServiceAccount || profile.IsServiceAccount {
		return true
	}

	if at := strings.LastIndex(profile.Email, "@"); at >= 0 {
		emailDomain := profile.Email[at+1:]

		for _, d := range a.emailDomains {
			if strings.EqualFold(emailDomain, d) {
				return true
			}
		}
	}

	for _, re := range a.namePatterns {
		if re.MatchString(profile.Username) {
			return true
		}
	}

	return false
}

// CanManage reports whether the caller may mutate the community's
// configuration. Tiers are evaluated in order; tier 3 and 4 grants do not
// imply member access.
func (a *Authenticator) CanManage(ctx context.Context, id *Identity, community *domain.CommunityServer) (bool, error) {
	if id.serviceAccount || id.platformAdmin {
		return true, nil
	}

	if id.manageServers[community.PlatformServerID] {
		return true, nil
	}

	member, err := a.membership(ctx, community.ID, id.Profile.ID)
	if err != nil {
		return false, err
	}

	if member == nil {
		return false, nil
	}

	return member.Role == domain.RoleAdmin || member.Role == domain.RoleModerator, nil
}

// IsMember reports whether the caller has member access to the community.
// Only tiers 1 and 2 bypass the membership requirement; banned members
// always fail regardless of IsActive.
func (a *Authenticator) IsMember(ctx context.Context, id *Identity, communityID string) (bool, error) {
	if id.serviceAccount || id.platformAdmin {
		return true, nil
	}

	member, err := a.membership(ctx, communityID, id.Profile.ID)
	if err != nil {
		return false, err
	}

	return member != nil, nil
}

// membership loads an active, non-banned membership; nil when the caller
// has none.
func (a *Authenticator) membership(ctx context.Context, communityID, profileID string) (*domain.CommunityMember, error) {
	member, err := a.store.GetMembership(ctx, communityID, profileID)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrNotFound) {
			return nil, nil
		}

		return nil, fmt.Errorf("load membership: %w", err)
	}

	if member.BannedAt != nil || !member.IsActive {
		return nil, nil
	}

	return member, nil
}
