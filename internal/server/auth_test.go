package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opennotes/opennotes/internal/core/domain"
)

func newTestAuthenticator(t *testing.T, repo *fakeRepo) *Authenticator {
	t.Helper()

	logger := zerolog.Nop()

	auth, err := NewAuthenticator(repo, AuthConfig{
		SigningSecret: testSecret,
		EmailDomains:  []string{"svc.opennotes.dev"},
		NamePatterns:  []string{"^svc[-_]"},
	}, &logger)
	require.NoError(t, err)

	return auth
}

func authRequest(token string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	return req
}

func TestIdentify_TokenValidation(t *testing.T) {
	auth := newTestAuthenticator(t, newFakeRepo())

	tests := []struct {
		name  string
		token string
	}{
		{name: "missing header", token: ""},
		{name: "garbage token", token: "not-a-jwt"},
		{name: "wrong secret", token: func() string {
			s, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, gatewayClaims{Username: "alice"}).SignedString([]byte("other"))
			return s
		}()},
		{name: "expired", token: func() string {
			claims := gatewayClaims{Username: "alice"}
			claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))
			s, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
			return s
		}()},
		{name: "unsigned algorithm", token: func() string {
			s, _ := jwt.NewWithClaims(jwt.SigningMethodNone, gatewayClaims{Username: "alice"}).SignedString(jwt.UnsafeAllowNoneSignatureType)
			return s
		}()},
		{name: "no username claim", token: func() string {
			s, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, gatewayClaims{}).SignedString([]byte(testSecret))
			return s
		}()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := auth.Identify(authRequest(tt.token))
			require.Error(t, err)
		})
	}
}

func TestIdentify_ServiceAccountRecognition(t *testing.T) {
	repo := newFakeRepo()
	auth := newTestAuthenticator(t, repo)

	tests := []struct {
		name    string
		claims  gatewayClaims
		service bool
	}{
		{name: "plain user", claims: gatewayClaims{Username: "alice", Email: "alice@example.org"}},
		{name: "claim flag", claims: gatewayClaims{Username: "alice2", ServiceAccount: true}, service: true},
		{name: "recognized email domain", claims: gatewayClaims{Username: "ingest", Email: "ingest@svc.opennotes.dev"}, service: true},
		{name: "recognized username pattern", claims: gatewayClaims{Username: "svc-gateway"}, service: true},
		{name: "pattern anchored at start", claims: gatewayClaims{Username: "notsvc-gateway"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := auth.Identify(authRequest(signToken(t, tt.claims)))
			require.NoError(t, err)
			assert.Equal(t, tt.service, id.IsServiceAccount())
		})
	}
}

func TestIdentify_ReusesExistingProfile(t *testing.T) {
	repo := newFakeRepo()
	auth := newTestAuthenticator(t, repo)

	first, err := auth.Identify(authRequest(signToken(t, gatewayClaims{Username: "alice", Email: "alice@example.org"})))
	require.NoError(t, err)

	// Second call resolves the same profile without creating a new one.
	second, err := auth.Identify(authRequest(signToken(t, gatewayClaims{Username: "alice"})))
	require.NoError(t, err)
	assert.Equal(t, first.Profile.ID, second.Profile.ID)
	assert.Len(t, repo.profiles, 1)
}

func TestTierSeparation_ManageDoesNotImplyMember(t *testing.T) {
	repo := newFakeRepo()
	auth := newTestAuthenticator(t, repo)
	ctx := context.Background()

	community := &domain.CommunityServer{ID: "community-x", PlatformServerID: "guild-x"}
	repo.communities[community.ID] = community

	token := signToken(t, gatewayClaims{Username: "gateway-admin", ManageServers: []string{"guild-x"}})
	id, err := auth.Identify(authRequest(token))
	require.NoError(t, err)

	canManage, err := auth.CanManage(ctx, id, community)
	require.NoError(t, err)
	assert.True(t, canManage)

	isMember, err := auth.IsMember(ctx, id, community.ID)
	require.NoError(t, err)
	assert.False(t, isMember, "manage-server grant must not imply member access")
}

func TestTierSeparation_PlatformAdminImpliesBoth(t *testing.T) {
	repo := newFakeRepo()
	auth := newTestAuthenticator(t, repo)
	ctx := context.Background()

	community := &domain.CommunityServer{ID: "community-x", PlatformServerID: "guild-x"}
	repo.communities[community.ID] = community

	id, err := auth.Identify(authRequest(signToken(t, gatewayClaims{Username: "root", PlatformAdmin: true})))
	require.NoError(t, err)
	assert.True(t, id.IsPlatformAdmin())

	canManage, err := auth.CanManage(ctx, id, community)
	require.NoError(t, err)
	assert.True(t, canManage)

	isMember, err := auth.IsMember(ctx, id, community.ID)
	require.NoError(t, err)
	assert.True(t, isMember)
}

func TestMembershipTier(t *testing.T) {
	repo := newFakeRepo()
	auth := newTestAuthenticator(t, repo)
	ctx := context.Background()

	community := &domain.CommunityServer{ID: "community-x", PlatformServerID: "guild-x"}
	repo.communities[community.ID] = community

	now := time.Now()

	seed := func(t *testing.T, username, role string, active bool, banned bool) *Identity {
		t.Helper()

		profile, err := repo.EnsureProfile(ctx, username, username+"@example.org")
		require.NoError(t, err)

		member := &domain.CommunityMember{
			CommunityID: community.ID,
			ProfileID:   profile.ID,
			Role:        role,
			IsActive:    active,
		}
		if banned {
			member.BannedAt = &now
		}

		repo.memberships[community.ID+"|"+profile.ID] = member

		id, err := auth.Identify(authRequest(signToken(t, gatewayClaims{Username: username})))
		require.NoError(t, err)

		return id
	}

	tests := []struct {
		name      string
		id        *Identity
		canManage bool
		isMember  bool
	}{
		{name: "moderator", id: seed(t, "mod", domain.RoleModerator, true, false), canManage: true, isMember: true},
		{name: "community admin", id: seed(t, "boss", domain.RoleAdmin, true, false), canManage: true, isMember: true},
		{name: "plain member", id: seed(t, "alice", domain.RoleMember, true, false), isMember: true},
		{name: "inactive member", id: seed(t, "gone", domain.RoleMember, false, false)},
		{name: "banned admin", id: seed(t, "exiled", domain.RoleAdmin, true, true)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			canManage, err := auth.CanManage(ctx, tt.id, community)
			require.NoError(t, err)
			assert.Equal(t, tt.canManage, canManage)

			isMember, err := auth.IsMember(ctx, tt.id, community.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.isMember, isMember)
		})
	}
}
