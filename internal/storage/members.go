package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/opennotes/opennotes/internal/core/domain"
	apperrors "github.com/opennotes/opennotes/internal/core/errors"
)

// GetProfileByUsername fetches a user profile by its stable username.
func (db *DB) GetProfileByUsername(ctx context.Context, username string) (*domain.UserProfile, error) {
	var (
		p     domain.UserProfile
		email pgtype.Text
	)

	err := db.Pool.QueryRow(ctx, `
		SELECT id, username, email, is_service_account, is_platform_admin, created_at
		FROM user_profiles
		WHERE username = $1
	`, username).Scan(&p.ID, &p.Username, &email, &p.IsServiceAccount, &p.IsPlatformAdmin, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}

		return nil, fmt.Errorf("get profile by username: %w", err)
	}

	p.Email = fromText(email)

	return &p, nil
}

// GetProfile fetches a user profile by id.
func (db *DB) GetProfile(ctx context.Context, id string) (*domain.UserProfile, error) {
	var (
		p     domain.UserProfile
		email pgtype.Text
	)

	err := db.Pool.QueryRow(ctx, `
		SELECT id, username, email, is_service_account, is_platform_admin, created_at
		FROM user_profiles
		WHERE id = $1
	`, toUUID(id)).Scan(&p.ID, &p.Username, &email, &p.IsServiceAccount, &p.IsPlatformAdmin, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}

		return nil, fmt.Errorf("get profile: %w", err)
	}

	p.Email = fromText(email)

	return &p, nil
}

// EnsureProfile creates a profile for the username if missing and returns
// it. Used when the gateway presents an identity this service has not
// stored yet.
func (db *DB) EnsureProfile(ctx context.Context, username, email string) (*domain.UserProfile, error) {
	var (
		p        domain.UserProfile
		emailOut pgtype.Text
	)

	err := db.Pool.QueryRow(ctx, `
		INSERT INTO user_profiles (username, email)
		VALUES ($1, $2)
		ON CONFLICT (username) DO UPDATE SET email = COALESCE(EXCLUDED.email, user_profiles.email)
		RETURNING id, username, email, is_service_account, is_platform_admin, created_at
	`, username, toText(email)).Scan(&p.ID, &p.Username, &emailOut, &p.IsServiceAccount, &p.IsPlatformAdmin, &p.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("ensure profile: %w", err)
	}

	p.Email = fromText(emailOut)

	return &p, nil
}

// GetCommunityByPlatformID resolves a community by the chat platform's
// server id.
func (db *DB) GetCommunityByPlatformID(ctx context.Context, platformServerID string) (*domain.CommunityServer, error) {
	var c domain.CommunityServer

	err := db.Pool.QueryRow(ctx, `
		SELECT id, platform_server_id, name, created_at
		FROM community_servers
		WHERE platform_server_id = $1
	`, platformServerID).Scan(&c.ID, &c.PlatformServerID, &c.Name, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrCommunityNotFound
		}

		return nil, fmt.Errorf("get community by platform id: %w", err)
	}

	return &c, nil
}

// GetCommunity fetches a community by id.
func (db *DB) GetCommunity(ctx context.Context, id string) (*domain.CommunityServer, error) {
	var c domain.CommunityServer

	err := db.Pool.QueryRow(ctx, `
		SELECT id, platform_server_id, name, created_at
		FROM community_servers
		WHERE id = $1
	`, toUUID(id)).Scan(&c.ID, &c.PlatformServerID, &c.Name, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrCommunityNotFound
		}

		return nil, fmt.Errorf("get community: %w", err)
	}

	return &c, nil
}

// GetMembership returns the member row tying a profile to a community.
func (db *DB) GetMembership(ctx context.Context, communityID, profileID string) (*domain.CommunityMember, error) {
	var (
		m        domain.CommunityMember
		bannedAt pgtype.Timestamptz
	)

	err := db.Pool.QueryRow(ctx, `
		SELECT id, community_id, profile_id, role, is_active, banned_at, created_at
		FROM community_members
		WHERE community_id = $1 AND profile_id = $2
	`, toUUID(communityID), toUUID(profileID)).Scan(
		&m.ID, &m.CommunityID, &m.ProfileID, &m.Role, &m.IsActive, &bannedAt, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}

		return nil, fmt.Errorf("get membership: %w", err)
	}

	m.BannedAt = fromTimestamptzPtr(bannedAt)

	return &m, nil
}
