package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// Profile is the opponent display identity served by the profile service.
type Profile struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	AvatarURL string `json:"avatar_url"`
	EloRating int    `json:"elo_rating"`
}

// ProfileClient fetches player profiles. Responses are cached for the
// lifetime of a session load so the active-game view hits the service at
// most once per opponent; singleflight collapses concurrent misses.
type ProfileClient struct {
	base  *BaseClient
	cache *gocache.Cache
	group singleflight.Group
	log   zerolog.Logger
}

const profileCacheTTL = 10 * time.Minute

func NewProfileClient(baseURL string, logger zerolog.Logger) *ProfileClient {
	return &ProfileClient{
		base:  NewBaseClient(baseURL),
		cache: gocache.New(profileCacheTTL, 2*profileCacheTTL),
		log:   logger.With().Str("client", "profile").Logger(),
	}
}

// GetProfile returns the profile for userID, from cache when possible.
func (c *ProfileClient) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	if cached, ok := c.cache.Get(userID); ok {
		return cached.(*Profile), nil
	}

	result, err, _ := c.group.Do(userID, func() (any, error) {
		if cached, ok := c.cache.Get(userID); ok {
			return cached.(*Profile), nil
		}

		body, err := c.base.Get(ctx, "/"+url.PathEscape(userID))
		if err != nil {
			return nil, err
		}

		var profile Profile
		if err := json.Unmarshal(body, &profile); err != nil {
			return nil, fmt.Errorf("failed to decode profile: %w", err)
		}
		if profile.ID == "" {
			profile.ID = userID
		}

		c.cache.Set(userID, &profile, profileCacheTTL)
		c.log.Debug().Str("user_id", userID).Msg("profile cached")
		return &profile, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*Profile), nil
}

// InvalidateProfile drops a cached profile, forcing a refetch on next use.
func (c *ProfileClient) InvalidateProfile(userID string) {
	c.cache.Delete(userID)
}
