// Package platform holds clients for the HR platform's internal APIs: the
// room membership store and the message store. Both are external
// collaborators; this layer only fetches and caches.
package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"staffroom/internal/cache"
	"staffroom/internal/models"
)

type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient talks to the platform API at baseURL. An empty baseURL yields a
// client that answers with empty results, which keeps a standalone instance
// runnable.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 5 * time.Second},
	}
}

// FetchMembers loads the active membership rows for a room.
func (c *Client) FetchMembers(ctx context.Context, roomID string) ([]models.Member, error) {
	if c.baseURL == "" {
		return []models.Member{}, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/internal/rooms/%s/members", c.baseURL, roomID), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("member lookup for room %s returned %d", roomID, resp.StatusCode)
	}

	var members []models.Member
	if err := json.NewDecoder(resp.Body).Decode(&members); err != nil {
		return nil, err
	}
	return members, nil
}

// Load resolves a full message event from the message store.
func (c *Client) Load(ctx context.Context, messageID string) (*models.MessageEvent, error) {
	if c.baseURL == "" {
		return nil, models.ErrNotFound
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/internal/messages/%s", c.baseURL, messageID), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return nil, models.ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("message lookup %s returned %d", messageID, resp.StatusCode)
	}

	var ev models.MessageEvent
	if err := json.NewDecoder(resp.Body).Decode(&ev); err != nil {
		return nil, err
	}
	return &ev, nil
}

const memberCachePrefix = "room:members:"

// CachedDirectory serves membership lookups cache-aside: the shared cache
// first, the platform API on a miss. Membership writes happen in the
// platform, which invalidates through InvalidateRoom.
type CachedDirectory struct {
	client *Client
	cache  *cache.Cache
	ttl    time.Duration
}

func NewCachedDirectory(client *Client, c *cache.Cache, ttl time.Duration) *CachedDirectory {
	return &CachedDirectory{client: client, cache: c, ttl: ttl}
}

func (d *CachedDirectory) ListMembers(ctx context.Context, roomID string) ([]models.Member, error) {
	var members []models.Member
	err := d.cache.GetOrSet(ctx, memberCachePrefix+roomID, &members, d.ttl, func(ctx context.Context) (any, error) {
		return d.client.FetchMembers(ctx, roomID)
	})
	if err != nil {
		return nil, err
	}
	return members, nil
}

func (d *CachedDirectory) InvalidateRoom(ctx context.Context, roomID string) {
	d.cache.Delete(ctx, memberCachePrefix+roomID)
}

func (d *CachedDirectory) InvalidateAll(ctx context.Context) {
	d.cache.DeletePattern(ctx, memberCachePrefix+"*")
}
