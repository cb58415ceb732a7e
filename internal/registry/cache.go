package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/shohag/pushbridge/internal/models"
)

var (
	// ErrNoRecipient means the backing store knows no tokens for the
	// recipient. Terminal for the event, but nothing is cached, so a later
	// submit retries the fetch.
	ErrNoRecipient = errors.New("registry: recipient has no tokens")

	// ErrStoreUnavailable is a transient backing-store failure; the caller
	// should retry through the scheduler rather than drop the request.
	ErrStoreUnavailable = errors.New("registry: backing store unavailable")
)

// Store fetches the authoritative token set for a recipient.
type Store interface {
	FetchTokens(ctx context.Context, recipientID string) ([]models.Token, error)
}

type entry struct {
	tokens    []models.Token
	fetchedAt time.Time
}

// Cache maps recipients to their delivery tokens with TTL freshness and
// lazy refresh. Concurrent misses for one recipient coalesce into a single
// backing-store fetch.
type Cache struct {
	store Store
	ttl   time.Duration
	log   zerolog.Logger
	now   func() time.Time

	group singleflight.Group

	mu      sync.RWMutex
	entries map[string]entry
}

func NewCache(store Store, ttl time.Duration, log zerolog.Logger) *Cache {
	return &Cache{
		store:   store,
		ttl:     ttl,
		log:     log,
		now:     time.Now,
		entries: make(map[string]entry),
	}
}

// Resolve returns the recipient's current tokens, fetching from the backing
// store on a miss or expired entry.
func (c *Cache) Resolve(ctx context.Context, recipientID string) ([]models.Token, error) {
	if tokens, ok := c.cached(recipientID); ok {
		return tokens, nil
	}

	v, err, _ := c.group.Do(recipientID, func() (interface{}, error) {
		// Re-check under singleflight: a call queued behind the winner
		// finds the entry it just populated.
		if tokens, ok := c.cached(recipientID); ok {
			return tokens, nil
		}
		return c.fetch(ctx, recipientID)
	})
	if err != nil {
		return nil, err
	}
	return v.([]models.Token), nil
}

func (c *Cache) fetch(ctx context.Context, recipientID string) ([]models.Token, error) {
	tokens, err := c.store.FetchTokens(ctx, recipientID)
	if err != nil {
		if errors.Is(err, ErrNoRecipient) {
			return nil, ErrNoRecipient
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if len(tokens) == 0 {
		// An empty set is a miss, never a cached entry.
		return nil, ErrNoRecipient
	}

	c.mu.Lock()
	c.entries[recipientID] = entry{tokens: copyTokens(tokens), fetchedAt: c.now()}
	c.mu.Unlock()

	c.log.Debug().Str("recipient_id", recipientID).Int("tokens", len(tokens)).Msg("registry entry refreshed")
	return copyTokens(tokens), nil
}

func (c *Cache) cached(recipientID string) ([]models.Token, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[recipientID]
	if !ok || c.now().Sub(e.fetchedAt) > c.ttl {
		return nil, false
	}
	return copyTokens(e.tokens), true
}

// Invalidate removes one token from the cached entry after the gateway
// reports it permanently rejected. Removing the last token evicts the
// entry so the next resolve refetches.
func (c *Cache) Invalidate(recipientID string, token models.Token) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[recipientID]
	if !ok {
		return
	}

	kept := e.tokens[:0]
	for _, t := range e.tokens {
		if t != token {
			kept = append(kept, t)
		}
	}
	if len(kept) == 0 {
		delete(c.entries, recipientID)
		return
	}
	e.tokens = kept
	c.entries[recipientID] = e
}

func copyTokens(tokens []models.Token) []models.Token {
	out := make([]models.Token, len(tokens))
	copy(out, tokens)
	return out
}
