package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/datastore"

	"github.com/wartamigas/news-monitor-backend/types"
)

// LookupDecodedURLs returns the stored resolutions for the given opaque
// identifiers. Missing identifiers are simply absent from the result.
func (s *Store) LookupDecodedURLs(ctx context.Context, ids []string) (resolved map[string]string, err error) {
	start := time.Now()
	defer func() { s.recordOp("lookup_decoded_urls", start, err) }()

	resolved = make(map[string]string, len(ids))
	if len(ids) == 0 {
		return resolved, nil
	}

	keys := make([]*datastore.Key, len(ids))
	for i, id := range ids {
		keys[i] = DecodedURLKey(id)
	}

	entries := make([]*types.DecodedURLEntry, len(keys))
	if getErr := s.client.GetMulti(ctx, keys, entries); getErr != nil {
		var multi datastore.MultiError
		if !errors.As(getErr, &multi) {
			return nil, fmt.Errorf("failed to look up decoded URLs: %w", getErr)
		}
		for i, elemErr := range multi {
			switch {
			case elemErr == nil:
				resolved[ids[i]] = entries[i].URL
			case errors.Is(elemErr, datastore.ErrNoSuchEntity):
				// Not yet decoded
			default:
				return nil, fmt.Errorf("failed to look up decoded URLs: %w", elemErr)
			}
		}
		return resolved, nil
	}

	for i, entry := range entries {
		resolved[ids[i]] = entry.URL
	}
	return resolved, nil
}

// SaveDecodedURL stores a resolution. Writes are idempotent upserts; the
// mapping from identifier to URL never changes once resolved.
func (s *Store) SaveDecodedURL(ctx context.Context, id, decodedURL string) (err error) {
	start := time.Now()
	defer func() { s.recordOp("save_decoded_url", start, err) }()

	entry := &types.DecodedURLEntry{
		URL:       decodedURL,
		CreatedAt: time.Now().UTC(),
	}
	if _, err = s.client.Put(ctx, DecodedURLKey(id), entry); err != nil {
		return fmt.Errorf("failed to save decoded URL: %w", err)
	}
	return nil
}
