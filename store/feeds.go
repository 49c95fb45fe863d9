package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/datastore"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/wartamigas/news-monitor-backend/types"
)

// ListFeeds returns the user's feeds ordered by creation time
func (s *Store) ListFeeds(ctx context.Context, userID string, enabledOnly bool) (feeds []*types.Feed, err error) {
	start := time.Now()
	defer func() { s.recordOp("list_feeds", start, err) }()

	q := datastore.NewQuery(KindFeed).Ancestor(UserKey(userID))
	if enabledOnly {
		q = q.FilterField("enabled", "=", true)
	}
	q = q.Order("created_at")

	keys, err := s.client.GetAll(ctx, q, &feeds)
	if err != nil {
		return nil, fmt.Errorf("failed to list feeds: %w", err)
	}
	for i, key := range keys {
		feeds[i].ID = key.Name
	}
	return feeds, nil
}

// GetFeed loads a single feed
func (s *Store) GetFeed(ctx context.Context, userID, feedID string) (*types.Feed, error) {
	var feed types.Feed
	if err := s.client.Get(ctx, FeedKeyByID(userID, feedID), &feed); err != nil {
		return nil, translateErr(err)
	}
	feed.ID = feedID
	return &feed, nil
}

// CreateFeed registers a feed. The key is derived from the URL, so the same
// URL cannot be registered twice for one user.
func (s *Store) CreateFeed(ctx context.Context, userID string, feed *types.Feed) (err error) {
	start := time.Now()
	defer func() { s.recordOp("create_feed", start, err) }()

	now := time.Now().UTC()
	feed.CreatedAt = now
	feed.UpdatedAt = now

	key := FeedKey(userID, feed.URL)
	feed.ID = key.Name

	if _, err = s.client.Mutate(ctx, datastore.NewInsert(key, feed)); err != nil {
		var multi datastore.MultiError
		if errors.As(err, &multi) && len(multi) > 0 {
			err = multi[0]
		}
		if status.Code(err) == codes.AlreadyExists {
			return ErrFeedExists
		}
		return fmt.Errorf("failed to create feed: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"user_id": userID,
		"feed_id": feed.ID,
		"url":     feed.URL,
	}).Info("Created feed")
	return nil
}

// UpdateFeed updates a feed's name and enabled flag. The URL is part of the
// key and cannot change; register a new feed instead.
func (s *Store) UpdateFeed(ctx context.Context, userID string, feed *types.Feed) (err error) {
	start := time.Now()
	defer func() { s.recordOp("update_feed", start, err) }()

	key := FeedKeyByID(userID, feed.ID)
	_, err = s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		var current types.Feed
		if getErr := tx.Get(key, &current); getErr != nil {
			return getErr
		}
		if feed.URL != "" && feed.URL != current.URL {
			return fmt.Errorf("feed URL cannot be changed")
		}
		current.Name = feed.Name
		current.Enabled = feed.Enabled
		current.UpdatedAt = time.Now().UTC()
		if _, putErr := tx.Put(key, &current); putErr != nil {
			return putErr
		}
		*feed = current
		feed.ID = key.Name
		return nil
	})
	return translateErr(err)
}

// DeleteFeed removes a feed registration. Articles already ingested from the
// feed are kept.
func (s *Store) DeleteFeed(ctx context.Context, userID, feedID string) (err error) {
	start := time.Now()
	defer func() { s.recordOp("delete_feed", start, err) }()

	key := FeedKeyByID(userID, feedID)
	var feed types.Feed
	if err = s.client.Get(ctx, key, &feed); err != nil {
		return translateErr(err)
	}
	if err = s.client.Delete(ctx, key); err != nil {
		return translateErr(err)
	}

	s.logger.WithFields(logrus.Fields{
		"user_id": userID,
		"feed_id": feedID,
	}).Info("Deleted feed")
	return nil
}
