/*
Package store provides the Cloud Datastore persistence layer for the news
monitor backend.

Every user-owned entity lives in the entity group of its User ancestor key,
which gives transactional consistency per user and enforces the (user, link)
uniqueness of articles at the key level. Decoded URL resolutions are global
entities shared by all users.
*/
package store

import (
	"errors"

	"cloud.google.com/go/datastore"
	"github.com/sirupsen/logrus"
	"github.com/wartamigas/news-monitor-backend/utils"
)

// Entity kinds
const (
	KindUser           = "User"
	KindArticle        = "Article"
	KindTopic          = "Topic"
	KindFeed           = "Feed"
	KindDecodedURL     = "DecodedURL"
	KindSchedulerState = "SchedulerState"
)

// insertChunkSize bounds how many entities go into one mutation batch
const insertChunkSize = 50

// Sentinel errors returned by store operations
var (
	ErrNotFound         = errors.New("entity not found")
	ErrTopicNameExists  = errors.New("a topic with this name already exists")
	ErrFeedExists       = errors.New("this feed URL is already registered")
	ErrNoFailedAnalysis = errors.New("article has no failed analysis to retry")
)

// Store wraps the datastore client with domain operations
type Store struct {
	client *datastore.Client
	logger *logrus.Logger
}

// New creates a new store
func New(client *datastore.Client, logger *logrus.Logger) *Store {
	return &Store{
		client: client,
		logger: logger,
	}
}

// Close closes the underlying datastore client
func (s *Store) Close() error {
	return s.client.Close()
}

// UserKey returns the ancestor key for a user's entity group
func UserKey(userID string) *datastore.Key {
	return datastore.NameKey(KindUser, userID, nil)
}

// ArticleKey returns the key for an article. The key name is a hash of the
// link so that one (user, link) pair maps to exactly one entity.
func ArticleKey(userID, link string) *datastore.Key {
	return datastore.NameKey(KindArticle, utils.KeyHash(link), UserKey(userID))
}

// ArticleKeyByID returns the key for an article by its id (the link hash)
func ArticleKeyByID(userID, articleID string) *datastore.Key {
	return datastore.NameKey(KindArticle, articleID, UserKey(userID))
}

// TopicKey returns the key for a topic
func TopicKey(userID, topicID string) *datastore.Key {
	return datastore.NameKey(KindTopic, topicID, UserKey(userID))
}

// FeedKey returns the key for a feed. The key name is a hash of the URL so a
// feed URL can only be registered once per user.
func FeedKey(userID, feedURL string) *datastore.Key {
	return datastore.NameKey(KindFeed, utils.KeyHash(feedURL), UserKey(userID))
}

// FeedKeyByID returns the key for a feed by its id (the URL hash)
func FeedKeyByID(userID, feedID string) *datastore.Key {
	return datastore.NameKey(KindFeed, feedID, UserKey(userID))
}

// DecodedURLKey returns the global key for a decoded URL entry
func DecodedURLKey(id string) *datastore.Key {
	return datastore.NameKey(KindDecodedURL, id, nil)
}

// SchedulerStateKey returns the key for a user's scheduler state singleton
func SchedulerStateKey(userID string) *datastore.Key {
	return datastore.NameKey(KindSchedulerState, "state", UserKey(userID))
}

// translateErr maps datastore sentinel errors onto store sentinels
func translateErr(err error) error {
	if errors.Is(err, datastore.ErrNoSuchEntity) {
		return ErrNotFound
	}
	return err
}
