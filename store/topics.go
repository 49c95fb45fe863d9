package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/datastore"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/wartamigas/news-monitor-backend/types"
)

// cascadeChunkSize bounds how many articles are rewritten per cascade
// transaction
const cascadeChunkSize = 100

// ListTopics returns the user's topics ordered by creation time
func (s *Store) ListTopics(ctx context.Context, userID string, enabledOnly bool) (topics []*types.Topic, err error) {
	start := time.Now()
	defer func() { s.recordOp("list_topics", start, err) }()

	q := datastore.NewQuery(KindTopic).Ancestor(UserKey(userID))
	if enabledOnly {
		q = q.FilterField("enabled", "=", true)
	}
	q = q.Order("created_at")

	keys, err := s.client.GetAll(ctx, q, &topics)
	if err != nil {
		return nil, fmt.Errorf("failed to list topics: %w", err)
	}
	for i, key := range keys {
		topics[i].ID = key.Name
	}
	return topics, nil
}

// GetTopic loads a single topic
func (s *Store) GetTopic(ctx context.Context, userID, topicID string) (*types.Topic, error) {
	var topic types.Topic
	if err := s.client.Get(ctx, TopicKey(userID, topicID), &topic); err != nil {
		return nil, translateErr(err)
	}
	topic.ID = topicID
	return &topic, nil
}

// CreateTopic stores a new topic. Topic names are unique per user; the
// uniqueness check and the write share one transaction.
func (s *Store) CreateTopic(ctx context.Context, userID string, topic *types.Topic) (err error) {
	start := time.Now()
	defer func() { s.recordOp("create_topic", start, err) }()

	now := time.Now().UTC()
	topic.ID = uuid.NewString()
	topic.CreatedAt = now
	topic.UpdatedAt = now

	key := TopicKey(userID, topic.ID)
	_, err = s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		taken, checkErr := s.topicNameTaken(ctx, tx, userID, topic.Name, "")
		if checkErr != nil {
			return checkErr
		}
		if taken {
			return ErrTopicNameExists
		}
		_, putErr := tx.Put(key, topic)
		return putErr
	})
	if err != nil {
		return err
	}

	s.logger.WithFields(logrus.Fields{
		"user_id":  userID,
		"topic_id": topic.ID,
		"name":     topic.Name,
	}).Info("Created topic")
	return nil
}

// UpdateTopic updates a topic's name, keywords and enabled flag
func (s *Store) UpdateTopic(ctx context.Context, userID string, topic *types.Topic) (err error) {
	start := time.Now()
	defer func() { s.recordOp("update_topic", start, err) }()

	key := TopicKey(userID, topic.ID)
	_, err = s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		var current types.Topic
		if getErr := tx.Get(key, &current); getErr != nil {
			return getErr
		}
		if topic.Name != current.Name {
			taken, checkErr := s.topicNameTaken(ctx, tx, userID, topic.Name, topic.ID)
			if checkErr != nil {
				return checkErr
			}
			if taken {
				return ErrTopicNameExists
			}
		}
		current.Name = topic.Name
		current.Keywords = topic.Keywords
		current.Enabled = topic.Enabled
		current.UpdatedAt = time.Now().UTC()
		if _, putErr := tx.Put(key, &current); putErr != nil {
			return putErr
		}
		*topic = current
		topic.ID = key.Name
		return nil
	})
	return translateErr(err)
}

// topicNameTaken checks name uniqueness inside a transaction. excludeID lets
// an update keep its own name.
func (s *Store) topicNameTaken(ctx context.Context, tx *datastore.Transaction, userID, name, excludeID string) (bool, error) {
	q := datastore.NewQuery(KindTopic).
		Ancestor(UserKey(userID)).
		FilterField("name", "=", name).
		KeysOnly().
		Transaction(tx)

	keys, err := s.client.GetAll(ctx, q, nil)
	if err != nil {
		return false, fmt.Errorf("failed to check topic name: %w", err)
	}
	for _, key := range keys {
		if key.Name != excludeID {
			return true, nil
		}
	}
	return false, nil
}

// DeleteTopic removes a topic and strips its id from every article carrying
// it. The cascade runs first so a failure leaves the topic in place and the
// delete can be retried.
func (s *Store) DeleteTopic(ctx context.Context, userID, topicID string) (err error) {
	start := time.Now()
	defer func() { s.recordOp("delete_topic", start, err) }()

	key := TopicKey(userID, topicID)
	var topic types.Topic
	if err = s.client.Get(ctx, key, &topic); err != nil {
		return translateErr(err)
	}

	if err = s.removeTopicFromArticles(ctx, userID, topicID); err != nil {
		return err
	}
	if err = s.client.Delete(ctx, key); err != nil {
		return translateErr(err)
	}

	s.logger.WithFields(logrus.Fields{
		"user_id":  userID,
		"topic_id": topicID,
	}).Info("Deleted topic")
	return nil
}

// removeTopicFromArticles strips the topic id from matched_topic_ids in
// chunks until no article references it. Ancestor queries are strongly
// consistent, so each pass sees the previous pass's writes.
func (s *Store) removeTopicFromArticles(ctx context.Context, userID, topicID string) error {
	for {
		q := datastore.NewQuery(KindArticle).
			Ancestor(UserKey(userID)).
			FilterField("matched_topic_ids", "=", topicID).
			KeysOnly().
			Limit(cascadeChunkSize)

		keys, err := s.client.GetAll(ctx, q, nil)
		if err != nil {
			return fmt.Errorf("failed to find articles for topic cascade: %w", err)
		}
		if len(keys) == 0 {
			return nil
		}

		if _, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
			articles := make([]*types.Article, len(keys))
			if getErr := tx.GetMulti(keys, articles); getErr != nil {
				var multi datastore.MultiError
				if !errors.As(getErr, &multi) {
					return getErr
				}
				for _, elemErr := range multi {
					if elemErr != nil && !errors.Is(elemErr, datastore.ErrNoSuchEntity) {
						return elemErr
					}
				}
			}

			now := time.Now().UTC()
			putKeys := make([]*datastore.Key, 0, len(keys))
			putArticles := make([]*types.Article, 0, len(keys))
			for i, article := range articles {
				if article == nil || !types.ContainsTopicID(article.MatchedTopicIDs, topicID) {
					continue
				}
				article.MatchedTopicIDs = types.RemoveTopicID(article.MatchedTopicIDs, topicID)
				article.UpdatedAt = now
				putKeys = append(putKeys, keys[i])
				putArticles = append(putArticles, article)
			}
			if len(putKeys) == 0 {
				return nil
			}
			_, putErr := tx.PutMulti(putKeys, putArticles)
			return putErr
		}); err != nil {
			return fmt.Errorf("failed to remove topic from articles: %w", err)
		}

		if len(keys) < cascadeChunkSize {
			return nil
		}
	}
}

// BumpTopicsFetchedAt sets last_fetched_at on the given topics. Last write
// wins; the fetch paths only ever write the current time.
func (s *Store) BumpTopicsFetchedAt(ctx context.Context, userID string, topicIDs []string, fetchedAt time.Time) (err error) {
	start := time.Now()
	defer func() { s.recordOp("bump_topics_fetched", start, err) }()

	if len(topicIDs) == 0 {
		return nil
	}

	keys := make([]*datastore.Key, len(topicIDs))
	for i, id := range topicIDs {
		keys[i] = TopicKey(userID, id)
	}

	topics := make([]*types.Topic, len(keys))
	if getErr := s.client.GetMulti(ctx, keys, topics); getErr != nil {
		var multi datastore.MultiError
		if !errors.As(getErr, &multi) {
			return getErr
		}
		for _, elemErr := range multi {
			if elemErr != nil && !errors.Is(elemErr, datastore.ErrNoSuchEntity) {
				return elemErr
			}
		}
	}

	putKeys := make([]*datastore.Key, 0, len(keys))
	putTopics := make([]*types.Topic, 0, len(keys))
	for i, topic := range topics {
		if topic == nil {
			// Topic deleted mid-run
			continue
		}
		bumped := fetchedAt
		topic.LastFetchedAt = &bumped
		topic.UpdatedAt = fetchedAt
		putKeys = append(putKeys, keys[i])
		putTopics = append(putTopics, topic)
	}
	if len(putKeys) == 0 {
		return nil
	}

	_, err = s.client.PutMulti(ctx, putKeys, putTopics)
	return err
}
