package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/datastore"

	"github.com/wartamigas/news-monitor-backend/types"
)

// GetSchedulerState loads a user's scheduler state. Users that have never
// fetched get a fresh idle state.
func (s *Store) GetSchedulerState(ctx context.Context, userID string) (*types.SchedulerState, error) {
	var state types.SchedulerState
	err := s.client.Get(ctx, SchedulerStateKey(userID), &state)
	if errors.Is(err, datastore.ErrNoSuchEntity) {
		return &types.SchedulerState{Status: types.ScheduleIdle}, nil
	}
	if err != nil {
		return nil, err
	}
	return &state, nil
}

// SaveSchedulerState persists a user's scheduler state
func (s *Store) SaveSchedulerState(ctx context.Context, userID string, state *types.SchedulerState) (err error) {
	start := time.Now()
	defer func() { s.recordOp("save_scheduler_state", start, err) }()

	state.UpdatedAt = time.Now().UTC()
	_, err = s.client.Put(ctx, SchedulerStateKey(userID), state)
	return err
}

// ListSchedulerUsers returns the ids of every user that has scheduler state.
// Each user owns at most one state singleton, so the keys map one to one onto
// user ids.
func (s *Store) ListSchedulerUsers(ctx context.Context) (userIDs []string, err error) {
	start := time.Now()
	defer func() { s.recordOp("list_scheduler_users", start, err) }()

	q := datastore.NewQuery(KindSchedulerState).KeysOnly()
	keys, err := s.client.GetAll(ctx, q, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list scheduler users: %w", err)
	}

	userIDs = make([]string, 0, len(keys))
	for _, key := range keys {
		if key.Parent != nil && key.Parent.Name != "" {
			userIDs = append(userIDs, key.Parent.Name)
		}
	}
	return userIDs, nil
}
