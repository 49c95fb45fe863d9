package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wartamigas/news-monitor-backend/middleware"
	"github.com/wartamigas/news-monitor-backend/pipeline"
	"github.com/wartamigas/news-monitor-backend/scheduler"
	"github.com/wartamigas/news-monitor-backend/store"
	"github.com/wartamigas/news-monitor-backend/types"
)

func init() {
	// Initialize logger for tests
	middleware.InitLogger()
}

type fakeStore struct {
	topics   map[string]*types.Topic
	feeds    map[string]*types.Feed
	articles []*types.Article
	state    *types.SchedulerState

	createTopicErr error
	createFeedErr  error
	resetErr       error

	gotQuery     store.ArticleQuery
	gotStatsDays int
	resetID      string
	nextCursor   string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		topics: make(map[string]*types.Topic),
		feeds:  make(map[string]*types.Feed),
	}
}

func (s *fakeStore) ListTopics(_ context.Context, _ string, enabledOnly bool) ([]*types.Topic, error) {
	var topics []*types.Topic
	for _, topic := range s.topics {
		if enabledOnly && !topic.Enabled {
			continue
		}
		topics = append(topics, topic)
	}
	return topics, nil
}

func (s *fakeStore) GetTopic(_ context.Context, _ string, topicID string) (*types.Topic, error) {
	topic, ok := s.topics[topicID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return topic, nil
}

func (s *fakeStore) CreateTopic(_ context.Context, _ string, topic *types.Topic) error {
	if s.createTopicErr != nil {
		return s.createTopicErr
	}
	topic.ID = fmt.Sprintf("topic-%d", len(s.topics)+1)
	s.topics[topic.ID] = topic
	return nil
}

func (s *fakeStore) UpdateTopic(_ context.Context, _ string, topic *types.Topic) error {
	if _, ok := s.topics[topic.ID]; !ok {
		return store.ErrNotFound
	}
	s.topics[topic.ID] = topic
	return nil
}

func (s *fakeStore) DeleteTopic(_ context.Context, _ string, topicID string) error {
	if _, ok := s.topics[topicID]; !ok {
		return store.ErrNotFound
	}
	delete(s.topics, topicID)
	return nil
}

func (s *fakeStore) ListFeeds(_ context.Context, _ string, enabledOnly bool) ([]*types.Feed, error) {
	var feeds []*types.Feed
	for _, feed := range s.feeds {
		if enabledOnly && !feed.Enabled {
			continue
		}
		feeds = append(feeds, feed)
	}
	return feeds, nil
}

func (s *fakeStore) GetFeed(_ context.Context, _ string, feedID string) (*types.Feed, error) {
	feed, ok := s.feeds[feedID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return feed, nil
}

func (s *fakeStore) CreateFeed(_ context.Context, _ string, feed *types.Feed) error {
	if s.createFeedErr != nil {
		return s.createFeedErr
	}
	feed.ID = fmt.Sprintf("feed-%d", len(s.feeds)+1)
	s.feeds[feed.ID] = feed
	return nil
}

func (s *fakeStore) UpdateFeed(_ context.Context, _ string, feed *types.Feed) error {
	if _, ok := s.feeds[feed.ID]; !ok {
		return store.ErrNotFound
	}
	s.feeds[feed.ID] = feed
	return nil
}

func (s *fakeStore) DeleteFeed(_ context.Context, _ string, feedID string) error {
	if _, ok := s.feeds[feedID]; !ok {
		return store.ErrNotFound
	}
	delete(s.feeds, feedID)
	return nil
}

func (s *fakeStore) ListArticles(_ context.Context, _ string, query store.ArticleQuery) ([]*types.Article, string, error) {
	s.gotQuery = query
	return s.articles, s.nextCursor, nil
}

func (s *fakeStore) GetArticle(_ context.Context, _ string, articleID string) (*types.Article, error) {
	for _, article := range s.articles {
		if article.ID == articleID {
			return article, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *fakeStore) ArticleStats(_ context.Context, _ string, days int) (*types.ArticleStats, error) {
	s.gotStatsDays = days
	return &types.ArticleStats{PeriodDays: days, Total: len(s.articles)}, nil
}

func (s *fakeStore) ResetAnalysis(_ context.Context, _ string, articleID string) error {
	if s.resetErr != nil {
		return s.resetErr
	}
	s.resetID = articleID
	return nil
}

func (s *fakeStore) GetSchedulerState(_ context.Context, _ string) (*types.SchedulerState, error) {
	if s.state != nil {
		return s.state, nil
	}
	return &types.SchedulerState{Status: types.ScheduleIdle}, nil
}

type fakeDecoder struct {
	events []types.DecodeEvent
	err    error
}

func (f *fakeDecoder) Run(_ context.Context, _ string, sink pipeline.DecodeSink) (*types.DecodeEvent, error) {
	for i := range f.events {
		if err := sink(f.events[i]); err != nil {
			return nil, err
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	if len(f.events) == 0 {
		return &types.DecodeEvent{Type: types.EventComplete}, nil
	}
	return &f.events[len(f.events)-1], nil
}

type fakeAnalyzer struct {
	events   []types.AnalyzeEvent
	err      error
	running  bool
	gotLimit int
}

func (f *fakeAnalyzer) Running(string) bool { return f.running }

func (f *fakeAnalyzer) Run(_ context.Context, _ string, limit int, sink pipeline.AnalyzeSink) (*types.AnalyzeEvent, error) {
	f.gotLimit = limit
	if f.err != nil {
		return nil, f.err
	}
	for i := range f.events {
		if err := sink(f.events[i]); err != nil {
			return nil, err
		}
	}
	if len(f.events) == 0 {
		return &types.AnalyzeEvent{Type: types.EventComplete}, nil
	}
	return &f.events[len(f.events)-1], nil
}

type fakeScheduler struct {
	err        error
	gotTrigger string
	gotSkip    *bool
	fetching   bool
	enabled    bool
	interval   time.Duration
}

func (f *fakeScheduler) TriggerFetch(_ context.Context, _ string, trigger string, skipGapCheck bool) error {
	f.gotTrigger = trigger
	f.gotSkip = &skipGapCheck
	return f.err
}

func (f *fakeScheduler) Fetching(string) bool { return f.fetching }

func (f *fakeScheduler) Interval() time.Duration {
	if f.interval == 0 {
		return time.Hour
	}
	return f.interval
}

func (f *fakeScheduler) Enabled() bool { return f.enabled }

func newTestHandler(st *fakeStore) (*Handler, *fakeDecoder, *fakeAnalyzer, *fakeScheduler) {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	decoder := &fakeDecoder{}
	analyzer := &fakeAnalyzer{}
	sched := &fakeScheduler{enabled: true}
	return NewHandler(st, decoder, analyzer, sched, logger), decoder, analyzer, sched
}

// newTestRouter registers the handlers the same way main does
func newTestRouter(h *Handler) http.Handler {
	r := mux.NewRouter()
	api := r.PathPrefix("/api").Subrouter()
	api.Use(middleware.UserID)

	api.HandleFunc("/topics", h.HandleListTopics).Methods(http.MethodGet)
	api.HandleFunc("/topics", h.HandleCreateTopic).Methods(http.MethodPost)
	api.HandleFunc("/topics/{id}", h.HandleGetTopic).Methods(http.MethodGet)
	api.HandleFunc("/topics/{id}", h.HandleUpdateTopic).Methods(http.MethodPut)
	api.HandleFunc("/topics/{id}", h.HandleDeleteTopic).Methods(http.MethodDelete)

	api.HandleFunc("/feeds", h.HandleListFeeds).Methods(http.MethodGet)
	api.HandleFunc("/feeds", h.HandleCreateFeed).Methods(http.MethodPost)
	api.HandleFunc("/feeds/{id}", h.HandleGetFeed).Methods(http.MethodGet)
	api.HandleFunc("/feeds/{id}", h.HandleUpdateFeed).Methods(http.MethodPut)
	api.HandleFunc("/feeds/{id}", h.HandleDeleteFeed).Methods(http.MethodDelete)

	api.HandleFunc("/articles", h.HandleListArticles).Methods(http.MethodGet)
	api.HandleFunc("/articles/decode-urls", h.HandleDecodeStream).Methods(http.MethodPost)
	api.HandleFunc("/articles/analyze", h.HandleAnalyzeStream).Methods(http.MethodPost)
	api.HandleFunc("/articles/{id}", h.HandleGetArticle).Methods(http.MethodGet)
	api.HandleFunc("/articles/{id}/retry-analysis", h.HandleRetryAnalysis).Methods(http.MethodPost)
	api.HandleFunc("/stats", h.HandleArticleStats).Methods(http.MethodGet)

	api.HandleFunc("/fetch", h.HandleTriggerFetch).Methods(http.MethodPost)
	api.HandleFunc("/scheduler", h.HandleSchedulerStatus).Methods(http.MethodGet)
	api.HandleFunc("/scheduler/poke", h.HandlePokeScheduler).Methods(http.MethodPost)

	return r
}

func doRequest(router http.Handler, method, target, userID string, body io.Reader) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, body)
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), dst))
}

// sseFrames splits an event stream body into its data payloads
func sseFrames(t *testing.T, body string) []string {
	t.Helper()
	var frames []string
	for _, chunk := range strings.Split(strings.TrimSpace(body), "\n\n") {
		chunk = strings.TrimSpace(chunk)
		if chunk == "" {
			continue
		}
		require.True(t, strings.HasPrefix(chunk, "data: "), "unexpected frame: %q", chunk)
		frames = append(frames, strings.TrimPrefix(chunk, "data: "))
	}
	return frames
}

func TestMissingUserHeader(t *testing.T) {
	h, _, _, _ := newTestHandler(newFakeStore())
	router := newTestRouter(h)

	rec := doRequest(router, http.MethodGet, "/api/topics", "", nil)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	var apiErr middleware.APIError
	decodeJSON(t, rec, &apiErr)
	assert.Equal(t, middleware.ErrCodeUnauthorized, apiErr.Error)
}

func TestCreateTopic(t *testing.T) {
	st := newFakeStore()
	h, _, _, _ := newTestHandler(st)
	router := newTestRouter(h)

	body := strings.NewReader(`{"name":"Minyak Mentah","keywords":["minyak mentah","crude oil"]}`)
	rec := doRequest(router, http.MethodPost, "/api/topics", "user-1", body)

	require.Equal(t, http.StatusCreated, rec.Code)
	var topic types.Topic
	decodeJSON(t, rec, &topic)
	assert.NotEmpty(t, topic.ID)
	assert.Equal(t, "Minyak Mentah", topic.Name)
	assert.True(t, topic.Enabled)
	assert.Len(t, st.topics, 1)
}

func TestCreateTopicRejectsInvalid(t *testing.T) {
	h, _, _, _ := newTestHandler(newFakeStore())
	router := newTestRouter(h)

	rec := doRequest(router, http.MethodPost, "/api/topics", "user-1", strings.NewReader(`{"name":""}`))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var apiErr middleware.APIError
	decodeJSON(t, rec, &apiErr)
	assert.Equal(t, middleware.ErrCodeValidation, apiErr.Error)
}

func TestCreateTopicDuplicateName(t *testing.T) {
	st := newFakeStore()
	st.createTopicErr = store.ErrTopicNameExists
	h, _, _, _ := newTestHandler(st)
	router := newTestRouter(h)

	body := strings.NewReader(`{"name":"Gas Bumi","keywords":["lng"]}`)
	rec := doRequest(router, http.MethodPost, "/api/topics", "user-1", body)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestListTopics(t *testing.T) {
	st := newFakeStore()
	st.topics["t1"] = &types.Topic{ID: "t1", Name: "Minyak", Enabled: true}
	st.topics["t2"] = &types.Topic{ID: "t2", Name: "Gas", Enabled: false}
	h, _, _, _ := newTestHandler(st)
	router := newTestRouter(h)

	rec := doRequest(router, http.MethodGet, "/api/topics", "user-1", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp topicListResponse
	decodeJSON(t, rec, &resp)
	assert.Equal(t, 2, resp.Count)
	assert.Len(t, resp.Topics, 2)

	rec = doRequest(router, http.MethodGet, "/api/topics?enabled=true", "user-1", nil)
	decodeJSON(t, rec, &resp)
	assert.Equal(t, 1, resp.Count)
}

func TestUpdateTopicKeepsOmittedFields(t *testing.T) {
	st := newFakeStore()
	st.topics["t1"] = &types.Topic{ID: "t1", Name: "Gas Bumi", Keywords: []string{"lng"}, Enabled: true}
	h, _, _, _ := newTestHandler(st)
	router := newTestRouter(h)

	rec := doRequest(router, http.MethodPut, "/api/topics/t1", "user-1", strings.NewReader(`{"enabled":false}`))

	require.Equal(t, http.StatusOK, rec.Code)
	var topic types.Topic
	decodeJSON(t, rec, &topic)
	assert.Equal(t, "Gas Bumi", topic.Name)
	assert.Equal(t, []string{"lng"}, topic.Keywords)
	assert.False(t, topic.Enabled)
}

func TestDeleteTopic(t *testing.T) {
	st := newFakeStore()
	st.topics["t1"] = &types.Topic{ID: "t1", Name: "Minyak", Enabled: true}
	h, _, _, _ := newTestHandler(st)
	router := newTestRouter(h)

	rec := doRequest(router, http.MethodDelete, "/api/topics/t1", "user-1", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, st.topics)

	rec = doRequest(router, http.MethodDelete, "/api/topics/t1", "user-1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateFeed(t *testing.T) {
	st := newFakeStore()
	h, _, _, _ := newTestHandler(st)
	router := newTestRouter(h)

	body := strings.NewReader(`{"name":"Detik Energi","url":"https://finance.detik.com/energi/rss"}`)
	rec := doRequest(router, http.MethodPost, "/api/feeds", "user-1", body)

	require.Equal(t, http.StatusCreated, rec.Code)
	var feed types.Feed
	decodeJSON(t, rec, &feed)
	assert.NotEmpty(t, feed.ID)
	assert.True(t, feed.Enabled)
	assert.Equal(t, "https://finance.detik.com/energi/rss", feed.URL)
}

func TestCreateFeedRejectsInternalURL(t *testing.T) {
	h, _, _, _ := newTestHandler(newFakeStore())
	router := newTestRouter(h)

	body := strings.NewReader(`{"name":"metadata","url":"http://169.254.169.254/latest/meta-data"}`)
	rec := doRequest(router, http.MethodPost, "/api/feeds", "user-1", body)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateFeedDuplicate(t *testing.T) {
	st := newFakeStore()
	st.createFeedErr = store.ErrFeedExists
	h, _, _, _ := newTestHandler(st)
	router := newTestRouter(h)

	body := strings.NewReader(`{"name":"Detik","url":"https://finance.detik.com/rss"}`)
	rec := doRequest(router, http.MethodPost, "/api/feeds", "user-1", body)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestUpdateFeedURLImmutable(t *testing.T) {
	st := newFakeStore()
	st.feeds["f1"] = &types.Feed{ID: "f1", Name: "Detik", URL: "https://finance.detik.com/rss", Enabled: true}
	h, _, _, _ := newTestHandler(st)
	router := newTestRouter(h)

	rec := doRequest(router, http.MethodPut, "/api/feeds/f1", "user-1", strings.NewReader(`{"url":"https://other.example/rss"}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(router, http.MethodPut, "/api/feeds/f1", "user-1", strings.NewReader(`{"name":"Detik Finance"}`))
	require.Equal(t, http.StatusOK, rec.Code)
	var feed types.Feed
	decodeJSON(t, rec, &feed)
	assert.Equal(t, "Detik Finance", feed.Name)
	assert.Equal(t, "https://finance.detik.com/rss", feed.URL)
}

func TestListArticlesQuery(t *testing.T) {
	st := newFakeStore()
	st.nextCursor = "cursor-2"
	h, _, _, _ := newTestHandler(st)
	router := newTestRouter(h)

	target := "/api/articles?topic_id=t1&sentiment=negative&analyzed=true&days=3&limit=500&cursor=abc"
	rec := doRequest(router, http.MethodGet, target, "user-1", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "t1", st.gotQuery.TopicID)
	assert.Equal(t, types.SentimentNegative, st.gotQuery.Sentiment)
	require.NotNil(t, st.gotQuery.AIProcessed)
	assert.True(t, *st.gotQuery.AIProcessed)
	assert.WithinDuration(t, time.Now().UTC().AddDate(0, 0, -3), st.gotQuery.Since, time.Minute)
	assert.Equal(t, maxArticleLimit, st.gotQuery.Limit)
	assert.Equal(t, "abc", st.gotQuery.Cursor)

	assert.Equal(t, "cursor-2", rec.Header().Get("X-Next-Cursor"))
	var resp articleListResponse
	decodeJSON(t, rec, &resp)
	assert.Equal(t, "cursor-2", resp.NextCursor)
}

func TestListArticlesRejectsBadSentiment(t *testing.T) {
	h, _, _, _ := newTestHandler(newFakeStore())
	router := newTestRouter(h)

	rec := doRequest(router, http.MethodGet, "/api/articles?sentiment=angry", "user-1", nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRetryAnalysis(t *testing.T) {
	st := newFakeStore()
	h, _, _, _ := newTestHandler(st)
	router := newTestRouter(h)

	rec := doRequest(router, http.MethodPost, "/api/articles/a1/retry-analysis", "user-1", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "a1", st.resetID)
	var resp resetResponse
	decodeJSON(t, rec, &resp)
	assert.True(t, resp.Reset)
	assert.Equal(t, "a1", resp.ID)
}

func TestRetryAnalysisNotFound(t *testing.T) {
	st := newFakeStore()
	st.resetErr = store.ErrNotFound
	h, _, _, _ := newTestHandler(st)
	router := newTestRouter(h)

	rec := doRequest(router, http.MethodPost, "/api/articles/missing/retry-analysis", "user-1", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRetryAnalysisWithoutError(t *testing.T) {
	st := newFakeStore()
	st.resetErr = store.ErrNoFailedAnalysis
	h, _, _, _ := newTestHandler(st)
	router := newTestRouter(h)

	rec := doRequest(router, http.MethodPost, "/api/articles/a1/retry-analysis", "user-1", nil)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestArticleStats(t *testing.T) {
	st := newFakeStore()
	h, _, _, _ := newTestHandler(st)
	router := newTestRouter(h)

	rec := doRequest(router, http.MethodGet, "/api/stats", "user-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 7, st.gotStatsDays)

	rec = doRequest(router, http.MethodGet, "/api/stats?days=30", "user-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 30, st.gotStatsDays)

	rec = doRequest(router, http.MethodGet, "/api/stats?days=0", "user-1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTriggerFetchDefaults(t *testing.T) {
	h, _, _, sched := newTestHandler(newFakeStore())
	router := newTestRouter(h)

	rec := doRequest(router, http.MethodPost, "/api/fetch", "user-1", nil)

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "manual", sched.gotTrigger)
	require.NotNil(t, sched.gotSkip)
	assert.True(t, *sched.gotSkip)

	var resp fetchResponse
	decodeJSON(t, rec, &resp)
	assert.True(t, resp.Started)
	assert.Equal(t, "manual", resp.Trigger)
}

func TestTriggerFetchRespectsGapCheckOption(t *testing.T) {
	h, _, _, sched := newTestHandler(newFakeStore())
	router := newTestRouter(h)

	body := strings.NewReader(`{"skip_gap_check":false}`)
	rec := doRequest(router, http.MethodPost, "/api/fetch", "user-1", body)

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.NotNil(t, sched.gotSkip)
	assert.False(t, *sched.gotSkip)
}

func TestTriggerFetchAlreadyRunning(t *testing.T) {
	h, _, _, sched := newTestHandler(newFakeStore())
	sched.err = scheduler.ErrFetchRunning
	router := newTestRouter(h)

	rec := doRequest(router, http.MethodPost, "/api/fetch", "user-1", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp fetchResponse
	decodeJSON(t, rec, &resp)
	assert.False(t, resp.Started)
	assert.NotEmpty(t, resp.Reason)
}

func TestTriggerFetchTooSoon(t *testing.T) {
	h, _, _, sched := newTestHandler(newFakeStore())
	sched.err = scheduler.ErrFetchTooSoon
	router := newTestRouter(h)

	rec := doRequest(router, http.MethodPost, "/api/fetch", "user-1", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp fetchResponse
	decodeJSON(t, rec, &resp)
	assert.False(t, resp.Started)
}

func TestPokeScheduler(t *testing.T) {
	h, _, _, sched := newTestHandler(newFakeStore())
	router := newTestRouter(h)

	rec := doRequest(router, http.MethodPost, "/api/scheduler/poke", "user-1", nil)

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "poke", sched.gotTrigger)
	require.NotNil(t, sched.gotSkip)
	assert.False(t, *sched.gotSkip)
}

func TestSchedulerStatus(t *testing.T) {
	st := newFakeStore()
	lastFetch := time.Now().UTC().Add(-30 * time.Minute)
	st.state = &types.SchedulerState{
		Status:       types.ScheduleSuccess,
		LastFetchAt:  &lastFetch,
		LastInserted: 4,
		LastSkipped:  9,
	}
	h, _, _, sched := newTestHandler(st)
	sched.fetching = true
	router := newTestRouter(h)

	rec := doRequest(router, http.MethodGet, "/api/scheduler", "user-1", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp schedulerStatusResponse
	decodeJSON(t, rec, &resp)
	assert.Equal(t, types.ScheduleSuccess, resp.Status)
	assert.True(t, resp.Enabled)
	assert.True(t, resp.Fetching)
	assert.Equal(t, 4, resp.LastInserted)
	assert.Equal(t, 9, resp.LastSkipped)
	assert.Equal(t, int64(3600), resp.IntervalSeconds)
	require.NotNil(t, resp.NextFetchAt)
	assert.WithinDuration(t, lastFetch.Add(time.Hour), *resp.NextFetchAt, time.Second)
}

func TestDecodeStreamEmitsEvents(t *testing.T) {
	h, decoder, _, _ := newTestHandler(newFakeStore())
	decoder.events = []types.DecodeEvent{
		{Type: types.EventProgress, Decoded: 1, Total: 2},
		{Type: types.EventProgress, Decoded: 2, Total: 2},
		{Type: types.EventComplete, Decoded: 2, Total: 2},
	}
	router := newTestRouter(h)

	rec := doRequest(router, http.MethodPost, "/api/articles/decode-urls", "user-1", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))

	frames := sseFrames(t, rec.Body.String())
	require.Len(t, frames, 3)
	var last types.DecodeEvent
	require.NoError(t, json.Unmarshal([]byte(frames[2]), &last))
	assert.Equal(t, types.EventComplete, last.Type)
	assert.Equal(t, 2, last.Decoded)
}

func TestDecodeStreamFailure(t *testing.T) {
	h, decoder, _, _ := newTestHandler(newFakeStore())
	decoder.events = []types.DecodeEvent{{Type: types.EventProgress, Decoded: 1, Total: 3}}
	decoder.err = fmt.Errorf("datastore query failed")
	router := newTestRouter(h)

	rec := doRequest(router, http.MethodPost, "/api/articles/decode-urls", "user-1", nil)

	frames := sseFrames(t, rec.Body.String())
	require.Len(t, frames, 2)
	var last types.DecodeEvent
	require.NoError(t, json.Unmarshal([]byte(frames[1]), &last))
	assert.Equal(t, types.EventError, last.Type)
	assert.NotEmpty(t, last.Message)
}

func TestAnalyzeStreamPassesLimit(t *testing.T) {
	h, _, analyzer, _ := newTestHandler(newFakeStore())
	router := newTestRouter(h)

	rec := doRequest(router, http.MethodPost, "/api/articles/analyze?limit=5", "user-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, analyzer.gotLimit)

	rec = doRequest(router, http.MethodPost, "/api/articles/analyze", "user-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, analyzer.gotLimit)

	rec = doRequest(router, http.MethodPost, "/api/articles/analyze?limit=abc", "user-1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAnalyzeStreamAlreadyRunning(t *testing.T) {
	h, _, analyzer, _ := newTestHandler(newFakeStore())
	analyzer.err = pipeline.ErrAnalysisRunning
	router := newTestRouter(h)

	rec := doRequest(router, http.MethodPost, "/api/articles/analyze", "user-1", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	frames := sseFrames(t, rec.Body.String())
	require.Len(t, frames, 1)
	var event types.AnalyzeEvent
	require.NoError(t, json.Unmarshal([]byte(frames[0]), &event))
	assert.Equal(t, types.EventComplete, event.Type)
	assert.Zero(t, event.Analyzed)
}
