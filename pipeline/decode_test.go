package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wartamigas/news-monitor-backend/aggregator"
	"github.com/wartamigas/news-monitor-backend/cache"
	"github.com/wartamigas/news-monitor-backend/types"
)

type fakeDecodeStore struct {
	articles    []*types.Article
	mapping     map[string]string
	failPersist bool
}

func (f *fakeDecodeStore) PendingDecode(_ context.Context, _ string, limit int) ([]*types.Article, error) {
	var out []*types.Article
	for _, a := range f.articles {
		if !a.URLDecoded {
			out = append(out, a)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (f *fakeDecodeStore) CountPendingDecode(_ context.Context, _ string) (int, error) {
	count := 0
	for _, a := range f.articles {
		if !a.URLDecoded {
			count++
		}
	}
	return count, nil
}

func (f *fakeDecodeStore) LookupDecodedURLs(_ context.Context, ids []string) (map[string]string, error) {
	out := make(map[string]string)
	for _, id := range ids {
		if resolved, ok := f.mapping[id]; ok {
			out[id] = resolved
		}
	}
	return out, nil
}

func (f *fakeDecodeStore) SaveDecodedURL(_ context.Context, id, decodedURL string) error {
	if f.mapping == nil {
		f.mapping = make(map[string]string)
	}
	f.mapping[id] = decodedURL
	return nil
}

func (f *fakeDecodeStore) find(id string) *types.Article {
	for _, a := range f.articles {
		if a.ID == id {
			return a
		}
	}
	return nil
}

func (f *fakeDecodeStore) MarkDecoded(_ context.Context, _, articleID, decodedURL string) error {
	if f.failPersist {
		return errors.New("datastore unavailable")
	}
	a := f.find(articleID)
	a.DecodedURL = decodedURL
	a.URLDecoded = true
	return nil
}

func (f *fakeDecodeStore) MarkDecodeFailed(_ context.Context, _, articleID string) error {
	if f.failPersist {
		return errors.New("datastore unavailable")
	}
	a := f.find(articleID)
	a.URLDecoded = true
	a.DecodeFailed = true
	return nil
}

type fakeCodec struct {
	host        string
	remoteURLs  map[string]string
	directURLs  map[string]string
	remoteCalls int
}

func (f *fakeCodec) IsAggregatorURL(rawURL string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return parsed.Hostname() == f.host
}

func (f *fakeCodec) ExtractID(rawURL string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", aggregator.ErrInvalidURLShape
	}
	id := path.Base(parsed.Path)
	if id == "" || id == "/" {
		return "", aggregator.ErrInvalidURLShape
	}
	return id, nil
}

func (f *fakeCodec) DecodeID(_ context.Context, id string) (*aggregator.Resolution, error) {
	if resolved, ok := f.directURLs[id]; ok {
		return &aggregator.Resolution{ID: id, URL: resolved, Remote: false}, nil
	}
	f.remoteCalls++
	if resolved, ok := f.remoteURLs[id]; ok {
		return &aggregator.Resolution{ID: id, URL: resolved, Remote: true}, nil
	}
	return nil, fmt.Errorf("%w: no params", aggregator.ErrFetchParamsFailed)
}

func testDecoder(st DecodeStore, codec URLCodec) (*Decoder, *cache.DecodedURLCache) {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	urlCache := cache.NewDecodedURLCache(cache.NewInMemoryCache(time.Hour), logger, time.Hour)
	return NewDecoder(Config{
		DecodeDelay:     time.Millisecond,
		AnalyzeDelay:    time.Millisecond,
		DecodeBatchSize: 100,
	}, st, codec, urlCache, logger), urlCache
}

func pendingArticle(id, link string) *types.Article {
	return &types.Article{ID: id, Link: link, SourceType: types.SourceAggregator}
}

func TestDecodeRunCacheHits(t *testing.T) {
	// Three articles share one opaque identifier that is already cached, so
	// the whole batch resolves without a single remote call
	st := &fakeDecodeStore{articles: []*types.Article{
		pendingArticle("a1", "https://news.test/rss/articles/X"),
		pendingArticle("a2", "https://news.test/rss/articles/X"),
		pendingArticle("a3", "https://news.test/rss/articles/X"),
	}}
	codec := &fakeCodec{host: "news.test"}
	decoder, urlCache := testDecoder(st, codec)
	urlCache.Set("X", "https://pub/a")

	var events []types.DecodeEvent
	final, err := decoder.Run(context.Background(), "user-1", func(e types.DecodeEvent) error {
		events = append(events, e)
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, 0, codec.remoteCalls)
	assert.Equal(t, 3, final.Decoded)
	assert.Equal(t, 0, final.Failed)
	assert.Equal(t, 3, final.Total)
	assert.Equal(t, types.EventComplete, final.Type)

	for _, a := range st.articles {
		assert.True(t, a.URLDecoded)
		assert.Equal(t, "https://pub/a", a.DecodedURL)
	}

	// Three progress events followed by a complete event
	require.Len(t, events, 4)
	assert.Equal(t, types.EventProgress, events[0].Type)
	assert.Equal(t, types.EventComplete, events[3].Type)
}

func TestDecodeRunWarmsFromStore(t *testing.T) {
	st := &fakeDecodeStore{
		articles: []*types.Article{pendingArticle("a1", "https://news.test/rss/articles/Y")},
		mapping:  map[string]string{"Y": "https://pub/b"},
	}
	codec := &fakeCodec{host: "news.test"}
	decoder, urlCache := testDecoder(st, codec)

	final, err := decoder.Run(context.Background(), "user-1", NopDecodeSink)
	require.NoError(t, err)

	assert.Equal(t, 0, codec.remoteCalls)
	assert.Equal(t, 1, final.Decoded)
	assert.Equal(t, "https://pub/b", st.articles[0].DecodedURL)

	// Warm loads populate the process cache as well
	cached, ok := urlCache.Get("Y")
	assert.True(t, ok)
	assert.Equal(t, "https://pub/b", cached)
}

func TestDecodeRunPassthrough(t *testing.T) {
	st := &fakeDecodeStore{articles: []*types.Article{
		pendingArticle("a1", "https://www.detik.com/berita/minyak"),
	}}
	decoder, _ := testDecoder(st, &fakeCodec{host: "news.test"})

	final, err := decoder.Run(context.Background(), "user-1", NopDecodeSink)
	require.NoError(t, err)

	assert.Equal(t, 1, final.Decoded)
	assert.True(t, st.articles[0].URLDecoded)
	assert.Empty(t, st.articles[0].DecodedURL)
	assert.False(t, st.articles[0].DecodeFailed)
}

func TestDecodeRunFreshDecodePersistsMapping(t *testing.T) {
	st := &fakeDecodeStore{articles: []*types.Article{
		pendingArticle("a1", "https://news.test/rss/articles/Z"),
	}}
	codec := &fakeCodec{host: "news.test", remoteURLs: map[string]string{"Z": "https://pub/c"}}
	decoder, urlCache := testDecoder(st, codec)

	final, err := decoder.Run(context.Background(), "user-1", NopDecodeSink)
	require.NoError(t, err)

	assert.Equal(t, 1, codec.remoteCalls)
	assert.Equal(t, 1, final.Decoded)
	assert.Equal(t, "https://pub/c", st.articles[0].DecodedURL)

	// The fresh resolution lands in both cache layers
	assert.Equal(t, "https://pub/c", st.mapping["Z"])
	cached, ok := urlCache.Get("Z")
	assert.True(t, ok)
	assert.Equal(t, "https://pub/c", cached)
}

func TestDecodeRunFailureIsTerminal(t *testing.T) {
	st := &fakeDecodeStore{articles: []*types.Article{
		pendingArticle("a1", "https://news.test/rss/articles/unknown-id"),
	}}
	decoder, _ := testDecoder(st, &fakeCodec{host: "news.test"})

	final, err := decoder.Run(context.Background(), "user-1", NopDecodeSink)
	require.NoError(t, err)

	assert.Equal(t, 0, final.Decoded)
	assert.Equal(t, 1, final.Failed)
	assert.True(t, st.articles[0].URLDecoded)
	assert.True(t, st.articles[0].DecodeFailed)
	assert.False(t, st.articles[0].PendingAnalysis())
}

func TestDecodeRunEmptyQueue(t *testing.T) {
	decoder, _ := testDecoder(&fakeDecodeStore{}, &fakeCodec{host: "news.test"})

	var events []types.DecodeEvent
	final, err := decoder.Run(context.Background(), "user-1", func(e types.DecodeEvent) error {
		events = append(events, e)
		return nil
	})
	require.NoError(t, err)

	require.Len(t, events, 1)
	assert.Equal(t, types.EventComplete, events[0].Type)
	assert.Equal(t, 0, final.Total)
}

func TestDecodeRunCancelled(t *testing.T) {
	st := &fakeDecodeStore{articles: []*types.Article{
		pendingArticle("a1", "https://www.detik.com/a"),
	}}
	decoder, _ := testDecoder(st, &fakeCodec{host: "news.test"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := decoder.Run(ctx, "user-1", NopDecodeSink)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDecodeEventsMonotonic(t *testing.T) {
	st := &fakeDecodeStore{articles: []*types.Article{
		pendingArticle("a1", "https://www.detik.com/a"),
		pendingArticle("a2", "https://news.test/rss/articles/unknown"),
		pendingArticle("a3", "https://www.detik.com/b"),
	}}
	decoder, _ := testDecoder(st, &fakeCodec{host: "news.test"})

	prev := 0
	_, err := decoder.Run(context.Background(), "user-1", func(e types.DecodeEvent) error {
		sum := e.Decoded + e.Failed
		assert.GreaterOrEqual(t, sum, prev)
		prev = sum
		return nil
	})
	require.NoError(t, err)
}

func TestDrain(t *testing.T) {
	decoder, _ := testDecoder(&fakeDecodeStore{articles: []*types.Article{
		pendingArticle("a1", "https://www.detik.com/a"),
		pendingArticle("a2", "https://www.detik.com/b"),
		pendingArticle("a3", "https://www.detik.com/c"),
	}}, &fakeCodec{host: "news.test"})

	decoded, failed, err := decoder.Drain(context.Background(), "user-1", NopDecodeSink)
	require.NoError(t, err)
	assert.Equal(t, 3, decoded)
	assert.Equal(t, 0, failed)
}

func TestDrainStopsWhenQueueStuck(t *testing.T) {
	st := &fakeDecodeStore{
		articles: []*types.Article{
			pendingArticle("a1", "https://www.detik.com/a"),
			pendingArticle("a2", "https://www.detik.com/b"),
		},
		failPersist: true,
	}
	decoder, _ := testDecoder(st, &fakeCodec{host: "news.test"})

	_, _, err := decoder.Drain(context.Background(), "user-1", NopDecodeSink)
	require.NoError(t, err)

	// Nothing was durably decoded
	for _, a := range st.articles {
		assert.False(t, a.URLDecoded)
	}
}
