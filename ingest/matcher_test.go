package ingest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/wartamigas/news-monitor-backend/types"
)

func TestMatchTopics(t *testing.T) {
	topics := []*types.Topic{
		{ID: "t-migas", Keywords: []string{"SKK Migas", "lifting"}},
		{ID: "t-lng", Keywords: []string{"LNG", "gas alam cair"}},
		{ID: "t-empty", Keywords: nil},
		{ID: "t-blank", Keywords: []string{"  "}},
	}

	tests := []struct {
		name    string
		article *types.Article
		want    []string
	}{
		{
			name:    "single topic via title",
			article: &types.Article{Title: "SKK Migas umumkan target produksi"},
			want:    []string{"t-migas"},
		},
		{
			name:    "case insensitive match via snippet",
			article: &types.Article{Title: "Berita energi", Snippet: "Target LIFTING minyak tercapai"},
			want:    []string{"t-migas"},
		},
		{
			name:    "multiple topics",
			article: &types.Article{Title: "SKK Migas dorong proyek LNG Abadi"},
			want:    []string{"t-migas", "t-lng"},
		},
		{
			name:    "no match",
			article: &types.Article{Title: "Harga batu bara melemah"},
			want:    nil,
		},
		{
			name:    "empty keyword topics never match",
			article: &types.Article{Title: "Apapun isinya"},
			want:    nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MatchTopics(tt.article, topics))
		})
	}
}

func TestEarliestCutoff(t *testing.T) {
	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	lookback := 7 * 24 * time.Hour
	older := now.Add(-48 * time.Hour)
	newer := now.Add(-1 * time.Hour)

	t.Run("no topics falls back to lookback window", func(t *testing.T) {
		got := earliestCutoff(nil, now, lookback)
		assert.Equal(t, now.Add(-lookback), got)
	})

	t.Run("never fetched topic keeps the lookback window", func(t *testing.T) {
		topics := []*types.Topic{
			{ID: "a", LastFetchedAt: &newer},
			{ID: "b"},
		}
		got := earliestCutoff(topics, now, lookback)
		assert.Equal(t, now.Add(-lookback), got)
	})

	t.Run("oldest fetch mark wins", func(t *testing.T) {
		topics := []*types.Topic{
			{ID: "a", LastFetchedAt: &newer},
			{ID: "b", LastFetchedAt: &older},
		}
		got := earliestCutoff(topics, now, lookback)
		assert.Equal(t, older, got)
	})
}

func TestTopicIDUnion(t *testing.T) {
	articles := []*types.Article{
		{MatchedTopicIDs: []string{"a", "b"}},
		{MatchedTopicIDs: []string{"b", "c"}},
		{MatchedTopicIDs: nil},
	}

	assert.Equal(t, []string{"a", "b", "c"}, topicIDUnion(articles))
}
