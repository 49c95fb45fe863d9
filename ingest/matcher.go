package ingest

import (
	"strings"

	"github.com/wartamigas/news-monitor-backend/types"
)

// MatchTopics returns the ids of all topics whose keywords appear in the
// article's searchable text. A topic matches when any of its keyword phrases
// is a case-insensitive substring. Topics with empty keyword sets never
// match.
func MatchTopics(article *types.Article, topics []*types.Topic) []string {
	searchable := article.Searchable()

	var matched []string
	for _, topic := range topics {
		if len(topic.Keywords) == 0 {
			continue
		}
		for _, keyword := range topic.Keywords {
			keyword = strings.ToLower(strings.TrimSpace(keyword))
			if keyword != "" && strings.Contains(searchable, keyword) {
				matched = append(matched, topic.ID)
				break
			}
		}
	}
	return matched
}
