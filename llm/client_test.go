package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wartamigas/news-monitor-backend/types"
)

func testLLMClient(baseURL string) *Client {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return NewClient(Config{
		BaseURL:     baseURL,
		APIKey:      "test-key",
		Model:       "gpt-4o-mini",
		Temperature: 0.3,
		MaxRetries:  0,
		ContentCap:  15000,
		Timeout:     5 * time.Second,
	}, logger)
}

func completionResponse(t *testing.T, content interface{}) []byte {
	t.Helper()
	raw, err := json.Marshal(content)
	require.NoError(t, err)

	body, err := json.Marshal(map[string]interface{}{
		"id":      "chatcmpl-test",
		"object":  "chat.completion",
		"created": 0,
		"model":   "gpt-4o-mini",
		"choices": []map[string]interface{}{
			{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]interface{}{"role": "assistant", "content": string(raw)},
			},
		},
	})
	require.NoError(t, err)
	return body
}

func TestAnalyze(t *testing.T) {
	var captured map[string]interface{}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.True(t, strings.HasSuffix(r.URL.Path, "/chat/completions"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))

		w.Header().Set("Content-Type", "application/json")
		w.Write(completionResponse(t, map[string]interface{}{
			"summary":    "  Produksi minyak nasional naik tipis pada kuartal ini. ",
			"sentiment":  "Positive",
			"categories": []string{"produksi", "Pasar", "Gosip", "Produksi"},
			"reason":     "Kenaikan produksi adalah sinyal positif bagi industri.",
		}))
	}))
	defer server.Close()

	analysis, err := testLLMClient(server.URL).Analyze(context.Background(),
		"Produksi Minyak Naik", "Lifting minyak naik", "Isi artikel hasil crawl.")
	require.NoError(t, err)

	assert.Equal(t, "Produksi minyak nasional naik tipis pada kuartal ini.", analysis.Summary)
	assert.Equal(t, types.SentimentPositive, analysis.Sentiment)
	assert.Equal(t, []string{"Produksi", "Pasar"}, analysis.Categories)
	assert.NotEmpty(t, analysis.Reason)

	// Request carried the configured model, temperature and schema
	assert.Equal(t, "gpt-4o-mini", captured["model"])
	assert.InDelta(t, 0.3, captured["temperature"].(float64), 0.001)

	format := captured["response_format"].(map[string]interface{})
	assert.Equal(t, "json_schema", format["type"])

	messages := captured["messages"].([]interface{})
	require.Len(t, messages, 2)
	system := messages[0].(map[string]interface{})
	assert.Equal(t, "system", system["role"])
	user := messages[1].(map[string]interface{})
	assert.Contains(t, user["content"], "Produksi Minyak Naik")
	assert.Contains(t, user["content"], "Isi artikel hasil crawl.")
}

func TestAnalyzeAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error": {"message": "model not found", "type": "invalid_request_error"}}`))
	}))
	defer server.Close()

	_, err := testLLMClient(server.URL).Analyze(context.Background(), "Judul", "", "")
	assert.Error(t, err)
}

func TestAnalyzeMalformedPayload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := json.Marshal(map[string]interface{}{
			"id": "chatcmpl-test", "object": "chat.completion", "model": "gpt-4o-mini",
			"choices": []map[string]interface{}{
				{"index": 0, "finish_reason": "stop", "message": map[string]interface{}{"role": "assistant", "content": "not json at all"}},
			},
		})
		w.Header().Set("Content-Type", "application/json")
		w.Write(body)
	}))
	defer server.Close()

	_, err := testLLMClient(server.URL).Analyze(context.Background(), "Judul", "", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid analysis payload")
}

func TestUserPromptBodySelection(t *testing.T) {
	client := testLLMClient("http://unused.example")

	t.Run("content preferred", func(t *testing.T) {
		prompt := client.userPrompt("Judul", "cuplikan", "isi lengkap")
		assert.Contains(t, prompt, "isi lengkap")
		assert.NotContains(t, prompt, "cuplikan")
	})

	t.Run("snippet fallback", func(t *testing.T) {
		prompt := client.userPrompt("Judul", "cuplikan", "")
		assert.Contains(t, prompt, "cuplikan")
	})

	t.Run("no content marker", func(t *testing.T) {
		prompt := client.userPrompt("Judul", "", "  ")
		assert.Contains(t, prompt, "No content available.")
	})

	t.Run("content capped", func(t *testing.T) {
		long := strings.Repeat("x", 20000)
		prompt := client.userPrompt("Judul", "", long)
		assert.Less(t, len(prompt), 16000)
	})
}

func TestNormalizeSentiment(t *testing.T) {
	assert.Equal(t, types.SentimentPositive, normalizeSentiment("Positive"))
	assert.Equal(t, types.SentimentNegative, normalizeSentiment(" NEGATIVE "))
	assert.Equal(t, types.SentimentNeutral, normalizeSentiment("neutral"))
	assert.Equal(t, types.SentimentNeutral, normalizeSentiment("mixed"))
	assert.Equal(t, types.SentimentNeutral, normalizeSentiment(""))
}

func TestSanitizeCategories(t *testing.T) {
	tests := []struct {
		name string
		in   []string
		want []string
	}{
		{
			name: "canonical casing applied",
			in:   []string{"produksi", "REGULASI"},
			want: []string{"Produksi", "Regulasi"},
		},
		{
			name: "unknown categories dropped",
			in:   []string{"Produksi", "Selebriti", "Olahraga"},
			want: []string{"Produksi"},
		},
		{
			name: "duplicates removed",
			in:   []string{"Pasar", "pasar", " Pasar "},
			want: []string{"Pasar"},
		},
		{
			name: "empty input substitutes default",
			in:   nil,
			want: []string{"Umum"},
		},
		{
			name: "all dropped substitutes default",
			in:   []string{"Kuliner"},
			want: []string{"Umum"},
		},
		{
			name: "already default stays",
			in:   []string{"Umum"},
			want: []string{"Umum"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeCategories(tt.in))
		})
	}
}

func TestSanitizeCategoriesIdempotent(t *testing.T) {
	once := SanitizeCategories([]string{"produksi", "Gosip"})
	twice := SanitizeCategories(once)
	assert.Equal(t, once, twice)
}

func TestAllowedCategoriesIsACopy(t *testing.T) {
	list := AllowedCategories()
	require.NotEmpty(t, list)
	list[0] = "mutated"
	assert.NotEqual(t, "mutated", AllowedCategories()[0])
}
