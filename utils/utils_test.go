package utils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerateRequestID(t *testing.T) {
	id1 := GenerateRequestID()
	id2 := GenerateRequestID()

	assert.NotEmpty(t, id1)
	assert.NotEmpty(t, id2)
	assert.NotEqual(t, id1, id2)

	// UUID v4 string form
	assert.Len(t, id1, 36)
	assert.Equal(t, 4, strings.Count(id1, "-"))
}

func TestKeyHash(t *testing.T) {
	hash := KeyHash("https://finance.detik.com/energi/d-12345/harga-minyak-naik")

	assert.Len(t, hash, 64)
	assert.Equal(t, hash, KeyHash("https://finance.detik.com/energi/d-12345/harga-minyak-naik"))
	assert.NotEqual(t, hash, KeyHash("https://finance.detik.com/energi/d-12346/harga-minyak-turun"))

	// hex only
	for _, char := range hash {
		assert.Contains(t, "0123456789abcdef", string(char))
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		max      int
		expected string
	}{
		{"shorter than max", "minyak", 10, "minyak"},
		{"exactly max", "minyak", 6, "minyak"},
		{"cut to max", "minyak mentah", 6, "minyak"},
		{"zero max", "minyak", 0, ""},
		{"negative max", "minyak", -1, ""},
		{"multibyte runes", "bérita énergi", 6, "bérita"},
		{"empty input", "", 5, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Truncate(tt.input, tt.max))
		})
	}
}

func TestTruncateWithSuffix(t *testing.T) {
	assert.Equal(t, "minyak", TruncateWithSuffix("minyak", 10, "..."))
	assert.Equal(t, "minyak...", TruncateWithSuffix("minyak mentah", 6, "..."))
}

func TestNormalizeWhitespace(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"already clean", "harga minyak", "harga minyak"},
		{"leading and trailing", "  harga minyak  ", "harga minyak"},
		{"tabs and newlines", "harga\t\tminyak\nmentah", "harga minyak mentah"},
		{"only whitespace", " \t\n ", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeWhitespace(tt.input))
		})
	}
}

func BenchmarkGenerateRequestID(b *testing.B) {
	for i := 0; i < b.N; i++ {
		GenerateRequestID()
	}
}

func BenchmarkKeyHash(b *testing.B) {
	for i := 0; i < b.N; i++ {
		KeyHash("https://finance.detik.com/energi/d-12345/harga-minyak-naik")
	}
}
