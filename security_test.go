package main

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/wartamigas/news-monitor-backend/config"
	"golang.org/x/time/rate"
)

// TestEnhancedRateLimiting tests the improved rate limiting with multiple client identifiers
func TestEnhancedRateLimiting(t *testing.T) {
	// Refill slowly enough that the burst is the only budget during the test
	limiter := NewRateLimiter(rate.Limit(0.01), 5)

	// Create a mock handler
	handler := func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}

	// Wrap with rate limiting middleware
	rateLimitedHandler := RateLimitMiddleware(limiter, handler)

	// Test 1: Same IP but different user agents should have different rate limits
	req1 := httptest.NewRequest("GET", "/", nil)
	req1.Header.Set("User-Agent", "Mozilla/5.0")
	req1.RemoteAddr = "192.168.1.1:12345"

	req2 := httptest.NewRequest("GET", "/", nil)
	req2.Header.Set("User-Agent", "Chrome/91.0")
	req2.RemoteAddr = "192.168.1.1:12345"

	// Both should be allowed initially
	w1 := httptest.NewRecorder()
	w2 := httptest.NewRecorder()

	rateLimitedHandler(w1, req1)
	rateLimitedHandler(w2, req2)

	if w1.Code != http.StatusOK || w2.Code != http.StatusOK {
		t.Errorf("Both requests should be allowed initially")
	}

	// Test 2: Requests with the same identifiers share one bucket
	for i := 0; i < 10; i++ {
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("User-Agent", "Safari/17.0")
		req.RemoteAddr = "192.168.1.9:12345"

		w := httptest.NewRecorder()
		rateLimitedHandler(w, req)

		if i < 5 && w.Code != http.StatusOK {
			t.Errorf("Request %d should be allowed, got status %d", i, w.Code)
		}
		if i >= 5 && w.Code != http.StatusTooManyRequests {
			t.Errorf("Request %d should be rate limited, got status %d", i, w.Code)
		}
	}
}

// TestRateLimitResponseShape verifies the limiter answers with the structured error body
func TestRateLimitResponseShape(t *testing.T) {
	limiter := NewRateLimiter(rate.Limit(0.01), 1)

	handler := func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}
	rateLimitedHandler := RateLimitMiddleware(limiter, handler)

	req := httptest.NewRequest("GET", "/api/articles", nil)
	req.RemoteAddr = "10.1.1.1:40000"

	// First request drains the burst, second is denied
	rateLimitedHandler(httptest.NewRecorder(), req)

	w := httptest.NewRecorder()
	rateLimitedHandler(w, req)

	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("Expected status 429, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Expected JSON error body, got Content-Type %q", ct)
	}
}

// TestCORSConfiguration tests CORS driven by environment configuration
func TestCORSConfiguration(t *testing.T) {
	// Set test environment
	t.Setenv("ENVIRONMENT", "development")
	t.Setenv("DEV_CORS_ORIGINS", "http://localhost:3000,http://127.0.0.1:3000")
	t.Setenv("CORS_ALLOWED_METHODS", "GET,POST,OPTIONS")
	t.Setenv("CORS_ALLOWED_HEADERS", "Content-Type,X-User-ID")

	// Parse configuration from the environment without starting services
	testConfig := config.NewConfig()

	// Create a mock handler
	handler := func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}

	// Wrap with CORS middleware
	corsHandler := CORSMiddleware(http.HandlerFunc(handler), testConfig)

	// Test cases
	testCases := []struct {
		name           string
		origin         string
		shouldAllow    bool
		expectedOrigin string
	}{
		{"Allowed origin", "http://localhost:3000", true, "http://localhost:3000"},
		{"Disallowed origin", "https://evil.com", false, ""},
		{"No origin header", "", false, ""},
		{"Allowed origin with different case", "http://LOCALHOST:3000", false, ""}, // Case sensitive
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			if tc.origin != "" {
				req.Header.Set("Origin", tc.origin)
			}

			w := httptest.NewRecorder()
			corsHandler.ServeHTTP(w, req)

			originHeader := w.Header().Get("Access-Control-Allow-Origin")
			if tc.shouldAllow && originHeader != tc.expectedOrigin {
				t.Errorf("Expected origin header %s, got %s", tc.expectedOrigin, originHeader)
			}
			if !tc.shouldAllow && originHeader != "" {
				t.Errorf("Expected no origin header, got %s", originHeader)
			}

			// Check other CORS headers
			methodsHeader := w.Header().Get("Access-Control-Allow-Methods")
			if methodsHeader != "GET, POST, OPTIONS" {
				t.Errorf("Expected methods header 'GET, POST, OPTIONS', got '%s'", methodsHeader)
			}
		})
	}

	// Test OPTIONS preflight
	t.Run("Preflight request", func(t *testing.T) {
		req := httptest.NewRequest("OPTIONS", "/", nil)
		req.Header.Set("Origin", "http://localhost:3000")
		req.Header.Set("Access-Control-Request-Method", "POST")

		w := httptest.NewRecorder()
		corsHandler.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Errorf("Expected status 200 for OPTIONS, got %d", w.Code)
		}
	})
}

// TestClientIdentifier tests the enhanced client identification
func TestClientIdentifier(t *testing.T) {
	testCases := []struct {
		name       string
		setupReq   func(*http.Request)
		expectSame bool
	}{
		{
			name: "Same IP and user agent",
			setupReq: func(req *http.Request) {
				req.RemoteAddr = "192.168.1.1:12345"
				req.Header.Set("User-Agent", "Mozilla/5.0")
			},
			expectSame: true,
		},
		{
			name: "Different IP, same user agent",
			setupReq: func(req *http.Request) {
				req.RemoteAddr = "192.168.1.2:12345"
				req.Header.Set("User-Agent", "Mozilla/5.0")
			},
			expectSame: false,
		},
		{
			name: "Same IP, different user agent",
			setupReq: func(req *http.Request) {
				req.RemoteAddr = "192.168.1.1:12345"
				req.Header.Set("User-Agent", "Chrome/91.0")
			},
			expectSame: false,
		},
		{
			name: "With user header",
			setupReq: func(req *http.Request) {
				req.RemoteAddr = "192.168.1.1:12345"
				req.Header.Set("User-Agent", "Chrome/91.0")
				req.Header.Set("X-User-ID", "analyst-7")
			},
			expectSame: false, // Different from previous due to user identity
		},
		{
			name: "Forwarded IP wins over remote address",
			setupReq: func(req *http.Request) {
				req.RemoteAddr = "192.168.1.1:12345"
				req.Header.Set("User-Agent", "Chrome/91.0")
				req.Header.Set("X-User-ID", "analyst-7")
				req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
			},
			expectSame: false, // Same headers but forwarded IP replaces the socket address
		},
	}

	var previousID string

	for i, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			tc.setupReq(req)

			clientID := getClientIdentifier(req)

			if i > 0 {
				if tc.expectSame && clientID != previousID {
					t.Errorf("Expected same client ID, got different: %s vs %s", previousID, clientID)
				}
				if !tc.expectSame && clientID == previousID {
					t.Errorf("Expected different client ID, got same: %s", clientID)
				}
			}

			previousID = clientID

			// Verify client ID is consistent length (16 chars as per implementation)
			if len(clientID) != 16 {
				t.Errorf("Expected client ID length 16, got %d", len(clientID))
			}
		})
	}
}

// TestClientIdentifierStable verifies the identifier is deterministic per request shape
func TestClientIdentifierStable(t *testing.T) {
	build := func() *http.Request {
		req := httptest.NewRequest("GET", "/", nil)
		req.RemoteAddr = "198.51.100.4:55000"
		req.Header.Set("User-Agent", "Mozilla/5.0")
		req.Header.Set("X-User-ID", "analyst-1")
		return req
	}

	first := getClientIdentifier(build())
	second := getClientIdentifier(build())
	if first != second {
		t.Errorf("Expected stable identifier, got %s then %s", first, second)
	}
}

// TestRateLimiterCleanup tests the rate limiter cleanup functionality
func TestRateLimiterCleanup(t *testing.T) {
	limiter := NewRateLimiter(rate.Limit(10), 5)

	// Add some clients
	limiter.Allow("client1")
	limiter.Allow("client2")
	limiter.Allow("client3")

	// Verify clients exist
	if len(limiter.clients) != 3 {
		t.Errorf("Expected 3 clients, got %d", len(limiter.clients))
	}

	// Manually set last seen to old time to test cleanup
	limiter.mutex.Lock()
	for _, client := range limiter.clients {
		client.lastSeen = time.Now().Add(-10 * time.Minute)
	}
	limiter.mutex.Unlock()

	// Run cleanup
	limiter.Cleanup()

	// Verify clients are cleaned up
	if len(limiter.clients) != 0 {
		t.Errorf("Expected 0 clients after cleanup, got %d", len(limiter.clients))
	}
}
