/*
Package main initializes the news monitor backend server.

The service ingests Indonesian oil and gas news from the aggregator keyword
search feed and from user registered RSS feeds, matches articles against
per-user monitoring topics, resolves aggregator redirect URLs to the real
publisher URLs and enriches articles with language model summaries, sentiment
and categories. Articles are stored in Google Cloud Datastore and served over
a JSON API, with server-sent event streams for the long running pipeline
phases and an hourly scheduler that runs the whole pipeline automatically.

Run the application:

	$ go run main.go

Endpoints:
  - GET  /health: Service health including Datastore connectivity.
  - POST /api/fetch: Trigger the fetch pipeline for the calling user.
  - POST /api/articles/decode-urls: Stream URL decoding progress.
  - POST /api/articles/analyze: Stream article analysis progress.
  - GET  /api/articles: List stored articles with filters and pagination.
*/
package main

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	httpSwagger "github.com/swaggo/http-swagger/v2"
	"golang.org/x/time/rate"

	"github.com/wartamigas/news-monitor-backend/config"
	_ "github.com/wartamigas/news-monitor-backend/docs"
	"github.com/wartamigas/news-monitor-backend/handlers/health"
	"github.com/wartamigas/news-monitor-backend/middleware"
	"github.com/wartamigas/news-monitor-backend/monitoring"
	"github.com/wartamigas/news-monitor-backend/utils"
)

// RateLimiter implements a simple token bucket rate limiter
type RateLimiter struct {
	clients map[string]*ClientLimiter
	mutex   sync.RWMutex
	rate    rate.Limit
	burst   int
}

// ClientLimiter represents a rate limiter for a specific client
type ClientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(r rate.Limit, b int) *RateLimiter {
	return &RateLimiter{
		clients: make(map[string]*ClientLimiter),
		rate:    r,
		burst:   b,
	}
}

// Allow checks if a client is allowed to make a request
func (rl *RateLimiter) Allow(clientID string) bool {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	if _, exists := rl.clients[clientID]; !exists {
		rl.clients[clientID] = &ClientLimiter{
			limiter:  rate.NewLimiter(rl.rate, rl.burst),
			lastSeen: time.Now(),
		}
	}

	rl.clients[clientID].lastSeen = time.Now()
	return rl.clients[clientID].limiter.Allow()
}

// Cleanup removes stale client entries
func (rl *RateLimiter) Cleanup() {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	for clientID, client := range rl.clients {
		if time.Since(client.lastSeen) > 5*time.Minute {
			delete(rl.clients, clientID)
		}
	}
}

// @title News Monitor Backend API
// @version 1.0
// @description News ingestion and enrichment service for Indonesian oil and gas monitoring. All /api routes identify the caller through the X-User-ID header.
// @BasePath /
func main() {
	// Load .env for local development. Deployed environments set real
	// environment variables instead.
	_ = godotenv.Load()

	// Initialize structured logger
	middleware.InitLogger()

	// Initialize configuration and services
	appConfig, err := config.NewAppConfig()
	if err != nil {
		log.Fatalf("Failed to initialize application configuration: %v", err)
	}
	defer appConfig.Services.Close()

	middleware.ConfigureLogger(appConfig.Config.LogLevel, appConfig.Config.Environment)
	middleware.Logger.Info("Starting News Monitor Backend Server")

	// Initialize tracing when an exporter is configured
	if appConfig.Config.TracingEnabled {
		tracerProvider, err := monitoring.InitTracing("news-monitor-backend", monitoring.TracingOptions{
			JaegerEndpoint: appConfig.Config.JaegerEndpoint,
			SampleRate:     appConfig.Config.TraceSampleRate,
		})
		if err != nil {
			log.Fatalf("Failed to initialize tracing: %v", err)
		}
		defer monitoring.ShutdownTracing(tracerProvider)
	}

	// Initialize alert manager
	alertManager := monitoring.NewAlertManager(middleware.Logger)
	if appConfig.Config.AlertWebhookURL != "" {
		alertManager.AddNotifier(monitoring.NewWebhookNotifier(appConfig.Config.AlertWebhookURL))
	}
	defer alertManager.Stop()

	// Pull wired services out of the DI container
	handler, err := appConfig.Services.Container.GetHandler()
	if err != nil {
		log.Fatalf("Failed to initialize handler: %v", err)
	}
	datastoreClient, err := appConfig.Services.Container.GetDatastoreClient()
	if err != nil {
		log.Fatalf("Failed to initialize datastore client: %v", err)
	}
	sched, err := appConfig.Services.Container.GetScheduler()
	if err != nil {
		log.Fatalf("Failed to initialize scheduler: %v", err)
	}
	healthHandler := health.NewHandler(datastoreClient, middleware.Logger)

	// Initialize rate limiter with configuration
	limiter := NewRateLimiter(rate.Limit(appConfig.Config.RateLimitRequestsPerMinute/60.0), appConfig.Config.RateLimitBurst)

	// Start cleanup goroutine with configured interval
	go func() {
		ticker := time.NewTicker(appConfig.Config.ClientCleanupInterval)
		defer ticker.Stop()
		for range ticker.C {
			limiter.Cleanup()
		}
	}()

	// Initialize the router
	router := mux.NewRouter()

	// Setup metrics endpoint
	monitoring.SetupMetricsEndpoint(router)

	// Setup health check endpoints (no rate limiting)
	router.HandleFunc("/health", healthHandler.HandleHealthCheck).Methods("GET")
	router.HandleFunc("/health/live", healthHandler.HandleLivenessCheck).Methods("GET")
	router.HandleFunc("/health/ready", healthHandler.HandleReadinessCheck).Methods("GET")

	// Setup Swagger documentation
	router.PathPrefix("/swagger/").Handler(httpSwagger.WrapHandler)

	// API routes require a user identity and pass through rate limiting
	// and monitoring
	protect := func(fn http.HandlerFunc) http.HandlerFunc {
		return MonitoringMiddleware(RateLimitMiddleware(limiter, fn))
	}

	api := router.PathPrefix("/api").Subrouter()
	api.Use(middleware.UserID)

	api.HandleFunc("/topics", protect(handler.HandleListTopics)).Methods("GET")
	api.HandleFunc("/topics", protect(handler.HandleCreateTopic)).Methods("POST")
	api.HandleFunc("/topics/{id}", protect(handler.HandleGetTopic)).Methods("GET")
	api.HandleFunc("/topics/{id}", protect(handler.HandleUpdateTopic)).Methods("PUT")
	api.HandleFunc("/topics/{id}", protect(handler.HandleDeleteTopic)).Methods("DELETE")

	api.HandleFunc("/feeds", protect(handler.HandleListFeeds)).Methods("GET")
	api.HandleFunc("/feeds", protect(handler.HandleCreateFeed)).Methods("POST")
	api.HandleFunc("/feeds/{id}", protect(handler.HandleGetFeed)).Methods("GET")
	api.HandleFunc("/feeds/{id}", protect(handler.HandleUpdateFeed)).Methods("PUT")
	api.HandleFunc("/feeds/{id}", protect(handler.HandleDeleteFeed)).Methods("DELETE")

	api.HandleFunc("/articles", protect(handler.HandleListArticles)).Methods("GET")
	api.HandleFunc("/articles/decode-urls", protect(handler.HandleDecodeStream)).Methods("POST")
	api.HandleFunc("/articles/analyze", protect(handler.HandleAnalyzeStream)).Methods("POST")
	api.HandleFunc("/articles/{id}", protect(handler.HandleGetArticle)).Methods("GET")
	api.HandleFunc("/articles/{id}/retry-analysis", protect(handler.HandleRetryAnalysis)).Methods("POST")
	api.HandleFunc("/stats", protect(handler.HandleArticleStats)).Methods("GET")

	api.HandleFunc("/fetch", protect(handler.HandleTriggerFetch)).Methods("POST")
	api.HandleFunc("/scheduler", protect(handler.HandleSchedulerStatus)).Methods("GET")
	api.HandleFunc("/scheduler/poke", protect(handler.HandlePokeScheduler)).Methods("POST")

	// Apply logging middleware
	withLogging := middleware.LoggingMiddleware(router)

	// Attach the CORS middleware with enhanced configuration
	withCORS := CORSMiddleware(withLogging, appConfig.Config)

	// Start the auto-fetch scheduler
	sched.Start()

	addr := ":" + appConfig.Config.ServerPort
	server := &http.Server{
		Addr:              addr,
		Handler:           withCORS,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		fmt.Printf("Server is running on http://localhost%s\n", addr)
		fmt.Printf("Metrics available at http://localhost%s/metrics\n", addr)
		middleware.Logger.WithField("addr", addr).Info("Server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for shutdown signal, then stop the scheduler before draining
	// in-flight requests
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	middleware.Logger.Info("Shutting down server")
	sched.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		middleware.Logger.WithError(err).Error("Server shutdown failed")
	}
	middleware.Logger.Info("Server stopped")
}

// MonitoringMiddleware adds metrics and tracing to HTTP handlers
func MonitoringMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Create tracing span
		ctx, span := monitoring.CreateSpan(r.Context(), fmt.Sprintf("%s %s", r.Method, r.URL.Path))
		defer span.End()

		// Set span attributes
		monitoring.SetSpanAttributes(span, map[string]interface{}{
			"http.method":     r.Method,
			"http.url":        r.URL.String(),
			"http.user_agent": r.UserAgent(),
			"remote.addr":     r.RemoteAddr,
		})

		// Update request context with tracing
		r = r.WithContext(ctx)

		// Wrap response writer to capture status code
		rw := &responseWriter{ResponseWriter: w, statusCode: 200}

		// Call the next handler
		next.ServeHTTP(rw, r)

		// Record metrics
		duration := time.Since(start).Seconds()
		status := fmt.Sprintf("%d", rw.statusCode)

		monitoring.RecordHTTPRequest(r.Method, r.URL.Path, status, duration)

		// Update span with response info
		monitoring.SetSpanAttributes(span, map[string]interface{}{
			"http.status_code": rw.statusCode,
			"duration_seconds": duration,
		})

		// Record error if status indicates failure
		if rw.statusCode >= 400 {
			monitoring.SetSpanError(span, fmt.Errorf("HTTP %d", rw.statusCode))
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush passes flushes through so event streams keep working behind the
// monitoring wrapper
func (rw *responseWriter) Flush() {
	if flusher, ok := rw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// getClientIdentifier generates a robust client identifier using multiple factors
func getClientIdentifier(r *http.Request) string {
	var identifiers []string

	// 1. IP Address (with X-Forwarded-For support)
	ip := r.RemoteAddr
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		// Take the first IP from the forwarded chain
		ips := strings.Split(forwarded, ",")
		ip = strings.TrimSpace(ips[0])
	} else if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		ip = realIP
	}
	identifiers = append(identifiers, "ip:"+ip)

	// 2. User identity when present
	if userID := r.Header.Get("X-User-ID"); userID != "" {
		identifiers = append(identifiers, "user:"+userID)
	}

	// 3. User Agent (normalized)
	userAgent := r.Header.Get("User-Agent")
	if userAgent != "" {
		userAgent = strings.ToLower(userAgent)
		userAgent = strings.Fields(userAgent)[0]
		identifiers = append(identifiers, "ua:"+userAgent)
	}

	// Combine all identifiers
	combined := strings.Join(identifiers, "|")

	// Create final hash for client ID
	finalHash := sha256.Sum256([]byte(combined))
	return fmt.Sprintf("%x", finalHash)[:16]
}

// RateLimitMiddleware implements enhanced rate limiting for HTTP handlers
func RateLimitMiddleware(limiter *RateLimiter, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Use robust client identifier instead of just IP
		clientID := getClientIdentifier(r)

		if !limiter.Allow(clientID) {
			requestID := r.Header.Get("X-Request-ID")
			if requestID == "" {
				requestID = utils.GenerateRequestID()
			}
			middleware.RespondRateLimited(w, fmt.Errorf("rate limit exceeded"), requestID)
			return
		}

		next.ServeHTTP(w, r)
	}
}

// getAllowedOrigins returns the appropriate allowed origins based on environment
func getAllowedOrigins(corsConfig config.CORSConfig) []string {
	switch strings.ToLower(corsConfig.Environment) {
	case "production", "prod":
		return corsConfig.ProductionOrigins
	case "staging", "stage":
		return corsConfig.StagingOrigins
	case "development", "dev", "local":
		return corsConfig.DevelopmentOrigins
	default:
		return corsConfig.DevelopmentOrigins
	}
}

// isOriginAllowed checks if the origin is allowed based on CORS configuration
func isOriginAllowed(origin string, corsConfig config.CORSConfig) bool {
	allowedOrigins := getAllowedOrigins(corsConfig)

	// Check exact matches first
	for _, allowedOrigin := range allowedOrigins {
		if origin == allowedOrigin {
			return true
		}
	}

	// If subdomains are allowed, check domain patterns
	if corsConfig.AllowSubdomains {
		// Check against explicitly allowed domains
		for _, domain := range corsConfig.AllowedDomains {
			if origin == "https://"+domain || origin == "http://"+domain {
				return true
			}
			if strings.HasSuffix(origin, "."+domain) {
				return true
			}
		}

		// Also check if origin matches any allowed origin with wildcard subdomain
		for _, allowedOrigin := range allowedOrigins {
			if strings.HasPrefix(allowedOrigin, "*.") {
				domain := allowedOrigin[2:] // Remove "*."
				if origin == "https://"+domain || origin == "http://"+domain {
					return true
				}
				if strings.HasSuffix(origin, "."+domain) {
					return true
				}
			}
		}
	}

	return false
}

func CORSMiddleware(next http.Handler, appConfig *config.Config) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		corsConfig := appConfig.CORSConfig

		// Set CORS headers based on configuration
		if origin != "" && isOriginAllowed(origin, corsConfig) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
		}

		// Set allowed methods
		if len(corsConfig.AllowedMethods) > 0 {
			w.Header().Set("Access-Control-Allow-Methods", strings.Join(corsConfig.AllowedMethods, ", "))
		} else {
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		}

		// Set allowed headers
		if len(corsConfig.AllowedHeaders) > 0 {
			w.Header().Set("Access-Control-Allow-Headers", strings.Join(corsConfig.AllowedHeaders, ", "))
		} else {
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With, X-Request-ID, X-User-ID")
		}

		// Set exposed headers
		if len(corsConfig.ExposedHeaders) > 0 {
			w.Header().Set("Access-Control-Expose-Headers", strings.Join(corsConfig.ExposedHeaders, ", "))
		}

		// Set credentials
		if corsConfig.AllowCredentials {
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		}

		// Set max age
		if corsConfig.MaxAge > 0 {
			w.Header().Set("Access-Control-Max-Age", fmt.Sprintf("%d", corsConfig.MaxAge))
		}

		// Handle preflight requests
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
