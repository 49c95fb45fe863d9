/*
Package container provides dependency injection capabilities for the news
monitor backend.

The container wires the service graph in one place: datastore access, the
outbound HTTP stack, the aggregator codec, the ingestion orchestrator, the
decode and analyze stream engines, the scheduler and the HTTP handlers.
Services are registered by name and retrieved through typed getters.
*/
package container

import (
	"fmt"
	"sync"

	"cloud.google.com/go/datastore"
	"github.com/sirupsen/logrus"

	"github.com/wartamigas/news-monitor-backend/aggregator"
	"github.com/wartamigas/news-monitor-backend/cache"
	"github.com/wartamigas/news-monitor-backend/crawler"
	"github.com/wartamigas/news-monitor-backend/handlers"
	"github.com/wartamigas/news-monitor-backend/httpclient"
	"github.com/wartamigas/news-monitor-backend/ingest"
	"github.com/wartamigas/news-monitor-backend/llm"
	"github.com/wartamigas/news-monitor-backend/pipeline"
	"github.com/wartamigas/news-monitor-backend/scheduler"
	"github.com/wartamigas/news-monitor-backend/store"
)

// Options carries the per-service configuration used to build the graph
type Options struct {
	HTTP       httpclient.Config
	Retry      httpclient.RetryConfig
	Aggregator aggregator.Config
	Ingest     ingest.Config
	Crawler    crawler.Config
	LLM        llm.Config
	Pipeline   pipeline.Config
	Scheduler  scheduler.Config
}

// Container holds all service dependencies
type Container struct {
	mu       sync.RWMutex
	services map[string]interface{}

	datastoreClient *datastore.Client
}

// NewContainer creates a new dependency injection container
func NewContainer() *Container {
	return &Container{
		services: make(map[string]interface{}),
	}
}

// Register registers a service instance under a name
func (c *Container) Register(name string, service interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.services[name] = service
}

// Get retrieves a service by name
func (c *Container) Get(name string) (interface{}, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if service, exists := c.services[name]; exists {
		return service, nil
	}
	return nil, fmt.Errorf("service %s not found", name)
}

// InitializeServices builds the full service graph in dependency order
func (c *Container) InitializeServices(datastoreClient *datastore.Client, urlCache *cache.DecodedURLCache, logger *logrus.Logger, opts Options) error {
	if datastoreClient == nil {
		return fmt.Errorf("datastore client is required")
	}
	if urlCache == nil {
		return fmt.Errorf("decoded URL cache is required")
	}
	if logger == nil {
		return fmt.Errorf("logger is required")
	}

	c.mu.Lock()
	c.datastoreClient = datastoreClient
	c.mu.Unlock()

	st := store.New(datastoreClient, logger)

	httpClient := httpclient.New(opts.HTTP, logger)
	retrier := httpclient.NewRetrier(opts.Retry, logger)

	codec := aggregator.NewCodec(opts.Aggregator, httpClient, retrier, logger)
	reader := ingest.NewReader(httpClient, retrier, logger)
	orchestrator := ingest.NewOrchestrator(opts.Ingest, st, codec, reader, logger)

	crawlerClient := crawler.NewClient(opts.Crawler, logger)
	llmClient := llm.NewClient(opts.LLM, logger)

	decoder := pipeline.NewDecoder(opts.Pipeline, st, codec, urlCache, logger)
	analyzer := pipeline.NewAnalyzer(opts.Pipeline, st, crawlerClient, llmClient, logger)

	sched := scheduler.NewScheduler(opts.Scheduler, st, orchestrator, decoder, analyzer, logger)

	handler := handlers.NewHandler(st, decoder, analyzer, sched, logger)

	c.Register("logger", logger)
	c.Register("datastore", datastoreClient)
	c.Register("url_cache", urlCache)
	c.Register("store", st)
	c.Register("http_client", httpClient)
	c.Register("retrier", retrier)
	c.Register("codec", codec)
	c.Register("reader", reader)
	c.Register("orchestrator", orchestrator)
	c.Register("crawler", crawlerClient)
	c.Register("llm", llmClient)
	c.Register("decoder", decoder)
	c.Register("analyzer", analyzer)
	c.Register("scheduler", sched)
	c.Register("handler", handler)

	logger.Info("Dependency container initialized")
	return nil
}

// GetLogger retrieves the logger service
func (c *Container) GetLogger() (*logrus.Logger, error) {
	service, err := c.Get("logger")
	if err != nil {
		return nil, err
	}
	logger, ok := service.(*logrus.Logger)
	if !ok {
		return nil, fmt.Errorf("logger service is not of expected type")
	}
	return logger, nil
}

// GetDatastoreClient retrieves the datastore client service
func (c *Container) GetDatastoreClient() (*datastore.Client, error) {
	service, err := c.Get("datastore")
	if err != nil {
		return nil, err
	}
	client, ok := service.(*datastore.Client)
	if !ok {
		return nil, fmt.Errorf("datastore service is not of expected type")
	}
	return client, nil
}

// GetStore retrieves the datastore wrapper service
func (c *Container) GetStore() (*store.Store, error) {
	service, err := c.Get("store")
	if err != nil {
		return nil, err
	}
	st, ok := service.(*store.Store)
	if !ok {
		return nil, fmt.Errorf("store service is not of expected type")
	}
	return st, nil
}

// GetScheduler retrieves the auto-fetch scheduler service
func (c *Container) GetScheduler() (*scheduler.Scheduler, error) {
	service, err := c.Get("scheduler")
	if err != nil {
		return nil, err
	}
	sched, ok := service.(*scheduler.Scheduler)
	if !ok {
		return nil, fmt.Errorf("scheduler service is not of expected type")
	}
	return sched, nil
}

// GetHandler retrieves the handler service
func (c *Container) GetHandler() (*handlers.Handler, error) {
	service, err := c.Get("handler")
	if err != nil {
		return nil, err
	}
	handler, ok := service.(*handlers.Handler)
	if !ok {
		return nil, fmt.Errorf("handler service is not of expected type")
	}
	return handler, nil
}

// Close gracefully closes all service connections
func (c *Container) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.datastoreClient != nil {
		if err := c.datastoreClient.Close(); err != nil {
			return fmt.Errorf("failed to close datastore client: %v", err)
		}
		c.datastoreClient = nil
	}
	return nil
}
