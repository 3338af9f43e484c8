package midras

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/midras-ai/midras/vectorstore"
)

// Option configures a Client or an AsyncClient.
type Option interface {
	apply(*clientConfig)
}

// optionFunc adapts a function to the Option interface.
type optionFunc func(*clientConfig)

func (f optionFunc) apply(c *clientConfig) { f(c) }

type clientConfig struct {
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client

	store      vectorstore.Store
	asyncStore vectorstore.AsyncStore

	rasterizer        Rasterizer
	concurrentBatches int

	queryCacheSize  int
	queryCacheStore CacheStore

	openAIBaseURL string
	openAIModel   string

	budget *CreditBudget

	logger     *zap.Logger
	metricsReg prometheus.Registerer
}

// WithBaseURL points the client at another embedding service deployment.
func WithBaseURL(url string) Option {
	return optionFunc(func(c *clientConfig) {
		c.baseURL = url
	})
}

// WithTimeout sets the ceiling of every HTTP exchange. Default: 180s.
func WithTimeout(d time.Duration) Option {
	return optionFunc(func(c *clientConfig) {
		c.timeout = d
	})
}

// WithHTTPClient supplies the HTTP client used for the embedding service.
func WithHTTPClient(hc *http.Client) Option {
	return optionFunc(func(c *clientConfig) {
		c.httpClient = hc
	})
}

// WithVectorStore sets the blocking backend of a Client.
// Default: an in-memory store.
func WithVectorStore(s vectorstore.Store) Option {
	return optionFunc(func(c *clientConfig) {
		c.store = s
	})
}

// WithAsyncVectorStore sets the cooperative backend of an AsyncClient.
// Default: an adapted in-memory store.
func WithAsyncVectorStore(s vectorstore.AsyncStore) Option {
	return optionFunc(func(c *clientConfig) {
		c.asyncStore = s
	})
}

// WithRasterizer replaces the pdftoppm-based PDF rasterizer.
func WithRasterizer(r Rasterizer) Option {
	return optionFunc(func(c *clientConfig) {
		c.rasterizer = r
	})
}

// WithConcurrentBatches lets an AsyncClient keep up to n document batches in
// flight. Results are still assembled in page order and the first failure
// aborts the call. A Client rejects this option.
func WithConcurrentBatches(n int) Option {
	return optionFunc(func(c *clientConfig) {
		c.concurrentBatches = n
	})
}

// WithQueryCache caches up to size query embeddings in process.
// Cache hits cost no credits.
func WithQueryCache(size int) Option {
	return optionFunc(func(c *clientConfig) {
		c.queryCacheSize = size
	})
}

// WithQueryCacheStore caches query embeddings in s, e.g. a redis vector store.
func WithQueryCacheStore(s CacheStore) Option {
	return optionFunc(func(c *clientConfig) {
		c.queryCacheStore = s
	})
}

// WithOpenAIEmbeddings embeds text through an OpenAI-compatible embeddings
// endpoint instead of the midras service; the credential is sent as the
// bearer token. Each text becomes a single-row embedding and image
// embedding is unavailable.
func WithOpenAIEmbeddings(baseURL, model string) Option {
	return optionFunc(func(c *clientConfig) {
		c.openAIBaseURL = baseURL
		c.openAIModel = model
	})
}

// WithCreditBudget enforces daily and monthly credit limits. The budget is
// checked before every request, so a document whose batches run past the
// limit fails with a *BatchError wrapping ErrBudgetExceeded.
func WithCreditBudget(b CreditBudget) Option {
	return optionFunc(func(c *clientConfig) {
		c.budget = &b
	})
}

// WithLogger enables structured logging. Pass nil to disable (default).
func WithLogger(l *zap.Logger) Option {
	return optionFunc(func(c *clientConfig) {
		c.logger = l
	})
}

// WithPrometheus registers SDK metrics (operation counts, durations and
// query cache results) on the given registerer. Pass nil to disable (default).
func WithPrometheus(reg prometheus.Registerer) Option {
	return optionFunc(func(c *clientConfig) {
		c.metricsReg = reg
	})
}
