// Package apitest provides an in-process midras embedding service with
// deterministic multi-vector embeddings, for tests and local development.
package apitest

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"math"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/midras-ai/midras/internal/domain"
	"github.com/midras-ai/midras/internal/domain/request"
	"github.com/midras-ai/midras/internal/metrics"
)

// Defaults for generated embeddings.
const (
	DefaultDims      = 8
	ImageRows        = 4
	CreditsPerUnit   = 1
	maxRequestBodyMB = 64
)

// Recorded is one request the server accepted for processing.
type Recorded struct {
	Endpoint string
	Mode     domain.Mode
	Units    int
	Queries  []string
}

// Failure is a canned error response.
type Failure struct {
	Status int
	Body   string
}

// Server is the mock embedding service.
type Server struct {
	mu       sync.Mutex
	dims     int
	keys     map[string]struct{}
	failures map[string][]Failure
	requests []Recorded
	router   chi.Router
}

// Option configures the Server.
type Option func(*Server)

// WithDims sets the embedding row width.
func WithDims(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.dims = n
		}
	}
}

// WithKeys restricts accepted credentials. Without it any non-empty key is accepted.
func WithKeys(keys ...string) Option {
	return func(s *Server) {
		for _, k := range keys {
			if k != "" {
				s.keys[k] = struct{}{}
			}
		}
	}
}

// New creates a mock service.
func New(opts ...Option) *Server {
	s := &Server{
		dims:     DefaultDims,
		keys:     make(map[string]struct{}),
		failures: make(map[string][]Failure),
	}
	for _, o := range opts {
		o(s)
	}

	r := chi.NewRouter()
	r.Use(chiMiddleware.Recoverer)
	r.Use(metrics.Middleware())
	r.Post(request.ImagesEndpoint, s.handleEmbed(request.KindImages))
	r.Post(request.QueriesEndpoint, s.handleEmbed(request.KindQueries))
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())
	s.router = r
	return s
}

// Start runs the service on a local httptest server. Callers close it.
func Start(opts ...Option) (*Server, *httptest.Server) {
	s := New(opts...)
	return s, httptest.NewServer(s)
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Dims returns the embedding row width.
func (s *Server) Dims() int { return s.dims }

// FailNext queues a canned failure for the next request to endpoint.
func (s *Server) FailNext(endpoint string, status int, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[endpoint] = append(s.failures[endpoint], Failure{Status: status, Body: body})
}

// Requests returns the requests received so far, in arrival order.
func (s *Server) Requests() []Recorded {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Recorded, len(s.requests))
	copy(out, s.requests)
	return out
}

func (s *Server) handleEmbed(kind request.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodyMB<<20))
		if err != nil {
			writeDetail(w, http.StatusBadRequest, "cannot read body")
			return
		}
		req, err := request.Decode(data)
		if err != nil {
			writeDetail(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		if req.Kind() != kind {
			writeDetail(w, http.StatusUnprocessableEntity, "payload does not match endpoint")
			return
		}
		if !s.authorized(req.Credential()) {
			writeDetail(w, http.StatusUnauthorized, "invalid api key")
			return
		}

		if f, ok := s.record(r.URL.Path, req); ok {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(f.Status)
			_, _ = io.WriteString(w, f.Body)
			return
		}

		embeddings, err := s.embed(req)
		if err != nil {
			writeDetail(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		metrics.ServiceUnitsEmbedded.WithLabelValues(string(req.Kind())).Add(float64(req.Units()))
		writeJSON(w, http.StatusOK, map[string]any{
			"credits_spent": req.Units() * CreditsPerUnit,
			"embeddings":    embeddings,
		})
	}
}

func (s *Server) authorized(key string) bool {
	if len(s.keys) == 0 {
		return key != ""
	}
	_, ok := s.keys[key]
	return ok
}

// record stores the request and pops a queued failure, if any.
func (s *Server) record(endpoint string, req request.Request) (Failure, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, Recorded{
		Endpoint: endpoint,
		Mode:     req.Mode(),
		Units:    req.Units(),
		Queries:  req.Queries(),
	})
	queue := s.failures[endpoint]
	if len(queue) == 0 {
		return Failure{}, false
	}
	s.failures[endpoint] = queue[1:]
	return queue[0], true
}

func (s *Server) embed(req request.Request) ([]domain.ColBERT, error) {
	if req.Kind() == request.KindQueries {
		queries := req.Queries()
		out := make([]domain.ColBERT, len(queries))
		for i, q := range queries {
			out[i] = QueryEmbedding(q, s.dims)
		}
		return out, nil
	}

	images := req.Images()
	out := make([]domain.ColBERT, len(images))
	for i, b64 := range images {
		if _, err := request.DecodeImage(b64); err != nil {
			return nil, fmt.Errorf("image %d is not a base64 png", i)
		}
		out[i] = encodedImageEmbedding(b64, s.dims)
	}
	return out, nil
}

// QueryEmbedding returns the deterministic embedding of a text: one
// normalized row per lower-cased whitespace token.
func QueryEmbedding(text string, dims int) domain.ColBERT {
	tokens := strings.Fields(strings.ToLower(text))
	if len(tokens) == 0 {
		tokens = []string{text}
	}
	out := make(domain.ColBERT, len(tokens))
	for i, tok := range tokens {
		out[i] = unitVector(hash64(tok), dims)
	}
	return out
}

// ImageEmbedding returns the deterministic embedding of an image.
func ImageEmbedding(img domain.Image, dims int) (domain.ColBERT, error) {
	encoded, err := request.EncodeImages([]domain.Image{img})
	if err != nil {
		return nil, err
	}
	return encodedImageEmbedding(encoded[0], dims), nil
}

func encodedImageEmbedding(b64 string, dims int) domain.ColBERT {
	seed := hash64(b64)
	out := make(domain.ColBERT, ImageRows)
	for i := range out {
		out[i] = unitVector(seed+uint64(i), dims)
	}
	return out
}

func unitVector(seed uint64, dims int) []float32 {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	v := make([]float32, dims)
	var norm float64
	for i := range v {
		x := rng.Float64()*2 - 1
		v[i] = float32(x)
		norm += x * x
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		v[0] = 1
		return v
	}
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
	return v
}

func hash64(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
