package midras

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"io"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/midras-ai/midras/internal/domain/request"
	"github.com/midras-ai/midras/internal/transport/api/apitest"
	"github.com/midras-ai/midras/vectorstore"
	"github.com/midras-ai/midras/vectorstore/memory"
)

const testKey = "test-key"

// fakeRasterizer returns canned pages.
type fakeRasterizer struct {
	pages []Image
	err   error
	calls atomic.Int32
}

func (f *fakeRasterizer) Rasterize(context.Context, string) ([]Image, error) {
	f.calls.Add(1)
	return f.pages, f.err
}

func testPages(n int) []Image {
	pages := make([]Image, n)
	for i := range pages {
		img := image.NewRGBA(image.Rect(0, 0, 4, 4))
		for x := 0; x < 4; x++ {
			for y := 0; y < 4; y++ {
				img.Set(x, y, color.RGBA{R: uint8(i), G: uint8(i * 7), B: uint8(x + y), A: 255})
			}
		}
		pages[i] = img
	}
	return pages
}

func startService(t *testing.T, opts ...apitest.Option) (*apitest.Server, string) {
	t.Helper()
	svc, srv := apitest.Start(opts...)
	t.Cleanup(srv.Close)
	return svc, srv.URL
}

func newTestClient(t *testing.T, baseURL string, opts ...Option) *Client {
	t.Helper()
	c, err := New(testKey, append([]Option{WithBaseURL(baseURL)}, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// failingImages fails every image request whose unit count equals units
// and forwards everything else to next.
func failingImages(t *testing.T, next http.Handler, units, status int, body string) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		r.Body = io.NopCloser(bytes.NewReader(data))
		if req, err := request.Decode(data); err == nil &&
			req.Kind() == request.KindImages && req.Units() == units {
			w.WriteHeader(status)
			_, _ = io.WriteString(w, body)
			return
		}
		next.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv.URL
}

func expectedImageEmbeddings(t *testing.T, pages []Image) []ColBERT {
	t.Helper()
	out := make([]ColBERT, len(pages))
	for i, p := range pages {
		emb, err := apitest.ImageEmbedding(p, apitest.DefaultDims)
		if err != nil {
			t.Fatalf("ImageEmbedding: %v", err)
		}
		out[i] = emb
	}
	return out
}

func TestNew_RequiresCredential(t *testing.T) {
	if _, err := New(""); !errors.Is(err, ErrInvalidConfiguration) {
		t.Fatalf("expected ErrInvalidConfiguration, got %v", err)
	}
}

func TestNew_RejectsCooperativeStore(t *testing.T) {
	_, err := New(testKey, WithAsyncVectorStore(vectorstore.Async(memory.New())))
	if !errors.Is(err, ErrIncompatibleBackend) {
		t.Fatalf("expected ErrIncompatibleBackend, got %v", err)
	}
	if !errors.Is(err, ErrInvalidConfiguration) {
		t.Fatalf("ErrIncompatibleBackend should wrap ErrInvalidConfiguration")
	}
}

func TestNew_RejectsConcurrentBatches(t *testing.T) {
	if _, err := New(testKey, WithConcurrentBatches(4)); !errors.Is(err, ErrInvalidConfiguration) {
		t.Fatalf("expected ErrInvalidConfiguration, got %v", err)
	}
}

func TestNew_RejectsConflictingCaches(t *testing.T) {
	_, err := New(testKey, WithQueryCache(8), WithQueryCacheStore(memoryCache{}))
	if !errors.Is(err, ErrInvalidConfiguration) {
		t.Fatalf("expected ErrInvalidConfiguration, got %v", err)
	}
}

func TestClient_EmbedPDF_BatchesInOrder(t *testing.T) {
	svc, url := startService(t)
	pages := testPages(25)
	c := newTestClient(t, url, WithRasterizer(&fakeRasterizer{pages: pages}))

	resp, err := c.EmbedPDF(context.Background(), "doc.pdf", 10, false)
	if err != nil {
		t.Fatalf("EmbedPDF: %v", err)
	}
	if resp.CreditsSpent != 25 {
		t.Errorf("CreditsSpent = %d, want 25", resp.CreditsSpent)
	}
	if resp.Images != nil {
		t.Errorf("Images should be nil when not requested, got %d", len(resp.Images))
	}
	if !reflect.DeepEqual(resp.Embeddings, expectedImageEmbeddings(t, pages)) {
		t.Error("embeddings are not in page order")
	}

	reqs := svc.Requests()
	if len(reqs) != 3 {
		t.Fatalf("expected 3 requests, got %d", len(reqs))
	}
	for i, want := range []int{10, 10, 5} {
		if reqs[i].Units != want || reqs[i].Endpoint != request.ImagesEndpoint {
			t.Errorf("request %d = %+v, want %d images", i, reqs[i], want)
		}
		if reqs[i].Mode != ModeStandard {
			t.Errorf("request %d mode = %q", i, reqs[i].Mode)
		}
	}
}

func TestClient_EmbedPDF_IncludeImages(t *testing.T) {
	_, url := startService(t)
	pages := testPages(3)
	c := newTestClient(t, url, WithRasterizer(&fakeRasterizer{pages: pages}))

	resp, err := c.EmbedPDF(context.Background(), "doc.pdf", 2, true)
	if err != nil {
		t.Fatalf("EmbedPDF: %v", err)
	}
	if !reflect.DeepEqual(resp.Images, pages) {
		t.Error("returned images differ from rasterized pages")
	}
}

func TestClient_EmbedPDF_ZeroPages(t *testing.T) {
	svc, url := startService(t)
	c := newTestClient(t, url, WithRasterizer(&fakeRasterizer{pages: []Image{}}))

	resp, err := c.EmbedPDF(context.Background(), "empty.pdf", 10, true)
	if err != nil {
		t.Fatalf("EmbedPDF: %v", err)
	}
	if resp.CreditsSpent != 0 || len(resp.Embeddings) != 0 {
		t.Errorf("expected empty response, got %+v", resp)
	}
	if resp.Images == nil {
		t.Error("requested images should be an empty slice, not nil")
	}
	if n := len(svc.Requests()); n != 0 {
		t.Errorf("expected no requests, got %d", n)
	}
}

func TestClient_EmbedPDF_InvalidBatchSize(t *testing.T) {
	svc, url := startService(t)
	rast := &fakeRasterizer{pages: testPages(3)}
	c := newTestClient(t, url, WithRasterizer(rast))

	for _, size := range []int{0, -1} {
		if _, err := c.EmbedPDF(context.Background(), "doc.pdf", size, false); !errors.Is(err, ErrInvalidConfiguration) {
			t.Errorf("batch size %d: expected ErrInvalidConfiguration, got %v", size, err)
		}
	}
	if rast.calls.Load() != 0 {
		t.Error("rasterizer should not run for an invalid batch size")
	}
	if n := len(svc.Requests()); n != 0 {
		t.Errorf("expected no requests, got %d", n)
	}
}

func TestClient_EmbedPDF_RasterizeError(t *testing.T) {
	_, url := startService(t)
	boom := errors.New("pdftoppm: broken pipe")
	c := newTestClient(t, url, WithRasterizer(&fakeRasterizer{err: boom}))

	if _, err := c.EmbedPDF(context.Background(), "doc.pdf", 10, false); !errors.Is(err, boom) {
		t.Fatalf("expected rasterizer error, got %v", err)
	}
}

func TestClient_EmbedPages_FailedBatchAborts(t *testing.T) {
	svc := apitest.New()
	url := failingImages(t, svc, 5, http.StatusInternalServerError, "upstream exploded")
	c := newTestClient(t, url)

	resp, err := c.EmbedPages(context.Background(), testPages(25), 10, false)
	if err == nil {
		t.Fatal("expected an error")
	}
	if resp.Embeddings != nil {
		t.Errorf("no partial response expected, got %d embeddings", len(resp.Embeddings))
	}

	var be *BatchError
	if !errors.As(err, &be) {
		t.Fatalf("expected *BatchError, got %T", err)
	}
	if be.Batch != 2 || be.Size != 5 || be.CreditsSpent != 20 {
		t.Errorf("BatchError = %+v", be)
	}
	var se *ServiceError
	if !errors.As(err, &se) || se.Body != "upstream exploded" {
		t.Errorf("expected ServiceError with raw body, got %v", err)
	}
}

func TestClient_EmbedImages_Empty(t *testing.T) {
	svc, url := startService(t)
	c := newTestClient(t, url)

	resp, err := c.EmbedImages(context.Background(), nil, ModeStandard)
	if err != nil {
		t.Fatalf("EmbedImages: %v", err)
	}
	if resp.CreditsSpent != 0 || resp.Embeddings == nil || len(resp.Embeddings) != 0 {
		t.Errorf("expected empty response, got %+v", resp)
	}
	if n := len(svc.Requests()); n != 0 {
		t.Errorf("expected no requests, got %d", n)
	}
}

func TestClient_EmbedText(t *testing.T) {
	svc, url := startService(t)
	c := newTestClient(t, url)

	resp, err := c.EmbedText(context.Background(), []string{"hello world", "midras"}, "")
	if err != nil {
		t.Fatalf("EmbedText: %v", err)
	}
	if resp.CreditsSpent != 2 || len(resp.Embeddings) != 2 {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if got := len(resp.Embeddings[0]); got != 2 {
		t.Errorf("expected one row per token, got %d", got)
	}
	if reqs := svc.Requests(); len(reqs) != 1 || reqs[0].Mode != ModeStandard {
		t.Errorf("unexpected requests: %+v", reqs)
	}
}

func TestClient_RejectedRequest(t *testing.T) {
	_, url := startService(t, apitest.WithKeys("other-key"))
	c := newTestClient(t, url)

	_, err := c.EmbedText(context.Background(), []string{"q"}, ModeStandard)
	var rr *RequestRejectedError
	if !errors.As(err, &rr) || rr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 RequestRejectedError, got %v", err)
	}
	if !errors.Is(err, ErrRequestRejected) {
		t.Error("expected ErrRequestRejected")
	}
}

func TestClient_MalformedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"credits_spent": 1}`)
	}))
	t.Cleanup(srv.Close)
	c := newTestClient(t, srv.URL)

	if _, err := c.EmbedText(context.Background(), []string{"q"}, ModeStandard); !errors.Is(err, ErrMalformedResponse) {
		t.Fatalf("expected ErrMalformedResponse, got %v", err)
	}
}

func TestClient_IndexAndQuery(t *testing.T) {
	_, url := startService(t)
	c := newTestClient(t, url)
	ctx := context.Background()

	created, err := c.CreateIndex(ctx, "docs")
	if err != nil || !created {
		t.Fatalf("CreateIndex = %v, %v", created, err)
	}
	created, err = c.CreateIndex(ctx, "docs")
	if err != nil || created {
		t.Fatalf("second CreateIndex = %v, %v", created, err)
	}

	docs := []string{"red apple pie", "blue ocean waves", "green forest trail"}
	resp, err := c.EmbedText(ctx, docs, ModeStandard)
	if err != nil {
		t.Fatalf("EmbedText: %v", err)
	}
	ids := []PointID{IntID(1), StringID("ocean"), IntID(3)}
	for i, emb := range resp.Embeddings {
		res, err := c.AddPoint(ctx, "docs", ids[i], emb, map[string]any{"text": docs[i]})
		if err != nil || res.Saved != 1 {
			t.Fatalf("AddPoint(%s) = %+v, %v", ids[i], res, err)
		}
	}

	matches, err := c.Query(ctx, "docs", "blue ocean", 2)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(matches))
	}
	if matches[0].ID != StringID("ocean") || matches[0].Metadata["text"] != "blue ocean waves" {
		t.Errorf("unexpected best match: %+v", matches[0])
	}
	if matches[0].Score < matches[1].Score {
		t.Error("matches not sorted by score")
	}
}

func TestClient_Query_Errors(t *testing.T) {
	svc, url := startService(t)
	c := newTestClient(t, url)
	ctx := context.Background()

	if _, err := c.Query(ctx, "docs", "q", 0); !errors.Is(err, ErrInvalidConfiguration) {
		t.Errorf("k=0: expected ErrInvalidConfiguration, got %v", err)
	}
	if n := len(svc.Requests()); n != 0 {
		t.Errorf("invalid k should not spend credits, got %d requests", n)
	}
	if _, err := c.Query(ctx, "docs", "", 3); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("empty text: expected ErrInvalidInput, got %v", err)
	}
	if _, err := c.Query(ctx, "missing", "q", 3); !errors.Is(err, ErrIndexNotFound) {
		t.Errorf("missing index: expected ErrIndexNotFound, got %v", err)
	}
	if _, err := c.AddPoint(ctx, "missing", IntID(1), ColBERT{{1, 0}}, nil); !errors.Is(err, ErrIndexNotFound) {
		t.Errorf("AddPoint on missing index: expected ErrIndexNotFound, got %v", err)
	}
}

func TestClient_QueryCache(t *testing.T) {
	svc, url := startService(t)
	reg := prometheus.NewRegistry()
	c := newTestClient(t, url, WithQueryCache(16), WithPrometheus(reg))
	ctx := context.Background()

	if _, err := c.CreateIndex(ctx, "docs"); err != nil {
		t.Fatal(err)
	}
	for range 3 {
		if _, err := c.Query(ctx, "docs", "cached query", 1); err != nil {
			t.Fatalf("Query: %v", err)
		}
	}
	if n := len(svc.Requests()); n != 1 {
		t.Errorf("expected 1 request with cache, got %d", n)
	}

	obs := c.engine.obs.metrics
	if got := testutil.ToFloat64(obs.cache.WithLabelValues("hit")); got != 2 {
		t.Errorf("cache hits = %v, want 2", got)
	}
	if got := testutil.ToFloat64(obs.operations.WithLabelValues("query", "ok")); got != 3 {
		t.Errorf("query ops = %v, want 3", got)
	}
	if got := testutil.ToFloat64(obs.credits.WithLabelValues("query")); got != 1 {
		t.Errorf("query credits = %v, want 1", got)
	}
}

func TestClient_QueryCacheStore(t *testing.T) {
	svc, url := startService(t)
	store := memoryCache{}
	c := newTestClient(t, url, WithQueryCacheStore(store))

	for range 2 {
		if _, err := c.EmbedText(context.Background(), []string{"a", "b"}, ModeStandard); err != nil {
			t.Fatal(err)
		}
	}
	if n := len(svc.Requests()); n != 1 {
		t.Errorf("expected 1 request, got %d", n)
	}
	if len(store) != 2 {
		t.Errorf("expected 2 cached entries, got %d", len(store))
	}
}

func TestClient_CloseReleasesStore(t *testing.T) {
	_, url := startService(t)
	store := memory.New()
	c, err := New(testKey, WithBaseURL(url), WithVectorStore(store))
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if _, err := store.CreateIndex(context.Background(), "x"); err == nil {
		t.Error("store should be closed")
	}
}

// memoryCache is a minimal CacheStore.
type memoryCache map[string][]byte

func (m memoryCache) Get(_ context.Context, key string) ([]byte, error) {
	v, ok := m[key]
	if !ok {
		return nil, ErrCacheMiss
	}
	return v, nil
}

func (m memoryCache) Set(_ context.Context, key string, value []byte) error {
	m[key] = value
	return nil
}

func TestClient_CreditBudget(t *testing.T) {
	svc, url := startService(t)
	counters := &fakeCounters{values: map[string]int64{}}
	c := newTestClient(t, url, WithCreditBudget(CreditBudget{Daily: 5, Reject: true, Store: counters}))

	_, err := c.EmbedPages(context.Background(), testPages(10), 3, false)
	var be *BatchError
	if !errors.As(err, &be) || !errors.Is(err, ErrBudgetExceeded) {
		t.Fatalf("expected BatchError wrapping ErrBudgetExceeded, got %v", err)
	}
	if be.Batch != 2 || be.CreditsSpent != 6 {
		t.Errorf("BatchError = %+v", be)
	}
	if n := len(svc.Requests()); n != 2 {
		t.Errorf("expected 2 requests before the budget ran out, got %d", n)
	}

	var persisted int64
	for k, v := range counters.values {
		if strings.Contains(k, ":daily:") {
			persisted = v
		}
	}
	if persisted != 6 {
		t.Errorf("persisted daily credits = %d, want 6", persisted)
	}
}

// fakeCounters is a minimal CounterStore.
type fakeCounters struct {
	mu     sync.Mutex
	values map[string]int64
}

func (f *fakeCounters) Get(_ context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.values[key]
	if !ok {
		return nil, ErrCacheMiss
	}
	return []byte(strconv.FormatInt(v, 10)), nil
}

func (f *fakeCounters) IncrBy(_ context.Context, key string, val int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[key] += val
	return nil
}

func (f *fakeCounters) Expire(context.Context, string, time.Duration, bool) error { return nil }
