package apitest

import (
	"context"
	"errors"
	"image"
	"net/http"
	"testing"

	"github.com/midras-ai/midras/internal/domain"
	"github.com/midras-ai/midras/internal/domain/request"
	"github.com/midras-ai/midras/internal/transport/api"
)

func solid(c uint8) domain.Image {
	img := image.NewGray(image.Rect(0, 0, 2, 2))
	for i := range img.Pix {
		img.Pix[i] = c
	}
	return img
}

func TestServer_QueriesRoundTrip(t *testing.T) {
	srv, ts := Start(WithDims(4))
	defer ts.Close()
	client := api.NewClient(&api.Config{BaseURL: ts.URL})

	req, _ := request.NewQueries("k", "", []string{"Hello world", "hello"})
	resp, err := client.Embed(context.Background(), req)
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	if resp.CreditsSpent != 2*CreditsPerUnit {
		t.Errorf("CreditsSpent = %d", resp.CreditsSpent)
	}
	if len(resp.Embeddings[0]) != 2 || len(resp.Embeddings[1]) != 1 {
		t.Fatalf("expected one row per token, got %d and %d rows",
			len(resp.Embeddings[0]), len(resp.Embeddings[1]))
	}
	if resp.Embeddings[0][0][0] != resp.Embeddings[1][0][0] {
		t.Error("same token must embed identically")
	}

	got := srv.Requests()
	if len(got) != 1 || got[0].Endpoint != request.QueriesEndpoint || got[0].Units != 2 {
		t.Errorf("unexpected recorded requests: %+v", got)
	}
}

func TestServer_ImagesDeterministic(t *testing.T) {
	_, ts := Start()
	defer ts.Close()
	client := api.NewClient(&api.Config{BaseURL: ts.URL})

	imgs := []domain.Image{solid(1), solid(200), solid(1)}
	req, _ := request.NewImages("k", "", imgs)
	resp, err := client.Embed(context.Background(), req)
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	if len(resp.Embeddings) != 3 || len(resp.Embeddings[0]) != ImageRows {
		t.Fatalf("unexpected embeddings shape")
	}

	want, err := ImageEmbedding(imgs[0], DefaultDims)
	if err != nil {
		t.Fatalf("ImageEmbedding: %v", err)
	}
	if resp.Embeddings[0][0][0] != want[0][0] || resp.Embeddings[2][0][0] != want[0][0] {
		t.Error("identical images must embed identically")
	}
	if resp.Embeddings[1][0][0] == want[0][0] {
		t.Error("different images should embed differently")
	}
}

func TestServer_FailNextAndKeys(t *testing.T) {
	srv, ts := Start(WithKeys("good"))
	defer ts.Close()
	client := api.NewClient(&api.Config{BaseURL: ts.URL})

	bad, _ := request.NewQueries("bad", "", []string{"q"})
	if _, err := client.Embed(context.Background(), bad); !errors.Is(err, domain.ErrRequestRejected) {
		t.Fatalf("expected rejection for unknown key, got %v", err)
	}

	srv.FailNext(request.QueriesEndpoint, http.StatusInternalServerError, `{"detail":"boom"}`)
	good, _ := request.NewQueries("good", "", []string{"q"})
	if _, err := client.Embed(context.Background(), good); !errors.Is(err, domain.ErrService) {
		t.Fatalf("expected service error, got %v", err)
	}
	if _, err := client.Embed(context.Background(), good); err != nil {
		t.Fatalf("failure must only apply once: %v", err)
	}
}

func TestQueryEmbedding_Normalized(t *testing.T) {
	emb := QueryEmbedding("alpha", 16)
	var norm float64
	for _, v := range emb[0] {
		norm += float64(v) * float64(v)
	}
	if norm < 0.999 || norm > 1.001 {
		t.Errorf("row norm^2 = %f, want 1", norm)
	}
}
