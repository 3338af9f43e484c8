// Package request builds validated outbound embedding requests.
package request

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image/png"
	"strings"

	"github.com/midras-ai/midras/internal/domain"
)

// Kind is the payload kind of a request.
type Kind string

// Payload kinds.
const (
	KindImages  Kind = "images"
	KindQueries Kind = "queries"
)

// Service endpoints per payload kind.
const (
	ImagesEndpoint  = "/embed/images"
	QueriesEndpoint = "/embed/queries"
)

// Request is a validated embedding request carrying exactly one payload kind.
type Request struct {
	credential string
	mode       domain.Mode
	images     []string
	queries    []string
}

// wireRequest is the JSON body accepted by the embedding service.
type wireRequest struct {
	Key          string      `json:"key"`
	Mode         domain.Mode `json:"mode"`
	Base64Images []string    `json:"base64images,omitempty"`
	Queries      []string    `json:"queries,omitempty"`
}

// New validates a request built from either images or queries, never both.
func New(credential string, m domain.Mode, images []domain.Image, queries []string) (Request, error) {
	if credential == "" {
		return Request{}, fmt.Errorf("credential is required: %w", domain.ErrInvalidConfiguration)
	}
	switch {
	case len(images) > 0 && len(queries) > 0:
		return Request{}, fmt.Errorf("request mixes images and queries: %w", domain.ErrInvalidInput)
	case len(images) == 0 && len(queries) == 0:
		return Request{}, fmt.Errorf("request has no input units: %w", domain.ErrInvalidInput)
	}

	r := Request{credential: credential, mode: m.OrDefault()}
	if len(images) > 0 {
		encoded, err := EncodeImages(images)
		if err != nil {
			return Request{}, err
		}
		r.images = encoded
		return r, nil
	}

	r.queries = make([]string, len(queries))
	copy(r.queries, queries)
	return r, nil
}

// NewImages builds an image embedding request.
func NewImages(credential string, m domain.Mode, images []domain.Image) (Request, error) {
	if len(images) == 0 {
		return Request{}, fmt.Errorf("no images: %w", domain.ErrInvalidInput)
	}
	return New(credential, m, images, nil)
}

// NewQueries builds a text query embedding request.
func NewQueries(credential string, m domain.Mode, texts []string) (Request, error) {
	if len(texts) == 0 {
		return Request{}, fmt.Errorf("no queries: %w", domain.ErrInvalidInput)
	}
	return New(credential, m, nil, texts)
}

// EncodeImages converts images to base64 PNG, preserving order.
func EncodeImages(images []domain.Image) ([]string, error) {
	out := make([]string, len(images))
	var buf bytes.Buffer
	for i, img := range images {
		if img == nil {
			return nil, fmt.Errorf("image %d is nil: %w", i, domain.ErrInvalidInput)
		}
		buf.Reset()
		if err := png.Encode(&buf, img); err != nil {
			return nil, fmt.Errorf("encode image %d: %w: %w", i, domain.ErrInvalidInput, err)
		}
		out[i] = base64.StdEncoding.EncodeToString(buf.Bytes())
	}
	return out, nil
}

// DecodeImage reverses EncodeImages for a single image.
func DecodeImage(s string) (domain.Image, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode base64: %w", err)
	}
	img, err := png.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode png: %w", err)
	}
	return img, nil
}

// Kind returns the payload kind.
func (r Request) Kind() Kind {
	if len(r.images) > 0 {
		return KindImages
	}
	return KindQueries
}

// Endpoint returns the service path for the payload kind.
func (r Request) Endpoint() string {
	if r.Kind() == KindImages {
		return ImagesEndpoint
	}
	return QueriesEndpoint
}

// Units returns the number of input units in the payload.
func (r Request) Units() int {
	return len(r.images) + len(r.queries)
}

// Mode returns the embedding mode.
func (r Request) Mode() domain.Mode { return r.mode }

// Credential returns the credential sent with the request.
func (r Request) Credential() string { return r.credential }

// Queries returns a copy of the text queries (nil for image requests).
func (r Request) Queries() []string {
	if r.queries == nil {
		return nil
	}
	out := make([]string, len(r.queries))
	copy(out, r.queries)
	return out
}

// Images returns the base64 PNG payload (nil for query requests).
func (r Request) Images() []string {
	if r.images == nil {
		return nil
	}
	out := make([]string, len(r.images))
	copy(out, r.images)
	return out
}

// MarshalJSON encodes the request in the service wire format.
func (r Request) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireRequest{
		Key:          r.credential,
		Mode:         r.mode,
		Base64Images: r.images,
		Queries:      r.queries,
	})
}

// String hides the credential.
func (r Request) String() string {
	return fmt.Sprintf("request{kind=%s mode=%s units=%d key=%s}",
		r.Kind(), r.mode, r.Units(), mask(r.credential))
}

func mask(s string) string {
	if len(s) <= 4 {
		return strings.Repeat("*", len(s))
	}
	return s[:2] + strings.Repeat("*", len(s)-4) + s[len(s)-2:]
}

// Decode parses a service wire body, enforcing the single-payload invariant.
func Decode(data []byte) (Request, error) {
	var w wireRequest
	if err := json.Unmarshal(data, &w); err != nil {
		return Request{}, fmt.Errorf("decode request: %w: %w", domain.ErrInvalidInput, err)
	}
	if w.Key == "" {
		return Request{}, fmt.Errorf("credential is required: %w", domain.ErrInvalidInput)
	}
	switch {
	case len(w.Base64Images) > 0 && len(w.Queries) > 0:
		return Request{}, fmt.Errorf("request mixes images and queries: %w", domain.ErrInvalidInput)
	case len(w.Base64Images) == 0 && len(w.Queries) == 0:
		return Request{}, fmt.Errorf("request has no input units: %w", domain.ErrInvalidInput)
	}
	return Request{
		credential: w.Key,
		mode:       w.Mode.OrDefault(),
		images:     w.Base64Images,
		queries:    w.Queries,
	}, nil
}
