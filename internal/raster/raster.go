// Package raster turns PDF documents into page images.
package raster

import (
	"bytes"
	"context"
	"fmt"
	"image/png"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/midras-ai/midras/internal/domain"
)

// Defaults match pdf2image.
const (
	DefaultBinary = "pdftoppm"
	DefaultDPI    = 200

	pagePrefix = "page"
)

// Rasterizer renders every page of a PDF, in page order.
type Rasterizer interface {
	Rasterize(ctx context.Context, path string) ([]domain.Image, error)
}

// Poppler shells out to pdftoppm.
type Poppler struct {
	binary string
	dpi    int
	logger *zap.Logger
}

// NewPoppler creates a Poppler rasterizer; empty values take the defaults.
func NewPoppler(binary string, dpi int, logger *zap.Logger) *Poppler {
	if binary == "" {
		binary = DefaultBinary
	}
	if dpi <= 0 {
		dpi = DefaultDPI
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poppler{binary: binary, dpi: dpi, logger: logger}
}

// Rasterize renders path to PNG pages in a temporary directory and decodes them.
// A document without pages yields an empty, non-nil slice.
func (p *Poppler) Rasterize(ctx context.Context, path string) ([]domain.Image, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("rasterize: %w", err)
	}

	dir, err := os.MkdirTemp("", "midras-raster-")
	if err != nil {
		return nil, fmt.Errorf("rasterize %s: %w", path, err)
	}
	defer os.RemoveAll(dir)

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, p.binary,
		"-png", "-r", strconv.Itoa(p.dpi), path, filepath.Join(dir, pagePrefix))
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("rasterize %s: %w: %s", path, err, msg)
		}
		return nil, fmt.Errorf("rasterize %s: %w", path, err)
	}

	files, err := pageFiles(dir)
	if err != nil {
		return nil, fmt.Errorf("rasterize %s: %w", path, err)
	}
	pages := make([]domain.Image, 0, len(files))
	for _, f := range files {
		img, err := decodePNG(f)
		if err != nil {
			return nil, fmt.Errorf("rasterize %s: %w", path, err)
		}
		pages = append(pages, img)
	}

	p.logger.Debug("Rasterized document",
		zap.String("path", path),
		zap.Int("pages", len(pages)),
		zap.Int("dpi", p.dpi),
	)
	return pages, nil
}

// pageFiles lists page-N.png files sorted by N. pdftoppm zero-pads N to
// the width of the page count, so lexical order is not enough.
func pageFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	type page struct {
		n    int
		path string
	}
	var pages []page
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, pagePrefix+"-") || !strings.HasSuffix(name, ".png") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, pagePrefix+"-"), ".png"))
		if err != nil {
			continue
		}
		pages = append(pages, page{n: n, path: filepath.Join(dir, name)})
	}
	slices.SortFunc(pages, func(a, b page) int { return a.n - b.n })

	out := make([]string, len(pages))
	for i, pg := range pages {
		out[i] = pg.path
	}
	return out, nil
}

func decodePNG(path string) (domain.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return img, nil
}
