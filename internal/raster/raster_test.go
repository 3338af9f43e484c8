package raster

import (
	"context"
	"errors"
	"image"
	"image/png"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"
)

func writePNG(t *testing.T, path string, width int) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()
	if err := png.Encode(f, image.NewGray(image.Rect(0, 0, width, 1))); err != nil {
		t.Fatalf("encode %s: %v", path, err)
	}
}

func TestPageFiles_NumericOrder(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"page-10.png", "page-2.png", "page-1.png", "notes.txt", "page-x.png"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o600); err != nil {
			t.Fatal(err)
		}
	}
	files, err := pageFiles(dir)
	if err != nil {
		t.Fatalf("pageFiles: %v", err)
	}
	want := []string{"page-1.png", "page-2.png", "page-10.png"}
	if len(files) != len(want) {
		t.Fatalf("files = %v", files)
	}
	for i := range want {
		if filepath.Base(files[i]) != want[i] {
			t.Errorf("file %d = %s, want %s", i, filepath.Base(files[i]), want[i])
		}
	}
}

func TestRasterize_MissingDocument(t *testing.T) {
	_, err := NewPoppler("", 0, nil).Rasterize(context.Background(), filepath.Join(t.TempDir(), "missing.pdf"))
	if !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected fs.ErrNotExist, got %v", err)
	}
}

func TestRasterize_MissingBinary(t *testing.T) {
	doc := filepath.Join(t.TempDir(), "doc.pdf")
	if err := os.WriteFile(doc, []byte("%PDF-1.4"), 0o600); err != nil {
		t.Fatal(err)
	}
	_, err := NewPoppler("midras-no-such-binary", 0, nil).Rasterize(context.Background(), doc)
	if !errors.Is(err, exec.ErrNotFound) {
		t.Fatalf("expected exec.ErrNotFound, got %v", err)
	}
}

// fakePoppler writes a script that copies pre-rendered pages next to the
// output prefix it receives, the way pdftoppm would.
func fakePoppler(t *testing.T, src string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script fake")
	}
	bin := filepath.Join(t.TempDir(), "pdftoppm")
	script := "#!/bin/sh\n" +
		"[ \"$1\" = \"-png\" ] || exit 2\n" +
		"cp \"" + src + "\"/* \"$(dirname \"$5\")\"/ 2>/dev/null\n" +
		"exit 0\n"
	if err := os.WriteFile(bin, []byte(script), 0o700); err != nil {
		t.Fatal(err)
	}
	return bin
}

func TestRasterize_PageOrder(t *testing.T) {
	src := t.TempDir()
	// widths encode the page number
	writePNG(t, filepath.Join(src, "page-01.png"), 1)
	writePNG(t, filepath.Join(src, "page-02.png"), 2)
	writePNG(t, filepath.Join(src, "page-10.png"), 10)

	doc := filepath.Join(t.TempDir(), "doc.pdf")
	if err := os.WriteFile(doc, []byte("%PDF-1.4"), 0o600); err != nil {
		t.Fatal(err)
	}

	pages, err := NewPoppler(fakePoppler(t, src), 72, nil).Rasterize(context.Background(), doc)
	if err != nil {
		t.Fatalf("Rasterize: %v", err)
	}
	if len(pages) != 3 {
		t.Fatalf("expected 3 pages, got %d", len(pages))
	}
	for i, want := range []int{1, 2, 10} {
		if got := pages[i].Bounds().Dx(); got != want {
			t.Errorf("page %d width = %d, want %d", i, got, want)
		}
	}
}

func TestRasterize_ZeroPages(t *testing.T) {
	doc := filepath.Join(t.TempDir(), "empty.pdf")
	if err := os.WriteFile(doc, []byte("%PDF-1.4"), 0o600); err != nil {
		t.Fatal(err)
	}
	pages, err := NewPoppler(fakePoppler(t, t.TempDir()), 0, nil).Rasterize(context.Background(), doc)
	if err != nil {
		t.Fatalf("Rasterize: %v", err)
	}
	if pages == nil || len(pages) != 0 {
		t.Fatalf("expected empty non-nil pages, got %v", pages)
	}
}
