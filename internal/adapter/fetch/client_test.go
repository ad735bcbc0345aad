package fetch

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/hive-discover/clip-api/internal/domain"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 80, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestFetchDecodesAndFits(t *testing.T) {
	data := pngBytes(t, 200, 100)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(data)
	}))
	defer ts.Close()

	c := NewClient(5*time.Second, 0, 50, 50, zerolog.Nop())
	img, err := c.Fetch(context.Background(), ts.URL+"/img")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b := img.Bounds()
	if b.Dx() != 50 || b.Dy() != 25 {
		t.Errorf("expected fit to 50x25, got %dx%d", b.Dx(), b.Dy())
	}
}

func TestFetchStatusIsSoftFailure(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ts.Close()

	c := NewClient(5*time.Second, 0, 1024, 1024, zerolog.Nop())
	img, err := c.Fetch(context.Background(), ts.URL)
	if img != nil {
		t.Error("expected no image")
	}
	if !errors.Is(err, domain.ErrNoImage) {
		t.Errorf("expected ErrNoImage, got %v", err)
	}
}

func TestFetchDecodeFailureIsSoftFailure(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>not an image</html>"))
	}))
	defer ts.Close()

	c := NewClient(5*time.Second, 0, 1024, 1024, zerolog.Nop())
	if _, err := c.Fetch(context.Background(), ts.URL); !errors.Is(err, domain.ErrNoImage) {
		t.Errorf("expected ErrNoImage, got %v", err)
	}
}

func TestFetchUnreachableIsSoftFailure(t *testing.T) {
	c := NewClient(time.Second, 10, 1024, 1024, zerolog.Nop())
	if _, err := c.Fetch(context.Background(), "http://127.0.0.1:1/none"); !errors.Is(err, domain.ErrNoImage) {
		t.Errorf("expected ErrNoImage, got %v", err)
	}
}
