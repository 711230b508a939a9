package scraper

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/FranksOps/maestro/internal/fingerprint"
	"github.com/FranksOps/maestro/pkg/ratelimit"
)

func TestFetcher_Success(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") != "TestBrowser/1.0" {
			t.Errorf("expected configured User-Agent, got %q", r.Header.Get("User-Agent"))
		}
		w.Header().Set("X-Test", "true")
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("ok"))
	}))
	defer ts.Close()

	fetcher, err := NewFetcher(FetchConfig{
		Timeout:     5 * time.Second,
		Fingerprint: fingerprint.ProfileGo,
		UserAgent:   "TestBrowser/1.0",
		Limiter:     ratelimit.NewKeyed(100, 0),
	})
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}

	res, err := fetcher.Fetch(context.Background(), ts.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.OK() {
		t.Errorf("expected OK response, got %d", res.StatusCode)
	}
	if string(res.Body) != "ok" {
		t.Errorf("expected body 'ok', got %s", string(res.Body))
	}
	if res.Header.Get("X-Test") != "true" {
		t.Errorf("expected X-Test header 'true', got %v", res.Header.Get("X-Test"))
	}
	if res.ContentType() != "image/png" {
		t.Errorf("unexpected content type %q", res.ContentType())
	}
	if res.Duration == 0 {
		t.Errorf("expected non-zero duration")
	}
}

func TestFetcher_Timeout(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	fetcher, _ := NewFetcher(FetchConfig{Timeout: 10 * time.Millisecond})

	if _, err := fetcher.Fetch(context.Background(), ts.URL); err == nil {
		t.Fatal("expected timeout error")
	}
}

func TestFetcher_BodyLimit(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(make([]byte, 64))
	}))
	defer ts.Close()

	fetcher, _ := NewFetcher(FetchConfig{MaxBodyBytes: 16})
	_, err := fetcher.Fetch(context.Background(), ts.URL)
	if !errors.Is(err, ErrBodyTooLarge) {
		t.Fatalf("expected ErrBodyTooLarge, got %v", err)
	}
}

func TestFetcher_RejectsScheme(t *testing.T) {
	fetcher, _ := NewFetcher(FetchConfig{})
	if _, err := fetcher.Fetch(context.Background(), "file:///etc/passwd"); err == nil {
		t.Fatal("expected error for file scheme")
	}
}

func TestFetcher_Challenge(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", "cloudflare")
		w.WriteHeader(http.StatusForbidden)
	}))
	defer ts.Close()

	fetcher, _ := NewFetcher(FetchConfig{})
	res, err := fetcher.Fetch(context.Background(), ts.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Challenge != "Cloudflare" || res.OK() {
		t.Errorf("expected Cloudflare challenge, got %q", res.Challenge)
	}
}
