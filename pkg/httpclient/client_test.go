package httpclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func get(t *testing.T, c *Client, ctx context.Context, url string) (*http.Response, error) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := c.Do(ctx, req)
	if err == nil {
		t.Cleanup(func() { _ = resp.Body.Close() })
	}
	return resp, err
}

func TestClient_SlowSearchAPI(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
	}))
	defer ts.Close()

	client, err := New(Config{Timeout: 10 * time.Millisecond})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	_, err = get(t, client, context.Background(), ts.URL)
	if got := Classify(err); got != FailureTimeout {
		t.Errorf("Classify() = %q, want timeout (%v)", got, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := get(t, client, ctx, ts.URL); err == nil {
		t.Error("expected a canceled context to abort the request")
	}
	req, _ := http.NewRequest(http.MethodGet, ts.URL, nil)
	if _, err := client.Do(nil, req); err == nil {
		t.Error("expected an error for a nil context")
	}
}

func TestClient_RedirectPolicy(t *testing.T) {
	// /hop/3 redirects to /hop/2, and so on down to /hop/0.
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/hop/3":
			http.Redirect(w, r, "/hop/2", http.StatusFound)
		case "/hop/2":
			http.Redirect(w, r, "/hop/1", http.StatusFound)
		case "/hop/1":
			http.Redirect(w, r, "/hop/0", http.StatusFound)
		default:
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer ts.Close()

	tests := []struct {
		name         string
		maxRedirects int
		wantStatus   int
		wantFailure  Failure
	}{
		{"default follows", 0, http.StatusOK, FailureNone},
		{"limit exceeded", 1, 0, FailureRedirects},
		{"disabled", -1, http.StatusFound, FailureNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := New(Config{MaxRedirects: tt.maxRedirects})
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			resp, err := get(t, client, context.Background(), ts.URL+"/hop/3")
			if got := Classify(err); got != tt.wantFailure {
				t.Fatalf("Classify() = %q, want %q (%v)", got, tt.wantFailure, err)
			}
			if tt.wantFailure == FailureRedirects && !errors.Is(err, ErrTooManyRedirects) {
				t.Errorf("expected ErrTooManyRedirects, got %v", err)
			}
			if err == nil && resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
		})
	}
}

func TestClient_CookieJarAndDefaultAgent(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") != DefaultUserAgent {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if r.URL.Path == "/consent" {
			http.SetCookie(w, &http.Cookie{Name: "consent", Value: "yes"})
			return
		}
		if c, err := r.Cookie("consent"); err != nil || c.Value != "yes" {
			w.WriteHeader(http.StatusForbidden)
		}
	}))
	defer ts.Close()

	for _, jar := range []bool{true, false} {
		client, err := New(Config{UseCookieJar: jar})
		if err != nil {
			t.Fatalf("New() error = %v", err)
		}
		if _, err := get(t, client, context.Background(), ts.URL+"/consent"); err != nil {
			t.Fatalf("consent: %v", err)
		}
		resp, err := get(t, client, context.Background(), ts.URL+"/gallery")
		if err != nil {
			t.Fatalf("gallery: %v", err)
		}
		want := http.StatusForbidden
		if jar {
			want = http.StatusOK
		}
		if resp.StatusCode != want {
			t.Errorf("cookie jar %v: status = %d, want %d", jar, resp.StatusCode, want)
		}
	}
}

func TestClient_UserAgentAndStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") != "test-agent" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	client, err := New(Config{UserAgent: "test-agent"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	req, _ := http.NewRequest(http.MethodGet, ts.URL, nil)
	resp, err := client.Do(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()

	err = CheckStatus(resp)
	var se *StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 StatusError, got %v", err)
	}
	if got := Classify(err); got != FailureStatus {
		t.Errorf("expected status failure, got %q", got)
	}
}

func TestClassify_Connection(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	client, _ := New(Config{Timeout: time.Second})
	req, _ := http.NewRequest(http.MethodGet, url, nil)
	_, err := client.Do(context.Background(), req)
	if got := Classify(err); got != FailureConnection {
		t.Errorf("expected connection failure, got %q (%v)", got, err)
	}
	if got := Classify(nil); got != FailureNone {
		t.Errorf("expected no failure for nil, got %q", got)
	}
}
