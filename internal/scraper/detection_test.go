package scraper

import (
	"net/http"
	"testing"
)

func response(status int, body string, headers ...string) *Response {
	h := http.Header{}
	for i := 0; i+1 < len(headers); i += 2 {
		h.Set(headers[i], headers[i+1])
	}
	return &Response{StatusCode: status, Header: h, Body: []byte(body)}
}

func TestDetectChallenge(t *testing.T) {
	cases := []struct {
		name string
		res  *Response
		want string
	}{
		{"plain page", response(200, "OK", "Server", "nginx"), ""},
		{"cloudflare header", response(403, "Access Denied", "Server", "cloudflare"), "Cloudflare"},
		{"cloudflare body", response(503, "<html>... cf-turnstile ...</html>"), "Cloudflare"},
		{"cloudflare needs error status", response(200, "cf-turnstile"), ""},
		{"akamai header", response(403, "", "Server", "AkamaiGHost"), "Akamai"},
		{"akamai body", response(403, "Access Denied... Reference #123.456"), "Akamai"},
		{"datadome header", response(403, "", "X-DataDome", "1"), "DataDome"},
		{"datadome body", response(403, "script src='https://geo.captcha-delivery.com/...'"), "DataDome"},
		{"perimeterx header", response(403, "", "X-Px-Captcha", "required"), "PerimeterX"},
		{"perimeterx body", response(403, "window._pxBlock = true;"), "PerimeterX"},
		{"plain forbidden", response(403, "nope"), ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := DetectChallenge(tc.res, DefaultDetectors()); got != tc.want {
				t.Errorf("DetectChallenge = %q, want %q", got, tc.want)
			}
		})
	}
	if got := DetectChallenge(nil, DefaultDetectors()); got != "" {
		t.Errorf("nil response detected as %q", got)
	}
}

func TestResponse_OK(t *testing.T) {
	res := response(200, "", "Content-Type", "Image/JPEG; charset=binary")
	if !res.OK() {
		t.Error("expected 200 to be OK")
	}
	if ct := res.ContentType(); ct != "image/jpeg" {
		t.Errorf("ContentType = %q", ct)
	}
	res.Challenge = "Cloudflare"
	if res.OK() {
		t.Error("challenge page must not be OK")
	}
}
