package utils

import (
	"context"
	"net/url"
	"strings"
	"testing"
	"time"
)

func TestStaticPreviews(t *testing.T) {
	p := StaticPreviews{BaseURL: "https://cdn.example.com/"}

	got, err := p.PreviewURL(context.Background(), "/previews/abc.png")
	if err != nil {
		t.Fatalf("PreviewURL: %v", err)
	}
	if got != "https://cdn.example.com/previews/abc.png" {
		t.Errorf("got %q", got)
	}

	if got, _ := p.PreviewURL(context.Background(), ""); got != "" {
		t.Errorf("empty key should give empty URL, got %q", got)
	}
}

func TestR2Previews_CDN(t *testing.T) {
	p, err := NewR2Previews(context.Background(), R2Options{
		AccountID:       "acct",
		AccessKeyID:     "key",
		AccessKeySecret: "secret",
		Bucket:          "designs",
		CDNBaseURL:      "https://img.example.com",
	})
	if err != nil {
		t.Fatalf("NewR2Previews: %v", err)
	}

	got, err := p.PreviewURL(context.Background(), "previews/abc.png")
	if err != nil {
		t.Fatalf("PreviewURL: %v", err)
	}
	if got != "https://img.example.com/previews/abc.png" {
		t.Errorf("got %q", got)
	}
}

func TestR2Previews_Presigned(t *testing.T) {
	p, err := NewR2Previews(context.Background(), R2Options{
		AccountID:       "acct",
		AccessKeyID:     "key",
		AccessKeySecret: "secret",
		Bucket:          "designs",
		PresignTTL:      5 * time.Minute,
	})
	if err != nil {
		t.Fatalf("NewR2Previews: %v", err)
	}

	got, err := p.PreviewURL(context.Background(), "previews/abc.png")
	if err != nil {
		t.Fatalf("PreviewURL: %v", err)
	}
	u, err := url.Parse(got)
	if err != nil {
		t.Fatalf("parse presigned url: %v", err)
	}
	if u.Host != "acct.r2.cloudflarestorage.com" {
		t.Errorf("host = %q", u.Host)
	}
	if !strings.HasSuffix(u.Path, "/designs/previews/abc.png") {
		t.Errorf("path = %q", u.Path)
	}
	if u.Query().Get("X-Amz-Expires") != "300" {
		t.Errorf("expires = %q, want 300", u.Query().Get("X-Amz-Expires"))
	}
}

func TestNewR2Previews_RequiresBucket(t *testing.T) {
	if _, err := NewR2Previews(context.Background(), R2Options{AccountID: "acct"}); err == nil {
		t.Fatal("expected error without bucket")
	}
}
