// utils/r2.go
package utils

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// PreviewURLer turns a stored preview object key into a URL a browser can load.
type PreviewURLer interface {
	PreviewURL(ctx context.Context, key string) (string, error)
}

type R2Options struct {
	AccountID       string
	AccessKeyID     string
	AccessKeySecret string
	Bucket          string
	CDNBaseURL      string
	PresignTTL      time.Duration
}

// R2Previews serves design previews out of a Cloudflare R2 bucket. With a CDN
// base URL the objects are public and URLs are joined directly; otherwise each
// URL is a short-lived presigned GET.
type R2Previews struct {
	presign    *s3.PresignClient
	bucket     string
	cdnBaseURL string
	ttl        time.Duration
}

func NewR2Previews(ctx context.Context, opts R2Options) (*R2Previews, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("r2 bucket is required")
	}

	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion("auto"),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			opts.AccessKeyID, opts.AccessKeySecret, "",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load R2 config: %w", err)
	}

	endpoint := fmt.Sprintf("https://%s.r2.cloudflarestorage.com", opts.AccountID)
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
		o.UsePathStyle = true
	})

	ttl := opts.PresignTTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}

	return &R2Previews{
		presign:    s3.NewPresignClient(client),
		bucket:     opts.Bucket,
		cdnBaseURL: strings.TrimRight(opts.CDNBaseURL, "/"),
		ttl:        ttl,
	}, nil
}

func (r *R2Previews) PreviewURL(ctx context.Context, key string) (string, error) {
	if key == "" {
		return "", nil
	}
	if r.cdnBaseURL != "" {
		return fmt.Sprintf("%s/%s", r.cdnBaseURL, strings.TrimLeft(key, "/")), nil
	}

	req, err := r.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(r.ttl))
	if err != nil {
		return "", fmt.Errorf("failed to presign preview %s: %w", key, err)
	}
	return req.URL, nil
}

// StaticPreviews joins keys onto a fixed base URL; used when R2 is not configured.
type StaticPreviews struct {
	BaseURL string
}

func (s StaticPreviews) PreviewURL(_ context.Context, key string) (string, error) {
	if key == "" {
		return "", nil
	}
	if s.BaseURL == "" {
		return key, nil
	}
	return strings.TrimRight(s.BaseURL, "/") + "/" + strings.TrimLeft(key, "/"), nil
}
