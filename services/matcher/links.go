package matcher

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
)

// DefaultLinkTTL is how long generated download links stay valid.
const DefaultLinkTTL = 4 * time.Hour

// LinkResolver produces a temporary download link for an archive path.
type LinkResolver interface {
	TempLink(ctx context.Context, path string) (string, error)
}

// Presigner signs GET requests.
type Presigner interface {
	PresignGet(ctx context.Context, bucket, key string, ttl time.Duration) (string, error)
}

// PresignedLinks resolves links with S3 presigned URLs and reuses them while
// they still have at least a quarter of their lifetime left.
type PresignedLinks struct {
	presigner Presigner
	bucket    string
	ttl       time.Duration
	cache     *cache.Cache
}

// NewPresignedLinks returns a PresignedLinks for bucket.
func NewPresignedLinks(p Presigner, bucket string, ttl time.Duration) (*PresignedLinks, error) {
	if p == nil {
		return nil, errors.New("presigner is required")
	}
	if bucket == "" {
		return nil, errors.New("bucket is required")
	}
	if ttl <= 0 {
		ttl = DefaultLinkTTL
	}
	reuse := ttl * 3 / 4
	return &PresignedLinks{
		presigner: p,
		bucket:    bucket,
		ttl:       ttl,
		cache:     cache.New(reuse, reuse),
	}, nil
}

// TempLink implements LinkResolver.
func (l *PresignedLinks) TempLink(ctx context.Context, path string) (string, error) {
	key := strings.TrimPrefix(path, "/")
	if v, ok := l.cache.Get(key); ok {
		return v.(string), nil
	}
	url, err := l.presigner.PresignGet(ctx, l.bucket, key, l.ttl)
	if err != nil {
		return "", err
	}
	l.cache.SetDefault(key, url)
	return url, nil
}
