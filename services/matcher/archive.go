package matcher

import (
	"context"
	"errors"
	"path"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"

	"slsdispatch/pkg/s3"
	"slsdispatch/services/naming"
)

const listingKey = "listing"

// ObjectLister lists bucket keys.
type ObjectLister interface {
	ListObjects(ctx context.Context, bucket, prefix string) ([]s3.Object, error)
}

// Archive serves the design archive stored in an S3 bucket. It implements both
// Corpus and Searcher. Listings are cached briefly since the archive changes
// slowly and searches issue several queries per order.
type Archive struct {
	lister ObjectLister
	bucket string
	prefix string
	cache  *cache.Cache
}

// NewArchive returns an Archive over bucket/prefix with listings cached for ttl.
func NewArchive(lister ObjectLister, bucket, prefix string, ttl time.Duration) (*Archive, error) {
	if lister == nil {
		return nil, errors.New("object lister is required")
	}
	if bucket == "" {
		return nil, errors.New("bucket is required")
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Archive{
		lister: lister,
		bucket: bucket,
		prefix: prefix,
		cache:  cache.New(ttl, 2*ttl),
	}, nil
}

// Entries implements Corpus.
func (a *Archive) Entries(ctx context.Context) ([]Entry, error) {
	if v, ok := a.cache.Get(listingKey); ok {
		return v.([]Entry), nil
	}

	objects, err := a.lister.ListObjects(ctx, a.bucket, a.prefix)
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(objects))
	for _, o := range objects {
		name := path.Base(o.Key)
		if !strings.EqualFold(path.Ext(name), naming.Extension) {
			continue
		}
		entries = append(entries, Entry{Filename: name, Path: o.Key, Size: o.Size})
	}
	a.cache.SetDefault(listingKey, entries)
	return entries, nil
}

// Search implements Searcher with a case-insensitive substring match on the
// file name.
func (a *Archive) Search(ctx context.Context, query string) ([]Entry, error) {
	q := strings.ToLower(naming.StripExtension(strings.TrimSpace(query)))
	if q == "" {
		return nil, nil
	}
	entries, err := a.Entries(ctx)
	if err != nil {
		return nil, err
	}
	var out []Entry
	for _, e := range entries {
		if strings.Contains(strings.ToLower(e.Filename), q) {
			out = append(out, e)
		}
	}
	return out, nil
}

// Invalidate drops the cached listing.
func (a *Archive) Invalidate() {
	a.cache.Delete(listingKey)
}
