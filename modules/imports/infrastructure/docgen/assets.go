package docgen

import (
	"context"
	"sync"

	"github.com/go-faster/errors"

	"github.com/fundflow/receipts/modules/imports/infrastructure/blob"
)

// AssetError distinguishes a missing template or font from a per-row
// rendering failure: without the assets no row in the invocation can proceed.
type AssetError struct {
	Err error
}

func (e *AssetError) Error() string {
	return e.Err.Error()
}

func (e *AssetError) Unwrap() error {
	return e.Err
}

// AssetCache holds the receipt template and its font for the life of the
// process. Both are fetched from the object store on first use and never
// mutated afterwards; a failed fetch is retried on the next call rather than
// poisoning the cache.
type AssetCache struct {
	storage     blob.Storage
	templateKey string
	fontKey     string

	mu       sync.Mutex
	template []byte
	font     []byte
}

func NewAssetCache(storage blob.Storage, templateKey, fontKey string) *AssetCache {
	return &AssetCache{
		storage:     storage,
		templateKey: templateKey,
		fontKey:     fontKey,
	}
}

// Load returns the template and font bytes, fetching them at most once.
func (c *AssetCache) Load(ctx context.Context) ([]byte, []byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.template != nil && c.font != nil {
		return c.template, c.font, nil
	}

	template, err := c.storage.Get(ctx, c.templateKey)
	if err != nil {
		return nil, nil, &AssetError{Err: errors.Wrapf(err, "failed to load template %q", c.templateKey)}
	}
	font, err := c.storage.Get(ctx, c.fontKey)
	if err != nil {
		return nil, nil, &AssetError{Err: errors.Wrapf(err, "failed to load font %q", c.fontKey)}
	}

	c.template = template
	c.font = font
	return c.template, c.font, nil
}
