package media

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Cache holds recently decoded clips keyed by item and track kind so
// replaying an item does not re-decode its data URIs.
type Cache struct {
	clips *lru.Cache[string, Clip]
}

func NewCache(size int) (*Cache, error) {
	clips, err := lru.New[string, Clip](size)
	if err != nil {
		return nil, fmt.Errorf("create clip cache: %w", err)
	}
	return &Cache{clips: clips}, nil
}

// Resolve returns the cached clip for (itemID, kind) or decodes ref and
// caches the result.
func (c *Cache) Resolve(itemID int64, kind, ref string) (Clip, error) {
	key := fmt.Sprintf("%d/%s", itemID, kind)
	if clip, ok := c.clips.Get(key); ok {
		return clip, nil
	}
	clip, err := DecodeRef(ref)
	if err != nil {
		return Clip{}, err
	}
	c.clips.Add(key, clip)
	return clip, nil
}

// Len reports the number of cached clips.
func (c *Cache) Len() int { return c.clips.Len() }
