package identity

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/haileyok/plcaudit/plc"
)

type MemCache struct {
	resultCache *expirable.LRU[string, *plc.Result]
}

func NewMemCache(size int, ttl time.Duration) *MemCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	resultCache := expirable.NewLRU[string, *plc.Result](size, nil, ttl)

	return &MemCache{
		resultCache: resultCache,
	}
}

func (mc *MemCache) GetResult(key string) (*plc.Result, bool) {
	return mc.resultCache.Get(key)
}

func (mc *MemCache) PutResult(key string, res *plc.Result) error {
	mc.resultCache.Add(key, res)
	return nil
}

func (mc *MemCache) BustResult(key string) error {
	mc.resultCache.Remove(key)
	return nil
}

func (mc *MemCache) Len() int {
	return mc.resultCache.Len()
}
