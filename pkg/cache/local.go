package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/allegro/bigcache/v3"
)

// LocalCache 进程内缓存，用于热点读路径（如预言机报价）的毫秒级去重。
// TTL 必须远小于业务层的有效性窗口，过期校验仍由业务层负责。
type LocalCache struct {
	cache *bigcache.BigCache
}

// NewLocalCache 创建进程内缓存
func NewLocalCache(ttl time.Duration) (*LocalCache, error) {
	cfg := bigcache.DefaultConfig(ttl)
	cfg.CleanWindow = ttl
	cfg.Verbose = false

	bc, err := bigcache.New(context.Background(), cfg)
	if err != nil {
		return nil, err
	}
	return &LocalCache{cache: bc}, nil
}

// GetJSON 读取并反序列化缓存条目，未命中返回 ErrMiss
func (lc *LocalCache) GetJSON(key string, dest interface{}) error {
	data, err := lc.cache.Get(key)
	if err != nil {
		if errors.Is(err, bigcache.ErrEntryNotFound) {
			return ErrMiss
		}
		return err
	}
	return json.Unmarshal(data, dest)
}

// SetJSON 序列化并写入缓存条目
func (lc *LocalCache) SetJSON(key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return lc.cache.Set(key, data)
}

// Delete 删除缓存条目
func (lc *LocalCache) Delete(key string) {
	_ = lc.cache.Delete(key)
}

// Close 释放缓存资源
func (lc *LocalCache) Close() error {
	return lc.cache.Close()
}
