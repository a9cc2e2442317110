package commands

import (
	"time"
)

type CacheItem struct {
	Text       string
	Expiration time.Time
}

var quoteCache = make(map[string]*CacheItem)

func cacheGet(query string) (*CacheItem, bool) {
	if item, found := quoteCache[query]; found && time.Now().Before(item.Expiration) {
		return item, true
	}
	return nil, false
}

func cacheSet(query string, text string, duration time.Duration) {
	quoteCache[query] = &CacheItem{
		Text:       text,
		Expiration: time.Now().Add(duration),
	}
}
