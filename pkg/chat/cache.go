package chat

import (
	"encoding/json"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	cacheStoreKey   = "vantyx_chat_cache"
	cacheTTL        = 24 * time.Hour
	cacheMaxEntries = 100
)

type cacheEntry struct {
	Question  string `json:"question"`
	Answer    string `json:"answer"`
	Timestamp int64  `json:"timestamp"`
}

// ResponseCache remembers recent answers keyed by the normalized question.
// It is best effort: a corrupt or unavailable backing store behaves as an
// empty cache and never surfaces an error.
type ResponseCache struct {
	store  *LocalStore
	logger *zap.Logger
	now    func() time.Time
}

func NewResponseCache(store *LocalStore, logger *zap.Logger) *ResponseCache {
	return &ResponseCache{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// normalizeQuestion folds case and punctuation so near-identical questions
// share one cache slot.
func normalizeQuestion(q string) string {
	q = strings.ToLower(strings.TrimSpace(q))
	return strings.Map(func(r rune) rune {
		switch r {
		case '?', '.', '!', ',':
			return -1
		}
		return r
	}, q)
}

// Get returns the cached answer for question if present and younger than
// the TTL. Expired matches are only ignored; the next Put sweeps them out.
func (c *ResponseCache) Get(question string) (string, bool) {
	key := normalizeQuestion(question)
	for _, e := range c.load() {
		if normalizeQuestion(e.Question) != key {
			continue
		}
		if c.now().Sub(time.UnixMilli(e.Timestamp)) >= cacheTTL {
			return "", false
		}
		return e.Answer, true
	}
	return "", false
}

// Put stores an answer, dropping expired entries, superseding any entry for
// the same normalized question and keeping only the newest entries.
func (c *ResponseCache) Put(question, answer string) {
	key := normalizeQuestion(question)
	nowMs := c.now().UnixMilli()

	kept := make([]cacheEntry, 0, cacheMaxEntries)
	for _, e := range c.load() {
		if normalizeQuestion(e.Question) == key {
			continue
		}
		if c.now().Sub(time.UnixMilli(e.Timestamp)) >= cacheTTL {
			continue
		}
		kept = append(kept, e)
	}
	kept = append(kept, cacheEntry{Question: question, Answer: answer, Timestamp: nowMs})
	if len(kept) > cacheMaxEntries {
		kept = kept[len(kept)-cacheMaxEntries:]
	}
	c.persist(kept)
}

func (c *ResponseCache) load() []cacheEntry {
	data, ok := c.store.Get(cacheStoreKey)
	if !ok {
		return nil
	}
	var entries []cacheEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		c.logger.Warn("discarding corrupt cache blob", zap.Error(err))
		return nil
	}
	return entries
}

func (c *ResponseCache) persist(entries []cacheEntry) {
	data, err := json.Marshal(entries)
	if err != nil {
		return
	}
	if err := c.store.Set(cacheStoreKey, data); err != nil {
		c.logger.Warn("cache persist failed", zap.Error(err))
	}
}
