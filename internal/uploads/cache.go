// Package uploads stages extracted document text between an upload request
// and the chat request that consumes it.
//
// Staged text lives in a single bounded in-process cache with a TTL, keyed by
// user and session. One slot per session: a new upload replaces the previous
// one, and the chat handler consumes the slot on use so a document is applied
// to exactly one exchange.
package uploads

import (
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// StagedDocument is extracted document text waiting for the session's next
// chat request.
type StagedDocument struct {
	Filename string    `json:"filename"`
	Text     string    `json:"text"`
	StagedAt time.Time `json:"staged_at"`
}

// Cache holds staged documents with LRU eviction and a TTL.
type Cache struct {
	entries *expirable.LRU[string, StagedDocument]
}

// NewCache creates a staging cache. Entries expire ttl after staging and the
// cache holds at most max entries, evicting the least recently used.
func NewCache(ttl time.Duration, max int) *Cache {
	return &Cache{
		entries: expirable.NewLRU[string, StagedDocument](max, nil, ttl),
	}
}

// Put stages a document for the session, replacing any previous one.
func (c *Cache) Put(userID string, sessionID int, doc StagedDocument) {
	c.entries.Add(stageKey(userID, sessionID), doc)
}

// Take returns the session's staged document and clears the slot. The second
// return is false when nothing is staged or the entry expired.
func (c *Cache) Take(userID string, sessionID int) (StagedDocument, bool) {
	key := stageKey(userID, sessionID)
	doc, ok := c.entries.Get(key)
	if ok {
		c.entries.Remove(key)
	}
	return doc, ok
}

// Peek returns the session's staged document without consuming it.
func (c *Cache) Peek(userID string, sessionID int) (StagedDocument, bool) {
	return c.entries.Get(stageKey(userID, sessionID))
}

// Remove clears the session's staged document without consuming it.
func (c *Cache) Remove(userID string, sessionID int) {
	c.entries.Remove(stageKey(userID, sessionID))
}

// Len returns the number of currently staged documents.
func (c *Cache) Len() int {
	return c.entries.Len()
}

func stageKey(userID string, sessionID int) string {
	return fmt.Sprintf("%s:%d", userID, sessionID)
}
