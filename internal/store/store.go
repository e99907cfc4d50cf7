// Package store persists monitored items and their statistics as a JSON
// document, and mirrors a reduced projection into the legacy config file for
// the older collaborator that only understands that schema.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("monitored item not found")

// Stats is the mutable statistics block of a monitored item. It is updated
// incrementally by the monitor and executor, never recomputed.
type Stats struct {
	CommentsSeen  int      `json:"comments_seen"`
	Replies       int      `json:"replies"`
	DMs           int      `json:"dms"`
	CommentUsers  []string `json:"comment_users,omitempty"`
	DMUsers       []string `json:"dm_users,omitempty"`
	TotalComments int      `json:"total_comments_actual,omitempty"`
}

// Item is a monitored post: a source URL watched for keyword-matching
// comments, with the DM template sent on a match.
type Item struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	URL       string    `json:"url"`
	PostID    string    `json:"post_id,omitempty"`
	Keywords  []string  `json:"keywords"`
	Message   string    `json:"message"`
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
	Stats     Stats     `json:"stats"`
}

type legacyPost struct {
	URL      string   `json:"url"`
	Keywords []string `json:"keywords"`
	Message  string   `json:"message"`
	PostID   string   `json:"post_id,omitempty"`
}

// Store owns the monitored-items file. Every mutation persists the items and
// rewrites the legacy mirror before returning.
type Store struct {
	path       string
	legacyPath string

	mu    sync.Mutex
	items []Item
}

func New(path, legacyPath string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("store path is required")
	}
	s := &Store{path: filepath.Clean(path), legacyPath: strings.TrimSpace(legacyPath)}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	body, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read items store: %w", err)
	}
	var items []Item
	if err := json.Unmarshal(body, &items); err != nil {
		return fmt.Errorf("unmarshal items store: %w", err)
	}
	s.items = items
	return nil
}

// Add creates a new monitored item, enabled by default.
func (s *Store) Add(name, url, message string, keywords []string) (Item, error) {
	name = strings.TrimSpace(name)
	url = strings.TrimSpace(url)
	if name == "" {
		return Item{}, errors.New("name is required")
	}
	if url == "" {
		return Item{}, errors.New("url is required")
	}
	if len(keywords) == 0 {
		return Item{}, errors.New("at least one keyword is required")
	}
	if strings.TrimSpace(message) == "" {
		return Item{}, errors.New("message is required")
	}

	item := Item{
		ID:        uuid.NewString(),
		Name:      name,
		URL:       url,
		Keywords:  cleanKeywords(keywords),
		Message:   strings.TrimSpace(message),
		Enabled:   true,
		CreatedAt: time.Now().UTC(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, item)
	if err := s.persistLocked(); err != nil {
		return Item{}, err
	}
	return item, nil
}

// List returns a copy of all items in insertion order.
func (s *Store) List() []Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyItems(s.items)
}

// Active returns the enabled items only.
func (s *Store) Active() []Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Item, 0, len(s.items))
	for _, item := range s.items {
		if item.Enabled {
			out = append(out, cloneItem(item))
		}
	}
	return out
}

func (s *Store) Get(id string) (Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, item := range s.items {
		if item.ID == id {
			return cloneItem(item), nil
		}
	}
	return Item{}, ErrNotFound
}

// Update applies fn to the item and persists the result.
func (s *Store) Update(id string, fn func(*Item)) (Item, error) {
	if fn == nil {
		return Item{}, errors.New("update fn is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.items {
		if s.items[i].ID != id {
			continue
		}
		fn(&s.items[i])
		if err := s.persistLocked(); err != nil {
			return Item{}, err
		}
		return cloneItem(s.items[i]), nil
	}
	return Item{}, ErrNotFound
}

// Toggle flips the enabled flag and returns the new state.
func (s *Store) Toggle(id string) (bool, error) {
	item, err := s.Update(id, func(it *Item) { it.Enabled = !it.Enabled })
	if err != nil {
		return false, err
	}
	return item.Enabled, nil
}

func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.items {
		if s.items[i].ID != id {
			continue
		}
		s.items = append(s.items[:i], s.items[i+1:]...)
		return s.persistLocked()
	}
	return ErrNotFound
}

// SetPostID persists the resolved platform-native post id.
func (s *Store) SetPostID(id, postID string) error {
	_, err := s.Update(id, func(it *Item) { it.PostID = strings.TrimSpace(postID) })
	return err
}

// RecordCommentSeen counts a newly observed comment and its author.
func (s *Store) RecordCommentSeen(id, username string) error {
	_, err := s.Update(id, func(it *Item) {
		it.Stats.CommentsSeen++
		it.Stats.CommentUsers = appendUnique(it.Stats.CommentUsers, username)
	})
	return err
}

// RecordDM counts a sent DM and its recipient.
func (s *Store) RecordDM(id, username string) error {
	_, err := s.Update(id, func(it *Item) {
		it.Stats.DMs++
		it.Stats.DMUsers = appendUnique(it.Stats.DMUsers, username)
	})
	return err
}

// RecordReply counts a sent public reply.
func (s *Store) RecordReply(id string) error {
	_, err := s.Update(id, func(it *Item) { it.Stats.Replies++ })
	return err
}

// SetTotalComments records the platform's actual comment count for display.
func (s *Store) SetTotalComments(id string, total int) error {
	_, err := s.Update(id, func(it *Item) { it.Stats.TotalComments = total })
	return err
}

// SyncLegacy rewrites the legacy mirror from the current items. Mutations do
// this automatically; the monitor also calls it at the end of each cycle.
func (s *Store) SyncLegacy() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.syncLegacyLocked()
}

func (s *Store) persistLocked() error {
	body, err := json.MarshalIndent(s.items, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal items store: %w", err)
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create items store directory: %w", err)
		}
	}
	if err := os.WriteFile(s.path, body, 0o644); err != nil {
		return fmt.Errorf("write items store: %w", err)
	}
	return s.syncLegacyLocked()
}

// syncLegacyLocked projects enabled items into the legacy config document,
// preserving any unrelated keys the older collaborator keeps there.
func (s *Store) syncLegacyLocked() error {
	if s.legacyPath == "" {
		return nil
	}

	doc := map[string]json.RawMessage{}
	if body, err := os.ReadFile(s.legacyPath); err == nil {
		if err := json.Unmarshal(body, &doc); err != nil {
			doc = map[string]json.RawMessage{}
		}
	}

	posts := make([]legacyPost, 0, len(s.items))
	for _, item := range s.items {
		if !item.Enabled {
			continue
		}
		posts = append(posts, legacyPost{
			URL:      item.URL,
			Keywords: append([]string(nil), item.Keywords...),
			Message:  item.Message,
			PostID:   item.PostID,
		})
	}
	encoded, err := json.Marshal(posts)
	if err != nil {
		return fmt.Errorf("marshal legacy posts: %w", err)
	}
	doc["posts"] = encoded

	body, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal legacy config: %w", err)
	}
	if err := os.WriteFile(s.legacyPath, body, 0o644); err != nil {
		return fmt.Errorf("write legacy config: %w", err)
	}
	return nil
}

func cleanKeywords(keywords []string) []string {
	out := make([]string, 0, len(keywords))
	for _, k := range keywords {
		trimmed := strings.TrimSpace(k)
		if trimmed == "" {
			continue
		}
		out = append(out, trimmed)
	}
	return out
}

func appendUnique(values []string, value string) []string {
	value = strings.TrimSpace(value)
	if value == "" {
		return values
	}
	for _, v := range values {
		if v == value {
			return values
		}
	}
	return append(values, value)
}

func copyItems(items []Item) []Item {
	out := make([]Item, 0, len(items))
	for _, item := range items {
		out = append(out, cloneItem(item))
	}
	return out
}

func cloneItem(item Item) Item {
	item.Keywords = append([]string(nil), item.Keywords...)
	item.Stats.CommentUsers = append([]string(nil), item.Stats.CommentUsers...)
	item.Stats.DMUsers = append([]string(nil), item.Stats.DMUsers...)
	return item
}
