// Package ledger tracks which comments have already been acted upon, so a
// crashed or replayed cycle can never double-act. Membership is monotonic:
// once a comment id is recorded it is never removed.
package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Ledger is a durable set of processed comment ids, kept globally and per
// monitored item (keyed by the item's source URL). MarkProcessed persists
// before returning, so callers can safely act only after marking.
type Ledger struct {
	path string

	mu    sync.Mutex
	total map[string]struct{}
	posts map[string]map[string]struct{}
}

type ledgerDocument struct {
	Total []string            `json:"total"`
	Posts map[string][]string `json:"posts"`
}

func New(path string) (*Ledger, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("ledger path is required")
	}
	l := &Ledger{
		path:  filepath.Clean(path),
		total: map[string]struct{}{},
		posts: map[string]map[string]struct{}{},
	}
	if err := l.Load(); err != nil {
		return nil, err
	}
	return l, nil
}

// Load reads the ledger document from disk. A missing file starts empty; a
// corrupted file is treated as empty rather than fatal, so the process keeps
// running after a bad write.
func (l *Ledger) Load() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	body, err := os.ReadFile(l.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read ledger: %w", err)
	}

	var doc ledgerDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil
	}

	l.total = make(map[string]struct{}, len(doc.Total))
	for _, id := range doc.Total {
		l.total[id] = struct{}{}
	}
	l.posts = make(map[string]map[string]struct{}, len(doc.Posts))
	for key, ids := range doc.Posts {
		set := make(map[string]struct{}, len(ids))
		for _, id := range ids {
			set[id] = struct{}{}
		}
		l.posts[key] = set
	}
	return nil
}

// AlreadyProcessed reports whether the comment id was recorded globally or
// under the item key.
func (l *Ledger) AlreadyProcessed(commentID, itemKey string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.total[commentID]; ok {
		return true
	}
	if set, ok := l.posts[itemKey]; ok {
		if _, ok := set[commentID]; ok {
			return true
		}
	}
	return false
}

// MarkProcessed records the comment id in both the global set and the
// per-item set and persists the ledger before returning. Callers must mark
// before attempting any side-effecting action.
func (l *Ledger) MarkProcessed(commentID, itemKey string) error {
	if strings.TrimSpace(commentID) == "" {
		return errors.New("comment id is required")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.total[commentID] = struct{}{}
	set, ok := l.posts[itemKey]
	if !ok {
		set = map[string]struct{}{}
		l.posts[itemKey] = set
	}
	set[commentID] = struct{}{}

	return l.persistLocked()
}

// Persist writes the current ledger state to disk.
func (l *Ledger) Persist() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.persistLocked()
}

func (l *Ledger) persistLocked() error {
	doc := ledgerDocument{
		Total: sortedKeys(l.total),
		Posts: make(map[string][]string, len(l.posts)),
	}
	for key, set := range l.posts {
		doc.Posts[key] = sortedKeys(set)
	}

	body, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal ledger: %w", err)
	}
	if dir := filepath.Dir(l.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create ledger directory: %w", err)
		}
	}
	if err := os.WriteFile(l.path, body, 0o644); err != nil {
		return fmt.Errorf("write ledger: %w", err)
	}
	return nil
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
