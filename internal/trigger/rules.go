package trigger

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mesh-intelligence/c2store/pkg/types"
)

// FileName is the rules file kept in the data directory.
const FileName = "triggers.json"

// Rules is an in-memory rule set, safe for concurrent use. Rules returned
// by its methods are copies.
type Rules struct {
	mu    sync.RWMutex
	rules map[string]*Rule
	clock func() time.Time
}

// NewRules returns an empty rule set.
func NewRules() *Rules {
	return &Rules{rules: make(map[string]*Rule), clock: time.Now}
}

// Add validates rule, assigns it a UUID v7 and timestamps, and stores it.
func (r *Rules) Add(rule Rule) (*Rule, error) {
	if err := rule.Validate(); err != nil {
		return nil, err
	}
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generating rule ID: %w", err)
	}
	stored := rule.Clone()
	stored.ID = id.String()
	stored.CreatedAt = r.clock().UTC()
	stored.UpdatedAt = stored.CreatedAt

	r.mu.Lock()
	r.rules[stored.ID] = stored
	r.mu.Unlock()
	return stored.Clone(), nil
}

// Get returns the rule with the given ID or types.ErrNotFound.
func (r *Rules) Get(id string) (*Rule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rule, ok := r.rules[id]
	if !ok {
		return nil, fmt.Errorf("trigger %s: %w", id, types.ErrNotFound)
	}
	return rule.Clone(), nil
}

// Replace swaps the body of an existing rule. The ID and CreatedAt are kept.
func (r *Rules) Replace(id string, rule Rule) (*Rule, error) {
	if err := rule.Validate(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.rules[id]
	if !ok {
		return nil, fmt.Errorf("trigger %s: %w", id, types.ErrNotFound)
	}
	stored := rule.Clone()
	stored.ID = id
	stored.CreatedAt = cur.CreatedAt
	stored.UpdatedAt = r.clock().UTC()
	r.rules[id] = stored
	return stored.Clone(), nil
}

// Remove deletes the rule with the given ID.
func (r *Rules) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rules[id]; !ok {
		return fmt.Errorf("trigger %s: %w", id, types.ErrNotFound)
	}
	delete(r.rules, id)
	return nil
}

// Len reports the number of stored rules.
func (r *Rules) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rules)
}

// List returns every rule ordered by creation time, then ID.
func (r *Rules) List() []*Rule {
	return r.collect(func(*Rule) bool { return true })
}

// For returns the rules whose source query names entityType.
func (r *Rules) For(entityType string) []*Rule {
	return r.collect(func(rule *Rule) bool {
		t, _, _ := SplitQuery(rule.SourceQuery)
		return t == entityType
	})
}

func (r *Rules) collect(keep func(*Rule) bool) []*Rule {
	r.mu.RLock()
	out := make([]*Rule, 0, len(r.rules))
	for _, rule := range r.rules {
		if keep(rule) {
			out = append(out, rule.Clone())
		}
	}
	r.mu.RUnlock()
	slices.SortFunc(out, func(a, b *Rule) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

// LoadFile reads a rule set from path. A missing file yields an empty set.
// Every stored rule is validated; the first invalid one fails the load.
func LoadFile(path string) (*Rules, error) {
	r := NewRules()
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return r, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var list []*Rule
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	for _, rule := range list {
		if rule.ID == "" {
			return nil, fmt.Errorf("%s: %w: rule without id", path, ErrInvalidRule)
		}
		if err := rule.Validate(); err != nil {
			return nil, fmt.Errorf("%s: trigger %s: %w", path, rule.ID, err)
		}
		r.rules[rule.ID] = rule
	}
	return r, nil
}

// SaveFile atomically replaces path with the rule set, using the temp-file,
// fsync, rename pattern.
func (r *Rules) SaveFile(path string) error {
	data, err := json.MarshalIndent(r.List(), "", "  ")
	if err != nil {
		return fmt.Errorf("encoding triggers: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".triggers-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()

	fail := func(format string, err error) error {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf(format, err)
	}

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		return fail("writing triggers: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fail("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}
