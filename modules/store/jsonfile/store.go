package jsonfile

import (
	"cmp"
	"context"
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

	"github.com/flemzord/tgmonitor/internal/identity"
	"github.com/flemzord/tgmonitor/internal/store"
)

const (
	filePerm      = 0o600
	dirPerm       = 0o700
	subsFileName  = "push_subscriptions.json"
	recordFileExt = ".json"
)

// ErrInvalidID is returned for identity ids that cannot name a file.
var ErrInvalidID = errors.New("jsonfile: invalid identity id")

// document is the on-disk layout: the settings fields at the top level,
// with statistics and the modification time alongside.
type document struct {
	identity.Settings
	Stats     identity.Stats `json:"stats"`
	UpdatedAt time.Time      `json:"updated_at,omitzero"`
}

// Store implements store.Store on a directory of JSON files.
type Store struct {
	dir string
	mu  sync.Mutex
	now func() time.Time
}

var _ store.Store = (*Store)(nil)

// Open returns a Store rooted at dir, creating the directory if needed.
func Open(dir string) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("jsonfile: directory is required")
	}
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return nil, fmt.Errorf("jsonfile: create directory %s: %w", dir, err)
	}
	return &Store{dir: dir, now: time.Now}, nil
}

func (s *Store) path(id string) (string, error) {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) || id+recordFileExt == subsFileName {
		return "", fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return filepath.Join(s.dir, id+recordFileExt), nil
}

func (s *Store) Load(ctx context.Context, id string) (store.Record, error) {
	if err := ctx.Err(); err != nil {
		return store.Record{}, err
	}
	path, err := s.path(id)
	if err != nil {
		return store.Record{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := readDocument(path)
	if err != nil {
		return store.Record{}, err
	}
	return doc.record(id), nil
}

func (s *Store) LoadAll(ctx context.Context) ([]store.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("jsonfile: list %s: %w", s.dir, err)
	}
	var out []store.Record
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || name == subsFileName || filepath.Ext(name) != recordFileExt {
			continue
		}
		doc, err := readDocument(filepath.Join(s.dir, name))
		if err != nil {
			return nil, err
		}
		out = append(out, doc.record(strings.TrimSuffix(name, recordFileExt)))
	}
	slices.SortFunc(out, func(a, b store.Record) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (s *Store) SaveSettings(ctx context.Context, id string, set identity.Settings) error {
	return s.update(ctx, id, func(doc *document) { doc.Settings = set.Clone() })
}

func (s *Store) SaveStats(ctx context.Context, id string, st identity.Stats) error {
	return s.update(ctx, id, func(doc *document) { doc.Stats = st })
}

func (s *Store) update(ctx context.Context, id string, fn func(*document)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := s.path(id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := readDocument(path)
	switch {
	case errors.Is(err, store.ErrNotFound):
		doc = document{Settings: identity.DefaultSettings()}
	case err != nil:
		return err
	}
	fn(&doc)
	doc.UpdatedAt = s.now()
	return writeJSON(path, doc)
}

func (s *Store) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := s.path(id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("jsonfile: delete %s: %w", id, err)
	}
	subs, err := s.readSubs()
	if err != nil {
		return err
	}
	kept := slices.DeleteFunc(subs, func(sub store.PushSubscription) bool { return sub.IdentityID == id })
	return s.writeSubs(kept)
}

func (s *Store) AddPushSubscription(ctx context.Context, sub store.PushSubscription) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = s.now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	subs, err := s.readSubs()
	if err != nil {
		return err
	}
	subs = slices.DeleteFunc(subs, func(old store.PushSubscription) bool { return old.Endpoint == sub.Endpoint })
	return s.writeSubs(append(subs, sub))
}

func (s *Store) PushSubscriptions(ctx context.Context, identityID string) ([]store.PushSubscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	subs, err := s.readSubs()
	if err != nil {
		return nil, err
	}
	var out []store.PushSubscription
	for _, sub := range subs {
		if sub.IdentityID == identityID {
			out = append(out, sub)
		}
	}
	slices.SortFunc(out, func(a, b store.PushSubscription) int { return cmp.Compare(a.Endpoint, b.Endpoint) })
	return out, nil
}

func (s *Store) DeletePushSubscription(ctx context.Context, endpoint string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	subs, err := s.readSubs()
	if err != nil {
		return err
	}
	return s.writeSubs(slices.DeleteFunc(subs, func(sub store.PushSubscription) bool { return sub.Endpoint == endpoint }))
}

// Close is a no-op; every write is flushed before it returns.
func (s *Store) Close() error { return nil }

func (d document) record(id string) store.Record {
	return store.Record{ID: id, Settings: d.Settings, Stats: d.Stats, UpdatedAt: d.UpdatedAt}
}

func readDocument(path string) (document, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return document{}, store.ErrNotFound
	}
	if err != nil {
		return document{}, fmt.Errorf("jsonfile: read %s: %w", path, err)
	}
	doc := document{Settings: identity.DefaultSettings()}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return document{}, fmt.Errorf("jsonfile: decode %s: %w", path, err)
	}
	return doc, nil
}

func (s *Store) readSubs() ([]store.PushSubscription, error) {
	raw, err := os.ReadFile(filepath.Join(s.dir, subsFileName))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("jsonfile: read subscriptions: %w", err)
	}
	var subs []store.PushSubscription
	if err := json.Unmarshal(raw, &subs); err != nil {
		return nil, fmt.Errorf("jsonfile: decode subscriptions: %w", err)
	}
	return subs, nil
}

func (s *Store) writeSubs(subs []store.PushSubscription) error {
	if subs == nil {
		subs = []store.PushSubscription{}
	}
	return writeJSON(filepath.Join(s.dir, subsFileName), subs)
}

// writeJSON replaces path atomically through a synced temp file.
func writeJSON(path string, v any) error {
	raw, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return fmt.Errorf("jsonfile: encode %s: %w", path, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp.*")
	if err != nil {
		return fmt.Errorf("jsonfile: create temp for %s: %w", path, err)
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmp.Write(raw); err != nil {
		return fmt.Errorf("jsonfile: write %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("jsonfile: sync %s: %w", path, err)
	}
	if err := tmp.Chmod(filePerm); err != nil {
		return fmt.Errorf("jsonfile: chmod %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("jsonfile: close %s: %w", path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("jsonfile: rename %s: %w", path, err)
	}
	return nil
}
