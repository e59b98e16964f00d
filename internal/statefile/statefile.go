package statefile

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/customeros/mailobserver/interfaces"
	"github.com/customeros/mailobserver/internal/models"
	"github.com/customeros/mailobserver/internal/utils"
)

type record struct {
	Mailbox   string           `json:"mailbox"`
	Watermark models.Watermark `json:"watermark"`
	SavedAt   time.Time        `json:"savedAt"`
}

// Store keeps the watermark of one mailbox in a JSON file. Writes go to
// a temporary file that is renamed over the target.
type Store struct {
	path    string
	mailbox string
	mu      sync.Mutex
}

func New(path, mailbox string) *Store {
	return &Store{path: path, mailbox: mailbox}
}

func (s *Store) Path() string {
	return s.path
}

func (s *Store) Load(ctx context.Context) (*models.Watermark, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "read state file")
	}

	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, errors.Wrapf(err, "decode state file %s", s.path)
	}
	if rec.Mailbox != "" && rec.Mailbox != s.mailbox {
		return nil, errors.Errorf("state file %s belongs to mailbox %q, not %q", s.path, rec.Mailbox, s.mailbox)
	}
	return &rec.Watermark, nil
}

func (s *Store) Save(ctx context.Context, watermark models.Watermark) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(record{
		Mailbox:   s.mailbox,
		Watermark: watermark,
		SavedAt:   utils.Now(),
	}, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode state")
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, "create state dir")
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return errors.Wrap(err, "create temp state file")
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrap(err, "write temp state file")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errors.Wrap(err, "sync temp state file")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "close temp state file")
	}
	return errors.Wrap(os.Rename(tmp.Name(), s.path), "replace state file")
}

func (s *Store) Delete(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return errors.Wrap(err, "remove state file")
	}
	return nil
}

// Memory is a WatermarkStore that forgets everything on restart.
type Memory struct {
	mu        sync.Mutex
	watermark *models.Watermark
	saves     int
}

func NewMemory(initial *models.Watermark) *Memory {
	m := &Memory{}
	if initial != nil {
		w := *initial
		m.watermark = &w
	}
	return m
}

func (m *Memory) Load(ctx context.Context) (*models.Watermark, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.watermark == nil {
		return nil, nil
	}
	w := *m.watermark
	return &w, nil
}

func (m *Memory) Save(ctx context.Context, watermark models.Watermark) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.watermark = &watermark
	m.saves++
	return nil
}

func (m *Memory) Delete(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.watermark = nil
	return nil
}

// Saves reports how many times Save was called.
func (m *Memory) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

var (
	_ interfaces.WatermarkStore = (*Store)(nil)
	_ interfaces.WatermarkStore = (*Memory)(nil)
)
