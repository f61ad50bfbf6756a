package fulfillment

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Status of a queued fulfillment.
const (
	StatusPending   = "pending"
	StatusDelivered = "delivered"
)

// Record is a confirmed payment whose top-up has not been delivered
// yet, keyed by the payment transaction hash.
type Record struct {
	TxHash        string       `json:"txHash"`
	Request       TopupRequest `json:"request"`
	Status        string       `json:"status"`
	Attempts      int          `json:"attempts"`
	LastError     string       `json:"lastError,omitempty"`
	NextAttemptAt time.Time    `json:"nextAttemptAt"`
	CreatedAt     time.Time    `json:"createdAt"`
	UpdatedAt     time.Time    `json:"updatedAt"`
}

// Store abstracts pending-fulfillment persistence. Save upserts by
// transaction hash.
type Store interface {
	Save(ctx context.Context, record Record) error
	Get(ctx context.Context, txHash string) (*Record, error)
	Pending(ctx context.Context) ([]Record, error)
	Resolve(ctx context.Context, txHash string) error
}

// MemoryStore is mostly for testing.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]Record)}
}

func (m *MemoryStore) Save(_ context.Context, record Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[record.TxHash] = record
	return nil
}

func (m *MemoryStore) Get(_ context.Context, txHash string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.data[txHash]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (m *MemoryStore) Pending(_ context.Context) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Record
	for _, rec := range m.data {
		if rec.Status == StatusPending {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (m *MemoryStore) Resolve(_ context.Context, txHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.data[txHash]
	if !ok {
		return nil
	}
	rec.Status = StatusDelivered
	rec.UpdatedAt = time.Now().UTC()
	m.data[txHash] = rec
	return nil
}

// FileStore persists records to disk. Suitable for local dev.
type FileStore struct {
	path string
	mu   sync.Mutex
	data map[string]Record
}

func NewFileStore(path string) (*FileStore, error) {
	fs := &FileStore{
		path: path,
		data: make(map[string]Record),
	}
	if err := fs.load(); err != nil {
		return nil, err
	}
	return fs, nil
}

func (f *FileStore) load() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	blob, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if len(blob) == 0 {
		return nil
	}
	return json.Unmarshal(blob, &f.data)
}

func (f *FileStore) persist() error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return err
	}
	blob, err := json.MarshalIndent(f.data, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(f.path, blob, 0o600)
}

func (f *FileStore) Save(_ context.Context, record Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[record.TxHash] = record
	return f.persist()
}

func (f *FileStore) Get(_ context.Context, txHash string) (*Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	record, ok := f.data[txHash]
	if !ok {
		return nil, nil
	}
	return &record, nil
}

func (f *FileStore) Pending(_ context.Context) ([]Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Record
	for _, rec := range f.data {
		if rec.Status == StatusPending {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (f *FileStore) Resolve(_ context.Context, txHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.data[txHash]
	if !ok {
		return nil
	}
	rec.Status = StatusDelivered
	rec.UpdatedAt = time.Now().UTC()
	f.data[txHash] = rec
	return f.persist()
}
