package outbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/olyamironova/matching-core/internal/domain"
	"github.com/olyamironova/matching-core/internal/port"
)

var _ port.TradeSpool = (*Spool)(nil)

const prefix = "trades/"

// Spool is a pebble-backed queue of trade batches that could not be
// persisted. Batches are keyed by a monotonic sequence so Drain replays
// them oldest first.
type Spool struct {
	db *pebble.DB

	mu  sync.Mutex
	seq uint64
}

func Open(dir string) (*Spool, error) {
	return open(dir, &pebble.Options{})
}

// OpenInMemory opens a spool on an in-memory filesystem.
func OpenInMemory() (*Spool, error) {
	return open("", &pebble.Options{FS: vfs.NewMem()})
}

func open(dir string, opts *pebble.Options) (*Spool, error) {
	db, err := pebble.Open(dir, opts)
	if err != nil {
		return nil, fmt.Errorf("outbox: open %q: %w", dir, err)
	}
	s := &Spool{db: db}
	if err := s.loadSeq(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Spool) Close() error {
	return s.db.Close()
}

func (s *Spool) iter() (*pebble.Iterator, error) {
	return s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(prefix),
		UpperBound: []byte(prefix + "~"),
	})
}

func (s *Spool) loadSeq() error {
	it, err := s.iter()
	if err != nil {
		return err
	}
	defer it.Close()
	if it.Last() {
		seq, err := parseKey(it.Key())
		if err != nil {
			return err
		}
		s.seq = seq
	}
	return it.Error()
}

func (s *Spool) Push(ctx context.Context, trades []*domain.Trade) error {
	if len(trades) == 0 {
		return nil
	}
	b, err := json.Marshal(trades)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	return s.db.Set(keyFor(s.seq), b, pebble.Sync)
}

// Drain hands batches to fn oldest first and deletes each one fn accepts.
// It stops at the first batch fn refuses and returns that error.
func (s *Spool) Drain(ctx context.Context, fn func([]*domain.Trade) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, err := s.iter()
	if err != nil {
		return err
	}
	defer it.Close()

	for it.First(); it.Valid(); it.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		var batch []*domain.Trade
		if err := json.Unmarshal(it.Value(), &batch); err != nil {
			return fmt.Errorf("outbox: decode %s: %w", it.Key(), err)
		}
		if err := fn(batch); err != nil {
			return err
		}
		if err := s.db.Delete(append([]byte(nil), it.Key()...), pebble.Sync); err != nil {
			return err
		}
	}
	return it.Error()
}

// Len counts spooled batches.
func (s *Spool) Len() (int, error) {
	it, err := s.iter()
	if err != nil {
		return 0, err
	}
	defer it.Close()
	n := 0
	for it.First(); it.Valid(); it.Next() {
		n++
	}
	return n, it.Error()
}

func keyFor(seq uint64) []byte {
	return []byte(fmt.Sprintf(prefix+"%020d", seq))
}

func parseKey(b []byte) (uint64, error) {
	var seq uint64
	_, err := fmt.Sscanf(string(bytes.TrimPrefix(b, []byte(prefix))), "%d", &seq)
	return seq, err
}
