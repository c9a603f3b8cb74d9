package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"kitty/internal/core"
	ports "kitty/internal/sheets"
)

// Store is an in-memory LedgerWriter used in tests and local development.
type Store struct {
	mu       sync.Mutex
	rows     []core.Transaction
	failNext int
}

var _ ports.LedgerWriter = (*Store)(nil)

func New() *Store {
	return &Store{}
}

// Append stores the transaction and returns a synthetic row reference.
// A transaction id already present is not stored again, matching the
// dedup the spreadsheet writer does on its id column.
func (s *Store) Append(_ context.Context, t core.Transaction) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext > 0 {
		s.failNext--
		return "", errors.New("simulated append failure")
	}
	if err := t.Validate(); err != nil {
		return "", err
	}
	for i, row := range s.rows {
		if row.ID == t.ID {
			return fmt.Sprintf("mem:%d", i+1), nil
		}
	}
	s.rows = append(s.rows, t)
	return fmt.Sprintf("mem:%d", len(s.rows)), nil
}

// Rows returns a copy of everything appended so far.
func (s *Store) Rows() []core.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.Transaction(nil), s.rows...)
}

// FailNext makes the next n appends return an error.
func (s *Store) FailNext(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = n
}
