// Package memory keeps settlement rows in process, for development runs
// without a spreadsheet.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	ports "gymspace/internal/sheets"
)

var _ ports.SettlementWriter = (*Store)(nil)

type Store struct {
	mu   sync.Mutex
	rows []ports.SettlementRecord
}

func New() *Store {
	return &Store{}
}

// AppendSettlement stores the record and returns a synthetic row reference.
func (s *Store) AppendSettlement(_ context.Context, r ports.SettlementRecord) (string, error) {
	if r.SessionID == "" {
		return "", errors.New("settlement without session id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, r)
	return fmt.Sprintf("mem:%d", len(s.rows)), nil
}

// Records returns a copy of the stored records.
func (s *Store) Records() []ports.SettlementRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ports.SettlementRecord(nil), s.rows...)
}
