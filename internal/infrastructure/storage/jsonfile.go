package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/vitos/crypto_trade_spot/internal/domain"
)

// JSONStore keeps positions and the trade ledger as two JSON documents.
// Every write goes to a temp file that is synced and renamed over the target.
type JSONStore struct {
	positionsPath string
	tradesPath    string

	mu sync.Mutex
}

func NewJSONStore(positionsPath, tradesPath string) (*JSONStore, error) {
	for _, p := range []string{positionsPath, tradesPath} {
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	return &JSONStore{positionsPath: positionsPath, tradesPath: tradesPath}, nil
}

// PositionRepository Implementation

func (s *JSONStore) LoadPositions(ctx context.Context) (domain.Positions, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	positions := make(domain.Positions)
	if err := readJSON(s.positionsPath, &positions); err != nil {
		return nil, fmt.Errorf("read %s: %w", s.positionsPath, err)
	}
	for symbol, p := range positions {
		if p == nil || p.Quantity <= 0 {
			delete(positions, symbol)
			continue
		}
		p.Symbol = symbol
	}
	return positions, nil
}

func (s *JSONStore) SavePositions(ctx context.Context, positions domain.Positions) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if positions == nil {
		positions = make(domain.Positions)
	}
	return writeJSONAtomic(s.positionsPath, positions)
}

// TradeRepository Implementation

func (s *JSONStore) AppendTrade(ctx context.Context, trade *domain.TradeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var trades []*domain.TradeRecord
	if err := readJSON(s.tradesPath, &trades); err != nil {
		return fmt.Errorf("read %s: %w", s.tradesPath, err)
	}
	trades = append(trades, trade)
	return writeJSONAtomic(s.tradesPath, trades)
}

func (s *JSONStore) ListTrades(ctx context.Context) ([]*domain.TradeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var trades []*domain.TradeRecord
	if err := readJSON(s.tradesPath, &trades); err != nil {
		return nil, fmt.Errorf("read %s: %w", s.tradesPath, err)
	}
	sort.SliceStable(trades, func(i, j int) bool {
		return trades[i].Timestamp.Before(trades[j].Timestamp)
	})
	return trades, nil
}

// readJSON leaves v untouched when the file does not exist or is empty.
func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) || (err == nil && len(data) == 0) {
		return nil
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return writeFileAtomic(path, data, 0o644)
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", path, err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}

	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Chmod(perm); err != nil {
		cleanup()
		return fmt.Errorf("chmod %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("sync %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}
