// Package oracle serves ownership and valuation data from a YAML file.
// Production deployments point the ports at a live oracle instead.
package oracle

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"arbiter/internal/signal"
	"arbiter/pkg/platform/sentinel"
)

type assetEntry struct {
	Owner string          `yaml:"owner"`
	AsOf  time.Time       `yaml:"as_of"`
	NAV   decimal.Decimal `yaml:"nav"`
}

type document struct {
	Assets map[string]assetEntry `yaml:"assets"`
}

// File implements signal.OwnershipOracle over a static asset table.
type File struct {
	mu     sync.RWMutex
	assets map[string]assetEntry
}

func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read ownership file: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*File, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode ownership file: %w", err)
	}
	if doc.Assets == nil {
		doc.Assets = map[string]assetEntry{}
	}
	return &File{assets: doc.Assets}, nil
}

// Empty returns an oracle that knows no assets.
func Empty() *File {
	return &File{assets: map[string]assetEntry{}}
}

// Set records the owner and NAV of an asset.
func (f *File) Set(assetID, owner string, nav decimal.Decimal, asOf time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.assets[assetID] = assetEntry{Owner: owner, AsOf: asOf, NAV: nav}
}

func (f *File) lookup(assetID string) (assetEntry, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	a, ok := f.assets[assetID]
	if !ok {
		return assetEntry{}, fmt.Errorf("asset %s: %w", assetID, sentinel.ErrNotFound)
	}
	return a, nil
}

func (f *File) CurrentOwnership(_ context.Context, assetID string) (signal.OwnershipRecord, error) {
	a, err := f.lookup(assetID)
	if err != nil {
		return signal.OwnershipRecord{}, err
	}
	return signal.OwnershipRecord{AssetID: assetID, Owner: a.Owner, AsOf: a.AsOf}, nil
}

func (f *File) Valuation(_ context.Context, assetID string) (signal.Valuation, error) {
	a, err := f.lookup(assetID)
	if err != nil {
		return signal.Valuation{}, err
	}
	return signal.Valuation{AssetID: assetID, NAV: a.NAV, AsOf: a.AsOf}, nil
}
