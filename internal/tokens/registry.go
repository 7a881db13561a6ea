// Package tokens holds the in-process view of the configured tokens. The
// indexers consult it on every op, so it is kept in memory and refreshed
// whenever a tribe settings update lands.
package tokens

import (
	"context"
	"sync"

	"github.com/steemit/enginemind/internal/db"
	"github.com/steemit/enginemind/internal/models"
)

// Registry is a concurrency safe index of token configs by symbol and by
// reward pool id.
type Registry struct {
	mu       sync.RWMutex
	bySymbol map[string]*models.TokenConfig
	byPool   map[int64]*models.TokenConfig
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		bySymbol: make(map[string]*models.TokenConfig),
		byPool:   make(map[int64]*models.TokenConfig),
	}
}

// Load replaces the registry contents from storage
func (r *Registry) Load(ctx context.Context, repo *db.TokenConfigRepository) error {
	configs, err := repo.GetAll(ctx)
	if err != nil {
		return err
	}

	bySymbol := make(map[string]*models.TokenConfig, len(configs))
	byPool := make(map[int64]*models.TokenConfig, len(configs))
	for _, tc := range configs {
		bySymbol[tc.Token] = tc
		byPool[tc.RewardPoolID] = tc
	}

	r.mu.Lock()
	r.bySymbol = bySymbol
	r.byPool = byPool
	r.mu.Unlock()
	return nil
}

// Set inserts or replaces one token config
func (r *Registry) Set(tc *models.TokenConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.bySymbol[tc.Token]; ok && old.RewardPoolID != tc.RewardPoolID {
		delete(r.byPool, old.RewardPoolID)
	}
	r.bySymbol[tc.Token] = tc
	r.byPool[tc.RewardPoolID] = tc
}

// BySymbol returns the config for a token symbol, or nil
func (r *Registry) BySymbol(symbol string) *models.TokenConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.bySymbol[symbol]
}

// ByRewardPool returns the config owning a reward pool id, or nil
func (r *Registry) ByRewardPool(id int64) *models.TokenConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byPool[id]
}

// Symbols lists the tracked token symbols
func (r *Registry) Symbols() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	symbols := make([]string, 0, len(r.bySymbol))
	for symbol := range r.bySymbol {
		symbols = append(symbols, symbol)
	}
	return symbols
}

// All returns a snapshot of every config
func (r *Registry) All() []*models.TokenConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	configs := make([]*models.TokenConfig, 0, len(r.bySymbol))
	for _, tc := range r.bySymbol {
		configs = append(configs, tc)
	}
	return configs
}
