// Command tokenconfig refreshes the token_config table from the published
// tribe registry, resolving each token's reward pool on the sidechain.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/steemit/enginemind/internal/db"
	"github.com/steemit/enginemind/internal/engine"
	"github.com/steemit/enginemind/internal/models"
	"github.com/steemit/enginemind/pkg/config"
	"github.com/steemit/enginemind/pkg/logging"
)

type remoteConfig struct {
	Token               string `json:"token"`
	RewardPoolID        int64  `json:"reward_pool_id"`
	Issuer              string `json:"issuer"`
	PromotedPostAccount string `json:"promoted_post_account"`
}

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	if err := logging.InitLogger(&cfg.Logging); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logging.GetLogger().Sync()

	logger := logging.GetLogger()
	logger.Info("Updating token configs", zap.String("url", cfg.Engine.TokenConfigURL))

	// Initialize database
	database, err := db.New(&cfg.Database, cfg.Logging.Level)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer database.Close()

	if err := database.Migrate(); err != nil {
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}

	// Initialize sidechain client
	engineClient, err := engine.New(&cfg.Engine)
	if err != nil {
		logger.Fatal("Failed to create engine client", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	configs, err := fetchConfigs(ctx, cfg.Engine.TokenConfigURL)
	if err != nil {
		logger.Fatal("Failed to fetch token configs", zap.Error(err))
	}

	repo := db.NewTokenConfigRepository(db.NewRepository(database.DB))
	updated := 0
	for _, remote := range configs {
		token := strings.ToUpper(remote.Token)
		if token == "" {
			continue
		}

		row := &models.TokenConfig{
			Token:               token,
			RewardPoolID:        remote.RewardPoolID,
			Issuer:              remote.Issuer,
			PromotedPostAccount: remote.PromotedPostAccount,
		}
		if err := resolveFromSidechain(ctx, engineClient, row); err != nil {
			logger.Warn("Failed to resolve token on sidechain",
				zap.String("token", token), zap.Error(err))
			continue
		}
		if row.RewardPoolID == 0 {
			logger.Warn("Token has no reward pool, skipping", zap.String("token", token))
			continue
		}

		if err := repo.Upsert(ctx, row); err != nil {
			logger.Fatal("Failed to upsert token config",
				zap.String("token", token), zap.Error(err))
		}
		updated++
	}

	logger.Info("Token configuration updated", zap.Int("tokens", updated))
}

func fetchConfigs(ctx context.Context, url string) ([]remoteConfig, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch config: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d from config endpoint", resp.StatusCode)
	}

	var configs []remoteConfig
	if err := json.NewDecoder(resp.Body).Decode(&configs); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return configs, nil
}

// resolveFromSidechain fills in fields the registry feed leaves blank. The
// reward pool id comes from the comments contract and the issuer from the
// token row.
func resolveFromSidechain(ctx context.Context, client *engine.Client, row *models.TokenConfig) error {
	if row.RewardPoolID == 0 {
		pool, err := client.FindOneRewardPool(ctx, row.Token)
		if err != nil {
			return err
		}
		if pool != nil {
			row.RewardPoolID = pool.ID
		}
	}

	if row.Issuer == "" {
		result, err := client.FindOne(ctx, "tokens", "tokens", map[string]interface{}{
			"symbol": row.Token,
		})
		if err != nil {
			return err
		}
		if result != nil {
			var tokenData struct {
				Issuer string `json:"issuer"`
			}
			if err := json.Unmarshal(result, &tokenData); err == nil {
				row.Issuer = tokenData.Issuer
			}
		}
	}
	return nil
}
