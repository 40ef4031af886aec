package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/dantezy/polyweather/internal/config"
	"github.com/dantezy/polyweather/internal/engine"
	"github.com/dantezy/polyweather/internal/store"
	"github.com/dantezy/polyweather/internal/weather"
)

var (
	envFile  string
	dbPath   string
	dateFlag string
)

var rootCmd = &cobra.Command{
	Use:   "polyweather",
	Short: "Blend daily high-temperature forecasts into settlement probabilities",
	Long: `polyweather keeps per-city forecast and observation records, weights each
model by its recent accuracy and turns the blended high into a probability for
every integer settlement bucket.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env", "", "env file to load (default is ./.env if present)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "database file (overrides DB_PATH)")
}

// loadConfig loads and validates configuration, applying flag overrides.
func loadConfig() (*config.Config, error) {
	var files []string
	if envFile != "" {
		files = append(files, envFile)
	}
	cfg, err := config.Load(files...)
	if err != nil {
		return nil, err
	}
	if dbPath != "" {
		cfg.DBPath = dbPath
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// openEngine opens the store and builds the engine over it. The caller closes
// the returned store.
func openEngine(ctx context.Context, cfg *config.Config) (*engine.Engine, *store.Store, error) {
	dir, err := cfg.Directory()
	if err != nil {
		return nil, nil, err
	}

	if d := filepath.Dir(cfg.DBPath); d != "." {
		if err := os.MkdirAll(d, 0755); err != nil {
			return nil, nil, fmt.Errorf("creating database directory: %w", err)
		}
	}
	st, err := store.Open(ctx, store.Options{Path: cfg.DBPath, LockTimeout: cfg.LockTimeout})
	if err != nil {
		return nil, nil, err
	}

	eng := engine.New(st, dir, engine.Config{
		Calculator: cfg.Calculator(),
		Blender:    cfg.Blender(),
		Consensus:  cfg.Consensus(),
	})
	return eng, st, nil
}

// withEngine runs fn against a freshly opened engine.
func withEngine(fn func(ctx context.Context, eng *engine.Engine) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := context.Background()
	eng, st, err := openEngine(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()
	return fn(ctx, eng)
}

// resolveDate returns --date, or the city's local today.
func resolveDate(eng *engine.Engine, city string) (weather.Date, error) {
	if dateFlag != "" {
		return weather.ParseDate(dateFlag)
	}
	return eng.Today(city, time.Now())
}

func addDateFlag(cmd *cobra.Command) {
	cmd.Flags().StringVar(&dateFlag, "date", "", "local date YYYY-MM-DD (default is the city's today)")
}
