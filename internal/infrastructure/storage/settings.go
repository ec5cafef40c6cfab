package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/joho/godotenv"
	"github.com/vitos/crypto_trade_spot/internal/domain"
	"go.uber.org/zap"
)

// Env keys for credentials and mode.
const (
	EnvLiveAPIKey    = "LIVE_BINANCE_API_KEY"
	EnvLiveAPISecret = "LIVE_BINANCE_API_SECRET"
	EnvTestAPIKey    = "TEST_BINANCE_API_KEY"
	EnvTestAPISecret = "TEST_BINANCE_API_SECRET"
	EnvTestMode      = "IS_TEST_MODE"
)

// SettingsStore reads strategy settings from a JSON document and credentials
// from a dotenv file. Variables already set in the process environment win.
type SettingsStore struct {
	path    string
	envPath string
	logger  *zap.Logger

	mu sync.Mutex
}

func NewSettingsStore(path, envPath string, logger *zap.Logger) *SettingsStore {
	return &SettingsStore{path: path, envPath: envPath, logger: logger}
}

// Load returns the current snapshot. A missing or unreadable settings document
// is replaced with defaults.
func (s *SettingsStore) Load(ctx context.Context) (*domain.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	settings := domain.DefaultSettings()
	data, err := os.ReadFile(s.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		s.logger.Info("Settings file not found, writing defaults", zap.String("path", s.path))
		if err := s.writeStrategy(&settings); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, fmt.Errorf("read %s: %w", s.path, err)
	default:
		if err := json.Unmarshal(data, &settings); err != nil {
			s.logger.Warn("Settings file corrupt, restoring defaults", zap.String("path", s.path), zap.Error(err))
			settings = domain.DefaultSettings()
			if err := s.writeStrategy(&settings); err != nil {
				return nil, err
			}
		}
	}

	env, err := s.readEnv()
	if err != nil {
		return nil, err
	}
	settings.Credentials = domain.Credentials{
		LiveAPIKey:    env[EnvLiveAPIKey],
		LiveAPISecret: env[EnvLiveAPISecret],
		TestAPIKey:    env[EnvTestAPIKey],
		TestAPISecret: env[EnvTestAPISecret],
	}
	settings.TestMode = parseTestMode(env[EnvTestMode])
	return &settings, nil
}

func (s *SettingsStore) SaveStrategy(ctx context.Context, settings *domain.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeStrategy(settings)
}

func (s *SettingsStore) SaveCredentials(ctx context.Context, creds domain.Credentials) error {
	return s.updateEnv(map[string]string{
		EnvLiveAPIKey:    creds.LiveAPIKey,
		EnvLiveAPISecret: creds.LiveAPISecret,
		EnvTestAPIKey:    creds.TestAPIKey,
		EnvTestAPISecret: creds.TestAPISecret,
	})
}

func (s *SettingsStore) SaveTestMode(ctx context.Context, testMode bool) error {
	return s.updateEnv(map[string]string{EnvTestMode: strconv.FormatBool(testMode)})
}

func (s *SettingsStore) writeStrategy(settings *domain.Settings) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create settings dir: %w", err)
	}
	return writeJSONAtomic(s.path, settings)
}

// readEnv merges the dotenv file with the process environment.
func (s *SettingsStore) readEnv() (map[string]string, error) {
	env, err := godotenv.Read(s.envPath)
	if errors.Is(err, os.ErrNotExist) {
		env = make(map[string]string)
	} else if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.envPath, err)
	}
	for _, key := range []string{EnvLiveAPIKey, EnvLiveAPISecret, EnvTestAPIKey, EnvTestAPISecret, EnvTestMode} {
		if v, ok := os.LookupEnv(key); ok {
			env[key] = v
		}
	}
	return env, nil
}

// updateEnv rewrites the dotenv file and the process environment so the
// new values are visible to the next Load either way.
func (s *SettingsStore) updateEnv(values map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	env, err := godotenv.Read(s.envPath)
	if errors.Is(err, os.ErrNotExist) {
		env = make(map[string]string)
	} else if err != nil {
		return fmt.Errorf("read %s: %w", s.envPath, err)
	}
	for k, v := range values {
		env[k] = v
	}

	content, err := godotenv.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode %s: %w", s.envPath, err)
	}
	if dir := filepath.Dir(s.envPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create env dir: %w", err)
		}
	}
	if err := writeFileAtomic(s.envPath, []byte(content+"\n"), 0o600); err != nil {
		return err
	}
	for k, v := range values {
		if err := os.Setenv(k, v); err != nil {
			return fmt.Errorf("set %s: %w", k, err)
		}
	}
	return nil
}

// parseTestMode defaults to test mode unless the value clearly says otherwise.
func parseTestMode(v string) bool {
	if v == "" {
		return true
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return true
	}
	return b
}
