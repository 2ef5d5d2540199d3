package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Config represents runtime configuration for the service.
type Config struct {
	BasicConfig BasicConfig               `json:"basic_config"`
	Databases   map[string]DatabaseConfig `json:"databases"`
	Redis       RedisConfig               `json:"redis"`
	Drive       DriveConfig               `json:"drive"`
	Summarizer  SummarizerConfig          `json:"summarizer"`
	Speech      SpeechConfig              `json:"speech"`
}

type BasicConfig struct {
	ServerAddress     string `json:"server_address"`
	FileBaseDir       string `json:"file_base_dir"`
	MaxUploadMB       int64  `json:"max_upload_mb"`
	MinWorkers        int    `json:"min_workers"`
	MaxWorkers        int    `json:"max_workers"`
	QueueSize         int    `json:"queue_size"`
	WorkerIdleTimeout int    `json:"worker_idle_timeout_minutes"`
	CleanupInterval   int    `json:"cleanup_interval_minutes"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DBName   string `json:"db_name"`
	Params   string `json:"params"`
}

type RedisConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// DriveConfig locates the OAuth client secret, the persisted token file, and
// the destination folder for uploaded files.
type DriveConfig struct {
	ClientSecretFile string `json:"client_secret_file"`
	TokenFile        string `json:"token_file"`
	FolderID         string `json:"folder_id"`
}

type SummarizerConfig struct {
	APIKey string `json:"api_key"`
	Model  string `json:"model"`
}

type SpeechConfig struct {
	WorkDir string `json:"work_dir"`
}

// Load reads configuration from the provided path (defaults to config.json).
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.json"
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	file, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}
	defer file.Close()

	var cfg Config
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if len(cfg.Databases) == 0 {
		return nil, fmt.Errorf("at least one database must be configured")
	}

	baseDir := filepath.Dir(absPath)
	for name, db := range cfg.Databases {
		if db.DSN != "" && db.DSN != ":memory:" && !filepath.IsAbs(db.DSN) {
			db.DSN = filepath.Join(baseDir, db.DSN)
			cfg.Databases[name] = db
		}
	}
	cfg.Drive.ClientSecretFile = resolvePath(baseDir, cfg.Drive.ClientSecretFile)
	cfg.Drive.TokenFile = resolvePath(baseDir, cfg.Drive.TokenFile)
	cfg.BasicConfig.FileBaseDir = resolvePath(baseDir, cfg.BasicConfig.FileBaseDir)
	cfg.Speech.WorkDir = resolvePath(baseDir, cfg.Speech.WorkDir)

	if cfg.Summarizer.APIKey == "" {
		cfg.Summarizer.APIKey = os.Getenv("GEMINI_API_KEY")
	}
	if cfg.Summarizer.Model == "" {
		cfg.Summarizer.Model = "gemini-2.5-flash"
	}

	return &cfg, nil
}

func resolvePath(baseDir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}
