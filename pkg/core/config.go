package core

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config contains the complete configuration for a ProfileWatch monitor.
//
// It includes settings for:
//   - Monitoring behavior (authentication, picture tracking, history retention)
//   - The friends-derived queue (batch size, revisit interval, retries)
//   - Notification toggles and follower milestones
//   - The persistence backend (file, sqlite, postgres)
//
// Example:
//
//	config := &core.Config{
//	    Monitor: core.MonitorConfig{Authenticated: true, HistoryKeep: 100},
//	    Store:   core.StoreConfig{Provider: "file", Path: "./monitoring_data"},
//	}
type Config struct {
	// Monitor contains per-run monitoring settings.
	Monitor MonitorConfig `json:"monitor"`

	// Queue contains scheduling settings for the friends-derived queue.
	Queue QueueConfig `json:"queue"`

	// Notify contains per-category notification toggles.
	Notify NotifyConfig `json:"notify"`

	// Store contains persistence backend configuration.
	Store StoreConfig `json:"store"`
}

// MonitorConfig contains per-run monitoring settings.
type MonitorConfig struct {
	// Authenticated requests an authenticated fetch when true. Anonymous
	// fetches still work but may leave login-gated fields absent.
	Authenticated bool `json:"authenticated"`

	// TrackPictures enables profile picture download and change detection.
	TrackPictures bool `json:"track_pictures"`

	// EmptyPicturePath optionally points at the platform's default avatar
	// bytes; a current picture matching it is classified as empty.
	EmptyPicturePath string `json:"empty_picture_path,omitempty"`

	// HistoryKeep is the number of history entries retained per subject.
	// Zero means the default of 100.
	HistoryKeep int `json:"history_keep,omitempty"`

	// ChangesKeep is the number of change-bearing entries retained in the
	// separate changes record. Zero means the default of 50.
	ChangesKeep int `json:"changes_keep,omitempty"`
}

// QueueConfig contains scheduling settings for the monitoring queue.
type QueueConfig struct {
	// BatchSize is the maximum number of entries selected per pass.
	// Zero means the default of 5.
	BatchSize int `json:"batch_size,omitempty"`

	// MinRevisitInterval is how long a processed entry is ineligible for
	// reselection. Zero means the default of 6 hours.
	MinRevisitInterval time.Duration `json:"min_revisit_interval,omitempty"`

	// MaxRetryAttempts is the per-entry failure ceiling before the entry
	// stalls. Zero means the default of 3.
	MaxRetryAttempts int `json:"max_retry_attempts,omitempty"`

	// MaxParallelFetch bounds concurrent fetches within one batch.
	// Zero means the default of 3.
	MaxParallelFetch int `json:"max_parallel_fetch,omitempty"`

	// MaxQueueSize caps how many usernames a single friends analysis may
	// enqueue. Zero means the default of 50.
	MaxQueueSize int `json:"max_queue_size,omitempty"`

	// PriorityOrder ranks friend categories from highest to lowest
	// priority. Empty means mutual, followers_only, following_only, manual.
	PriorityOrder []FriendCategory `json:"priority_order,omitempty"`
}

// NotifyConfig contains per-category notification toggles.
//
// A disabled category suppresses its events entirely; the underlying changes
// are still detected and recorded in history.
type NotifyConfig struct {
	// Counts enables events for follower/following/post count changes.
	Counts bool `json:"counts"`

	// Text enables events for biography and display name changes.
	Text bool `json:"text"`

	// Flags enables events for privacy and verification flips.
	Flags bool `json:"flags"`

	// Pictures enables events for profile picture transitions.
	Pictures bool `json:"pictures"`

	// Friends enables events for friend joined/left changes.
	Friends bool `json:"friends"`

	// Milestones enables follower milestone events.
	Milestones bool `json:"milestones"`

	// MilestoneThresholds lists the follower counts that trigger milestone
	// events when crossed. Empty means the defaults
	// (1000, 5000, 10000, 25000, 50000, 100000, 250000, 500000, 1000000).
	MilestoneThresholds []int64 `json:"milestone_thresholds,omitempty"`
}

// StoreConfig contains configuration for the persistence backend.
//
// Supported providers: file, sqlite, postgres
type StoreConfig struct {
	// Provider is the backend name (file, sqlite, postgres).
	Provider string `json:"provider"`

	// Path is the data directory (file) or database file path (sqlite).
	Path string `json:"path,omitempty"`

	// Host, Port, User, Password, DBName and SSLMode configure the
	// postgres backend.
	Host     string `json:"host,omitempty"`
	Port     int    `json:"port,omitempty"`
	User     string `json:"user,omitempty"`
	Password string `json:"password,omitempty"`
	DBName   string `json:"db_name,omitempty"`
	SSLMode  string `json:"ssl_mode,omitempty"`
}

// Default configuration values.
const (
	DefaultHistoryKeep        = 100
	DefaultChangesKeep        = 50
	DefaultBatchSize          = 5
	DefaultMinRevisitInterval = 6 * time.Hour
	DefaultMaxRetryAttempts   = 3
	DefaultMaxParallelFetch   = 3
	DefaultMaxQueueSize       = 50
)

// DefaultPriorityOrder ranks friend categories when the configuration does
// not override it: mutual connections first, manual additions last.
func DefaultPriorityOrder() []FriendCategory {
	return []FriendCategory{CategoryMutual, CategoryFollowersOnly, CategoryFollowingOnly, CategoryManual}
}

// DefaultMilestoneThresholds returns the follower milestones used when the
// configuration does not override them.
func DefaultMilestoneThresholds() []int64 {
	return []int64{1000, 5000, 10000, 25000, 50000, 100000, 250000, 500000, 1000000}
}

// LoadConfigFromEnv loads configuration from environment variables.
//
// The function:
//  1. Searches for .env or .env.example files (up to 5 directory levels up)
//  2. Loads environment variables from the found file
//  3. Parses environment variables into a Config struct
//
// Supported environment variables:
//   - STORE_PROVIDER (file, sqlite, postgres)
//   - STORE_PATH (data directory or sqlite file)
//   - POSTGRES_HOST, POSTGRES_PORT, POSTGRES_USER, POSTGRES_PASSWORD,
//     POSTGRES_DATABASE, POSTGRES_SSLMODE
//   - MONITOR_AUTHENTICATED, MONITOR_TRACK_PICTURES, MONITOR_HISTORY_KEEP
//   - QUEUE_BATCH_SIZE, QUEUE_MIN_REVISIT_INTERVAL, QUEUE_MAX_RETRIES,
//     QUEUE_MAX_PARALLEL, QUEUE_MAX_SIZE
//   - NOTIFY_COUNTS, NOTIFY_TEXT, NOTIFY_FLAGS, NOTIFY_PICTURES,
//     NOTIFY_FRIENDS, NOTIFY_MILESTONES
//
// Returns a Config instance, or an error if loading fails.
func LoadConfigFromEnv() (*Config, error) {
	envPath, found := FindEnvFile()
	if found {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	provider := getEnvOrDefault("STORE_PROVIDER", "file")

	store := StoreConfig{
		Provider: provider,
		Path:     getEnvOrDefault("STORE_PATH", "./monitoring_data"),
	}
	if provider == "postgres" {
		port, _ := strconv.Atoi(getEnvOrDefault("POSTGRES_PORT", "5432"))
		store.Host = getEnvOrDefault("POSTGRES_HOST", "localhost")
		store.Port = port
		store.User = getEnvOrDefault("POSTGRES_USER", "postgres")
		store.Password = os.Getenv("POSTGRES_PASSWORD")
		store.DBName = getEnvOrDefault("POSTGRES_DATABASE", "profilewatch")
		store.SSLMode = getEnvOrDefault("POSTGRES_SSLMODE", "disable")
	}

	revisit, err := time.ParseDuration(getEnvOrDefault("QUEUE_MIN_REVISIT_INTERVAL", "6h"))
	if err != nil {
		return nil, NewMonitorError("LoadConfigFromEnv", err)
	}

	config := &Config{
		Monitor: MonitorConfig{
			Authenticated: getEnvBool("MONITOR_AUTHENTICATED", false),
			TrackPictures: getEnvBool("MONITOR_TRACK_PICTURES", true),
			HistoryKeep:   getEnvInt("MONITOR_HISTORY_KEEP", DefaultHistoryKeep),
			ChangesKeep:   getEnvInt("MONITOR_CHANGES_KEEP", DefaultChangesKeep),
		},
		Queue: QueueConfig{
			BatchSize:          getEnvInt("QUEUE_BATCH_SIZE", DefaultBatchSize),
			MinRevisitInterval: revisit,
			MaxRetryAttempts:   getEnvInt("QUEUE_MAX_RETRIES", DefaultMaxRetryAttempts),
			MaxParallelFetch:   getEnvInt("QUEUE_MAX_PARALLEL", DefaultMaxParallelFetch),
			MaxQueueSize:       getEnvInt("QUEUE_MAX_SIZE", DefaultMaxQueueSize),
		},
		Notify: NotifyConfig{
			Counts:     getEnvBool("NOTIFY_COUNTS", true),
			Text:       getEnvBool("NOTIFY_TEXT", true),
			Flags:      getEnvBool("NOTIFY_FLAGS", true),
			Pictures:   getEnvBool("NOTIFY_PICTURES", true),
			Friends:    getEnvBool("NOTIFY_FRIENDS", true),
			Milestones: getEnvBool("NOTIFY_MILESTONES", true),
		},
		Store: store,
	}

	if order := os.Getenv("QUEUE_PRIORITY_ORDER"); order != "" {
		for _, c := range strings.Split(order, ",") {
			config.Queue.PriorityOrder = append(config.Queue.PriorityOrder, FriendCategory(strings.TrimSpace(c)))
		}
	}

	return config, nil
}

// LoadConfigFromJSON loads configuration from a JSON file.
//
// Durations in the queue section are encoded in nanoseconds, matching
// time.Duration's JSON representation.
func LoadConfigFromJSON(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, NewMonitorError("LoadConfigFromJSON", err)
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, NewMonitorError("LoadConfigFromJSON", err)
	}

	return &config, nil
}

// Validate validates the configuration.
//
// Checks that a storage provider is set, that the priority order (when
// given) names known categories, and that numeric bounds are non-negative.
func (c *Config) Validate() error {
	switch c.Store.Provider {
	case "file", "sqlite", "postgres":
	case "":
		return NewMonitorError("Validate", ErrInvalidConfig)
	default:
		return NewMonitorError("Validate", ErrInvalidConfig)
	}

	for _, cat := range c.Queue.PriorityOrder {
		switch cat {
		case CategoryMutual, CategoryFollowersOnly, CategoryFollowingOnly, CategoryManual:
		default:
			return NewMonitorError("Validate", ErrInvalidConfig)
		}
	}

	if c.Queue.BatchSize < 0 || c.Queue.MaxRetryAttempts < 0 ||
		c.Queue.MaxParallelFetch < 0 || c.Queue.MinRevisitInterval < 0 {
		return NewMonitorError("Validate", ErrInvalidConfig)
	}

	return nil
}

// ApplyDefaults fills zero values with package defaults so a sparse Config
// is usable.
func (c *Config) ApplyDefaults() {
	if c.Monitor.HistoryKeep == 0 {
		c.Monitor.HistoryKeep = DefaultHistoryKeep
	}
	if c.Monitor.ChangesKeep == 0 {
		c.Monitor.ChangesKeep = DefaultChangesKeep
	}
	if c.Queue.BatchSize == 0 {
		c.Queue.BatchSize = DefaultBatchSize
	}
	if c.Queue.MinRevisitInterval == 0 {
		c.Queue.MinRevisitInterval = DefaultMinRevisitInterval
	}
	if c.Queue.MaxRetryAttempts == 0 {
		c.Queue.MaxRetryAttempts = DefaultMaxRetryAttempts
	}
	if c.Queue.MaxParallelFetch == 0 {
		c.Queue.MaxParallelFetch = DefaultMaxParallelFetch
	}
	if c.Queue.MaxQueueSize == 0 {
		c.Queue.MaxQueueSize = DefaultMaxQueueSize
	}
	if len(c.Queue.PriorityOrder) == 0 {
		c.Queue.PriorityOrder = DefaultPriorityOrder()
	}
	if len(c.Notify.MilestoneThresholds) == 0 {
		c.Notify.MilestoneThresholds = DefaultMilestoneThresholds()
	}
}

// getEnvOrDefault gets an environment variable or returns the default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool parses a boolean environment variable.
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

// getEnvInt parses an integer environment variable.
func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

// FindEnvFile searches for .env or .env.example files.
//
// The search:
//  1. Checks the current directory
//  2. Searches up to 5 directory levels up
//  3. Returns the first .env or .env.example file found
func FindEnvFile() (string, bool) {
	if _, err := os.Stat(".env"); err == nil {
		return ".env", true
	}
	if _, err := os.Stat(".env.example"); err == nil {
		return ".env.example", true
	}

	dir, _ := os.Getwd()
	for i := 0; i < 5; i++ {
		envPath := filepath.Join(dir, ".env")
		envExamplePath := filepath.Join(dir, ".env.example")

		if _, err := os.Stat(envPath); err == nil {
			return envPath, true
		}
		if _, err := os.Stat(envExamplePath); err == nil {
			return envExamplePath, true
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", false
}
