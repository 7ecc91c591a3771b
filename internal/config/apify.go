package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// RuntimeConfig is the typed options bag the crawler runtime reads at
// startup: storage locations, the actor platform's opaque identifiers, and
// the proxy/container endpoints a managed run is given. It generalizes the
// Config/loader.go pattern (viper-backed EngineConfig et al.) to a flat,
// environment-overlaid option set instead of a nested YAML document,
// because these options are conventionally supplied by the hosting
// platform as environment variables rather than a project config file.
type RuntimeConfig struct {
	Token string

	LocalStorageDir           string
	LocalStorageEnableWalMode bool

	DefaultDatasetID       string
	DefaultKeyValueStoreID string
	DefaultRequestQueueID  string

	PersistStateIntervalMillis int
	MetamorphAfterSleepMillis  int

	APIBaseURL string

	ContainerPort int
	ContainerURL  string

	InputKey string

	ProxyHostname  string
	ProxyPort      int
	ProxyStatusURL string

	ActorID     string
	ActorRunID  string
	ActorTaskID string
	UserID      string
	IsAtHome    bool

	ActorEventsWsURL  string
	MaxOpenedStorages int
}

// DefaultRuntimeConfig returns the built-in defaults from §4.5: every field
// a caller doesn't override via environment variable keeps this value.
func DefaultRuntimeConfig() *RuntimeConfig {
	return &RuntimeConfig{
		LocalStorageDir:            "./apify_storage",
		LocalStorageEnableWalMode:  true,
		DefaultDatasetID:           "default",
		DefaultKeyValueStoreID:     "default",
		DefaultRequestQueueID:      "default",
		PersistStateIntervalMillis: 60000,
		MetamorphAfterSleepMillis:  300000,
		ContainerPort:              4321,
		ContainerURL:               "http://localhost:4321",
		InputKey:                   "INPUT",
		ProxyHostname:              "proxy.apify.com",
		ProxyPort:                  8000,
		MaxOpenedStorages:          1000,
	}
}

// envEntry describes one resolvable option: its prefixed and unprefixed
// environment variable names, and a setter that coerces the raw string
// into the right field on cfg.
type envEntry struct {
	prefixed   string
	unprefixed string
	set        func(cfg *RuntimeConfig, raw string) error
}

func envTable() []envEntry {
	str := func(set func(*RuntimeConfig, string)) func(*RuntimeConfig, string) error {
		return func(cfg *RuntimeConfig, raw string) error {
			set(cfg, raw)
			return nil
		}
	}
	intField := func(set func(*RuntimeConfig, int)) func(*RuntimeConfig, string) error {
		return func(cfg *RuntimeConfig, raw string) error {
			v, err := strconv.Atoi(raw)
			if err != nil {
				return fmt.Errorf("expected integer, got %q: %w", raw, err)
			}
			set(cfg, v)
			return nil
		}
	}
	boolField := func(set func(*RuntimeConfig, bool)) func(*RuntimeConfig, string) error {
		return func(cfg *RuntimeConfig, raw string) error {
			v, err := strconv.ParseBool(raw)
			if err != nil {
				return fmt.Errorf("expected boolean, got %q: %w", raw, err)
			}
			set(cfg, v)
			return nil
		}
	}

	return []envEntry{
		{"APIFY_TOKEN", "TOKEN", str(func(c *RuntimeConfig, v string) { c.Token = v })},
		{"APIFY_LOCAL_STORAGE_DIR", "LOCAL_STORAGE_DIR", str(func(c *RuntimeConfig, v string) { c.LocalStorageDir = v })},
		{"APIFY_LOCAL_STORAGE_ENABLE_WAL_MODE", "LOCAL_STORAGE_ENABLE_WAL_MODE", boolField(func(c *RuntimeConfig, v bool) { c.LocalStorageEnableWalMode = v })},
		{"APIFY_DEFAULT_DATASET_ID", "DEFAULT_DATASET_ID", str(func(c *RuntimeConfig, v string) { c.DefaultDatasetID = v })},
		{"APIFY_DEFAULT_KEY_VALUE_STORE_ID", "DEFAULT_KEY_VALUE_STORE_ID", str(func(c *RuntimeConfig, v string) { c.DefaultKeyValueStoreID = v })},
		{"APIFY_DEFAULT_REQUEST_QUEUE_ID", "DEFAULT_REQUEST_QUEUE_ID", str(func(c *RuntimeConfig, v string) { c.DefaultRequestQueueID = v })},
		{"APIFY_PERSIST_STATE_INTERVAL_MILLIS", "PERSIST_STATE_INTERVAL_MILLIS", intField(func(c *RuntimeConfig, v int) { c.PersistStateIntervalMillis = v })},
		{"APIFY_METAMORPH_AFTER_SLEEP_MILLIS", "METAMORPH_AFTER_SLEEP_MILLIS", intField(func(c *RuntimeConfig, v int) { c.MetamorphAfterSleepMillis = v })},
		{"APIFY_API_BASE_URL", "API_BASE_URL", str(func(c *RuntimeConfig, v string) { c.APIBaseURL = v })},
		{"APIFY_CONTAINER_PORT", "CONTAINER_PORT", intField(func(c *RuntimeConfig, v int) { c.ContainerPort = v })},
		{"APIFY_CONTAINER_URL", "CONTAINER_URL", str(func(c *RuntimeConfig, v string) { c.ContainerURL = v })},
		{"APIFY_INPUT_KEY", "INPUT_KEY", str(func(c *RuntimeConfig, v string) { c.InputKey = v })},
		{"APIFY_PROXY_HOSTNAME", "PROXY_HOSTNAME", str(func(c *RuntimeConfig, v string) { c.ProxyHostname = v })},
		{"APIFY_PROXY_PORT", "PROXY_PORT", intField(func(c *RuntimeConfig, v int) { c.ProxyPort = v })},
		{"APIFY_PROXY_STATUS_URL", "PROXY_STATUS_URL", str(func(c *RuntimeConfig, v string) { c.ProxyStatusURL = v })},
		{"APIFY_ACTOR_ID", "ACTOR_ID", str(func(c *RuntimeConfig, v string) { c.ActorID = v })},
		{"APIFY_ACTOR_RUN_ID", "ACTOR_RUN_ID", str(func(c *RuntimeConfig, v string) { c.ActorRunID = v })},
		{"APIFY_ACTOR_TASK_ID", "ACTOR_TASK_ID", str(func(c *RuntimeConfig, v string) { c.ActorTaskID = v })},
		{"APIFY_USER_ID", "USER_ID", str(func(c *RuntimeConfig, v string) { c.UserID = v })},
		{"APIFY_IS_AT_HOME", "IS_AT_HOME", boolField(func(c *RuntimeConfig, v bool) { c.IsAtHome = v })},
		{"APIFY_ACTOR_EVENTS_WS_URL", "ACTOR_EVENTS_WS_URL", str(func(c *RuntimeConfig, v string) { c.ActorEventsWsURL = v })},
		{"APIFY_MAX_OPENED_STORAGES", "MAX_OPENED_STORAGES", intField(func(c *RuntimeConfig, v int) { c.MaxOpenedStorages = v })},
	}
}

// LoadRuntimeConfig resolves the options bag from the process environment
// on top of the built-in defaults. For each option, a prefixed
// (APIFY_<NAME>) variable wins over its unprefixed (<NAME>) counterpart,
// which wins over the default.
func LoadRuntimeConfig() (*RuntimeConfig, error) {
	cfg := DefaultRuntimeConfig()

	for _, entry := range envTable() {
		raw, ok := lookupEnv(entry.prefixed, entry.unprefixed)
		if !ok {
			continue
		}
		if err := entry.set(cfg, raw); err != nil {
			return nil, fmt.Errorf("invalid value for %s: %w", entry.prefixed, err)
		}
	}

	return cfg, nil
}

func lookupEnv(prefixed, unprefixed string) (string, bool) {
	if v, ok := os.LookupEnv(prefixed); ok && strings.TrimSpace(v) != "" {
		return v, true
	}
	if v, ok := os.LookupEnv(unprefixed); ok && strings.TrimSpace(v) != "" {
		return v, true
	}
	return "", false
}
