package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
)

// Default values applied by DefaultConfig.
const (
	DefaultPollIntervalMs   = 100
	DefaultExecutableSuffix = "fme.exe"
)

// DefaultRequiredParameters are the dataset parameters a workspace must declare
// for its input and output to be wired to GeoJSON files.
var DefaultRequiredParameters = []string{"SourceDataset_GEOJSON", "DestDataset_GEOJSON"}

// Config holds application configuration.
type Config struct {
	// PollIntervalMs is how often a running translation is ticked (stdout drained, exit checked).
	PollIntervalMs int `json:"poll_interval_ms"`

	// TempDir is where generated input/output GeoJSON pairs are placed.
	// Empty means <base>/temp (resolved by the caller that knows the base directory).
	TempDir string `json:"temp_dir,omitempty"`

	// ExecutableSuffix is the case-insensitive filename suffix a saved executable path must have.
	ExecutableSuffix string `json:"executable_suffix,omitempty"`

	// RequiredParameters lists workspace parameters without which a workspace is flagged incompatible.
	// Arrays merge across global and repo config, so repo config can only add names.
	RequiredParameters []string `json:"required_parameters,omitempty"`

	// CheckCompatibility controls whether a missing required parameter is surfaced as a warning.
	// Pointer so that an explicit false in repo config overrides a global true.
	CheckCompatibility *bool `json:"check_compatibility,omitempty"`

	// ScratchLayers loads results as in-memory copies instead of references to the output file.
	ScratchLayers bool `json:"scratch_layers,omitempty"`

	// AllowedPaths is an allowlist of directories for run history exports.
	// Paths outside ~/.fmebridge/exports require either being in this list or AllowUnsafePaths=true.
	AllowedPaths []string `json:"allowed_paths,omitempty"`

	// AllowUnsafePaths disables directory restrictions for exports (symlink and extension checks still apply).
	AllowUnsafePaths bool `json:"allow_unsafe_paths,omitempty"`

	// DBMaxOpenConns limits the maximum number of open database connections.
	// 0 means use sql.DB default (unlimited).
	DBMaxOpenConns int `json:"db_max_open_conns,omitempty"`

	// DBMaxIdleConns limits the maximum number of idle database connections.
	DBMaxIdleConns int `json:"db_max_idle_conns,omitempty"`

	// DisabledTools is a list of MCP tool names to exclude from registration.
	DisabledTools []string `json:"disabled_tools,omitempty"`

	// DisabledTypes is a list of tool type prefixes to disable entirely.
	// Known types: "workspace", "command", "exe", "runs", "layers".
	DisabledTypes []string `json:"disabled_types,omitempty"`

	// LogLevel is a zerolog level name ("debug", "info", "warn", "error").
	LogLevel string `json:"log_level,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	check := true
	return &Config{
		PollIntervalMs:     DefaultPollIntervalMs,
		ExecutableSuffix:   DefaultExecutableSuffix,
		RequiredParameters: append([]string(nil), DefaultRequiredParameters...),
		CheckCompatibility: &check,
		LogLevel:           "info",
	}
}

// CompatibilityChecked reports whether compatibility warnings are enabled.
func (c *Config) CompatibilityChecked() bool {
	return c.CheckCompatibility == nil || *c.CheckCompatibility
}

// ResolveTempDir returns TempDir, or <baseDir>/temp when unset.
func (c *Config) ResolveTempDir(baseDir string) string {
	if strings.TrimSpace(c.TempDir) != "" {
		return c.TempDir
	}
	return filepath.Join(baseDir, "temp")
}

// Load loads configuration from baseDir/config.json.
// Returns default config if the file doesn't exist.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.fmebridge.
func Load(baseDir string) (*Config, error) {
	return loadFile(filepath.Join(baseDir, "config.json"))
}

// LoadWithRepo loads configuration from both global (~/.fmebridge) and repo (.fmebridge) directories.
// Repo config is found by walking upward from startDir to find the nearest .fmebridge/config.json.
// Repo config takes precedence for scalar values; arrays are merged (deduplicated).
func LoadWithRepo(globalDir, startDir string) (*Config, error) {
	global, err := loadFileRaw(filepath.Join(globalDir, "config.json"))
	if err != nil {
		return nil, err
	}

	repo, err := loadFileRaw(FindRepoConfig(startDir))
	if err != nil {
		return nil, err
	}

	// Apply defaults, then global, then repo
	return Merge(Merge(DefaultConfig(), global), repo), nil
}

// FindRepoConfig walks upward from startDir to find the nearest .fmebridge/config.json.
// Returns the path if found, or empty string if not found.
func FindRepoConfig(startDir string) string {
	if startDir == "" {
		return ""
	}
	dir := startDir
	for {
		configPath := filepath.Join(dir, ".fmebridge", "config.json")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// loadFileRaw loads configuration from a specific file path.
// Returns zero-valued config if the path is empty or the file doesn't exist (not defaults).
func loadFileRaw(configPath string) (*Config, error) {
	if configPath == "" {
		return &Config{}, nil
	}
	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, err
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadFile loads configuration from a specific file path.
// Returns default config if the file doesn't exist.
func loadFile(configPath string) (*Config, error) {
	cfg, err := loadFileRaw(configPath)
	if err != nil {
		return nil, err
	}
	return Merge(DefaultConfig(), cfg), nil
}

// Merge combines base and overlay configs.
// Overlay values take precedence for scalars; arrays are merged and deduplicated.
func Merge(base, overlay *Config) *Config {
	result := &Config{}

	// Scalars: overlay wins if non-zero, else base
	result.PollIntervalMs = overlay.PollIntervalMs
	if result.PollIntervalMs <= 0 {
		result.PollIntervalMs = base.PollIntervalMs
	}

	result.TempDir = firstNonEmpty(overlay.TempDir, base.TempDir)
	result.ExecutableSuffix = firstNonEmpty(overlay.ExecutableSuffix, base.ExecutableSuffix)
	result.LogLevel = firstNonEmpty(overlay.LogLevel, base.LogLevel)

	result.DBMaxOpenConns = overlay.DBMaxOpenConns
	if result.DBMaxOpenConns == 0 {
		result.DBMaxOpenConns = base.DBMaxOpenConns
	}

	result.DBMaxIdleConns = overlay.DBMaxIdleConns
	if result.DBMaxIdleConns == 0 {
		result.DBMaxIdleConns = base.DBMaxIdleConns
	}

	result.CheckCompatibility = overlay.CheckCompatibility
	if result.CheckCompatibility == nil {
		result.CheckCompatibility = base.CheckCompatibility
	}

	// Booleans: overlay wins if true, else base
	result.AllowUnsafePaths = base.AllowUnsafePaths || overlay.AllowUnsafePaths
	result.ScratchLayers = base.ScratchLayers || overlay.ScratchLayers

	// Arrays: merge and deduplicate
	result.RequiredParameters = mergeStringSlice(base.RequiredParameters, overlay.RequiredParameters)
	result.AllowedPaths = mergeStringSlice(base.AllowedPaths, overlay.AllowedPaths)
	result.DisabledTools = mergeStringSlice(base.DisabledTools, overlay.DisabledTools)
	result.DisabledTypes = mergeStringSlice(base.DisabledTypes, overlay.DisabledTypes)

	return result
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// mergeStringSlice combines two slices, trims whitespace, and removes duplicates.
func mergeStringSlice(a, b []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(a)+len(b))

	for _, s := range a {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}
	for _, s := range b {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}

	if len(result) == 0 {
		return nil
	}
	return result
}
