package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Settings represents all application configuration
type Settings struct {
	DataDir         string                 `json:"dataDir"`
	ListenAddr      string                 `json:"listenAddr"`
	DefaultYear     int                    `json:"defaultYear"`
	OutlierCap      int                    `json:"outlierCap"`
	SpecialOpsShare float64                `json:"specialOpsShare"`
	Geocode         GeocodeSettings        `json:"geocode"`
	Preferences     map[string]interface{} `json:"preferences"`
}

// GeocodeSettings tunes the outbound geocoding clients and their cache
type GeocodeSettings struct {
	MinIntervalMS  int    `json:"minIntervalMs"`
	CacheFile      string `json:"cacheFile"`
	CacheTTLHours  int    `json:"cacheTtlHours"`
	SeedPlacesFile string `json:"seedPlacesFile"`
}

// DefaultSettings returns settings with sensible defaults
func DefaultSettings() *Settings {
	return &Settings{
		DataDir:         "./data",
		ListenAddr:      ":8990",
		DefaultYear:     0, // 0 means the latest year present in the data
		OutlierCap:      15,
		SpecialOpsShare: 0.95,
		Geocode: GeocodeSettings{
			MinIntervalMS: 150,
			CacheTTLHours: 24 * 30,
		},
		Preferences: map[string]interface{}{
			"defaultDataset": "budget",
		},
	}
}

// SettingsDir returns the directory holding settings and local caches
func SettingsDir() (string, error) {
	dir := os.Getenv("PARISBUDGET_DIR")
	if dir == "" {
		return "", fmt.Errorf("PARISBUDGET_DIR environment variable not set")
	}
	return dir, nil
}

// LoadSettings loads settings from ${PARISBUDGET_DIR}/settings.json
func LoadSettings() (*Settings, error) {
	dir, err := SettingsDir()
	if err != nil {
		return nil, err
	}

	settingsPath := filepath.Join(dir, "settings.json")

	// Check if file exists
	if _, err := os.Stat(settingsPath); os.IsNotExist(err) {
		// Create default settings if file doesn't exist
		settings := DefaultSettings()
		if err := SaveSettings(settings); err != nil {
			return nil, fmt.Errorf("failed to create default settings: %w", err)
		}
		return settings, nil
	}

	// Read the file
	data, err := os.ReadFile(settingsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read settings file: %w", err)
	}

	// Parse JSON
	var settings Settings
	if err := json.Unmarshal(data, &settings); err != nil {
		return nil, fmt.Errorf("failed to parse settings file: %w", err)
	}

	return &settings, nil
}

// SaveSettings saves settings to ${PARISBUDGET_DIR}/settings.json
func SaveSettings(settings *Settings) error {
	dir, err := SettingsDir()
	if err != nil {
		return err
	}

	// Create directory if it doesn't exist
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create PARISBUDGET_DIR: %w", err)
	}

	settingsPath := filepath.Join(dir, "settings.json")

	// Marshal to JSON with indentation
	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	// Write to file
	if err := os.WriteFile(settingsPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write settings file: %w", err)
	}

	return nil
}

// DataPath returns the data directory with environment variables expanded
func (s *Settings) DataPath() string {
	return os.ExpandEnv(s.DataDir)
}

// GeocodeMinInterval returns the minimum delay between outbound geocoding
// calls
func (s *Settings) GeocodeMinInterval() time.Duration {
	if s.Geocode.MinIntervalMS <= 0 {
		return 150 * time.Millisecond
	}
	return time.Duration(s.Geocode.MinIntervalMS) * time.Millisecond
}

// GeocodeCacheTTL returns how long cached geocoding results stay valid
func (s *Settings) GeocodeCacheTTL() time.Duration {
	if s.Geocode.CacheTTLHours <= 0 {
		return 24 * 30 * time.Hour
	}
	return time.Duration(s.Geocode.CacheTTLHours) * time.Hour
}

// GeocodeCachePath returns the geocoding cache location, defaulting to a
// file next to the settings
func (s *Settings) GeocodeCachePath() (string, error) {
	if s.Geocode.CacheFile != "" {
		return os.ExpandEnv(s.Geocode.CacheFile), nil
	}
	dir, err := SettingsDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "geocode_cache.db"), nil
}

// SeedPlacesPath returns the known-places seed CSV path, "" when unset
func (s *Settings) SeedPlacesPath() string {
	if s.Geocode.SeedPlacesFile == "" {
		return ""
	}
	return os.ExpandEnv(s.Geocode.SeedPlacesFile)
}
