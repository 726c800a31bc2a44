package main

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// UserSettings holds persistable user preferences
type UserSettings struct {
	Name      string `json:"name"`
	SignalURL string `json:"signalUrl"`
}

// SettingsManager handles loading and saving user settings
type SettingsManager struct {
	path string
}

// NewSettingsManager creates a settings manager with the default config path
func NewSettingsManager() (*SettingsManager, error) {
	path, err := getConfigPath()
	if err != nil {
		return nil, err
	}
	return &SettingsManager{path: path}, nil
}

// getConfigPath returns the config file path.
// Uses XDG_CONFIG_HOME if set, otherwise the OS user config dir.
func getConfigPath() (string, error) {
	var configDir string

	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		configDir = filepath.Join(xdg, "gomeet")
	} else {
		userConfigDir, err := os.UserConfigDir()
		if err != nil {
			return "", err
		}
		configDir = filepath.Join(userConfigDir, "gomeet")
	}

	return filepath.Join(configDir, "config.json"), nil
}

// DefaultSettings returns the default settings
func DefaultSettings() UserSettings {
	return UserSettings{
		SignalURL: DefaultSignalServer,
	}
}

// Load reads settings from the config file.
// Returns default settings if file doesn't exist or is invalid.
func (sm *SettingsManager) Load() (UserSettings, error) {
	settings := DefaultSettings()

	data, err := os.ReadFile(sm.path)
	if err != nil {
		if os.IsNotExist(err) {
			// File doesn't exist - use defaults, not an error
			return settings, nil
		}
		return settings, err
	}

	if err := json.Unmarshal(data, &settings); err != nil {
		// Invalid JSON - use defaults
		return DefaultSettings(), nil
	}

	if settings.SignalURL == "" {
		settings.SignalURL = DefaultSignalServer
	}

	return settings, nil
}

// Save writes current settings to the config file
func (sm *SettingsManager) Save(settings UserSettings) error {
	dir := filepath.Dir(sm.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(sm.path, data, 0644)
}

// logFilePath returns the file the TUI redirects logging to, so log lines
// never tear the rendered UI.
func logFilePath() string {
	configPath, err := getConfigPath()
	if err != nil {
		return "gomeet.log"
	}
	return filepath.Join(filepath.Dir(configPath), "gomeet.log")
}
