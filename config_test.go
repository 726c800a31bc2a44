package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSettingsRoundTrip(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	sm, err := NewSettingsManager()
	if err != nil {
		t.Fatalf("NewSettingsManager: %v", err)
	}

	saved := UserSettings{Name: "alice", SignalURL: "ws://example.test/ws"}
	if err := sm.Save(saved); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := sm.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded != saved {
		t.Fatalf("loaded = %+v, want %+v", loaded, saved)
	}
}

func TestSettingsMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	sm, err := NewSettingsManager()
	if err != nil {
		t.Fatalf("NewSettingsManager: %v", err)
	}

	settings, err := sm.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if settings.SignalURL != DefaultSignalServer {
		t.Fatalf("SignalURL = %q, want default relay", settings.SignalURL)
	}
	if settings.Name != "" {
		t.Fatalf("Name = %q, want empty", settings.Name)
	}
}

func TestSettingsInvalidJSONUsesDefaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	path := filepath.Join(dir, "gomeet", "config.json")
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	sm, err := NewSettingsManager()
	if err != nil {
		t.Fatalf("NewSettingsManager: %v", err)
	}
	settings, err := sm.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if settings.SignalURL != DefaultSignalServer {
		t.Fatalf("SignalURL = %q, want default after invalid file", settings.SignalURL)
	}
}
