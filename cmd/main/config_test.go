package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfigWritesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	config, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() failed: %v", err)
	}
	if config.Server.ApiAddr != ":7487" {
		t.Errorf("default api addr = %q, want :7487", config.Server.ApiAddr)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("expected defaults to be written to disk: %v", err)
	}

	// A second load must parse the file it just wrote.
	reloaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() of written defaults failed: %v", err)
	}
	if reloaded.Harvest.Run.Target != config.Harvest.Run.Target {
		t.Errorf("reloaded target = %d, want %d", reloaded.Harvest.Run.Target, config.Harvest.Run.Target)
	}
}

func TestConfigManagerGetIsDeepCopy(t *testing.T) {
	cm, err := NewConfigManager(filepath.Join(t.TempDir(), "config.json"))
	if err != nil {
		t.Fatalf("NewConfigManager() failed: %v", err)
	}

	got := cm.Get()
	origAddr := got.Server.ApiAddr
	origSmoothing := got.Scoring.Smoothing

	got.Server.ApiAddr = ":9999"
	got.Harvest.Run.Target = -1
	got.Scoring.Smoothing = 42
	got.Prompts.TemplateWhitelist = append(got.Prompts.TemplateWhitelist, "sneaky.tmpl.txt")

	fresh := cm.Get()
	if fresh.Server.ApiAddr != origAddr {
		t.Errorf("mutating a copy changed the live api addr to %q", fresh.Server.ApiAddr)
	}
	if fresh.Harvest.Run.Target == -1 {
		t.Error("mutating a copy changed the live harvest target")
	}
	if fresh.Scoring.Smoothing != origSmoothing {
		t.Errorf("mutating a copy changed the live smoothing to %f", fresh.Scoring.Smoothing)
	}
	for _, name := range fresh.Prompts.TemplateWhitelist {
		if name == "sneaky.tmpl.txt" {
			t.Error("appending to a copied whitelist leaked into the live config")
		}
	}
}
