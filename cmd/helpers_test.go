package cmd

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"github.com/ziadkadry99/tracegraph/internal/compliance"
	"github.com/ziadkadry99/tracegraph/internal/config"
	"github.com/ziadkadry99/tracegraph/internal/graph"
	"github.com/ziadkadry99/tracegraph/internal/store"
)

func TestOpenAppWiresService(t *testing.T) {
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.DatabasePath = filepath.Join(dir, "data", "graph.db")
	cfg.Cache.Backend = config.CacheMemory
	cfg.Log.Format = config.LogJSON
	path := filepath.Join(dir, ".tracegraph.yml")
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	old := cfgFile
	cfgFile = path
	t.Cleanup(func() { cfgFile = old })

	a, err := openApp(false)
	if err != nil {
		t.Fatalf("openApp: %v", err)
	}
	defer a.Close()

	ctx := context.Background()
	if _, _, err := a.svc.CreateArtifact(ctx, store.NewArtifact{ID: "CC6.1", Kind: graph.KindControl, FrameworkID: "SOC2"}); err != nil {
		t.Fatalf("CreateArtifact: %v", err)
	}
	score, err := a.svc.ScoreOf(ctx, "CC6.1", compliance.At{})
	if err != nil {
		t.Fatalf("ScoreOf: %v", err)
	}
	if score.Value != 0 || !score.Unmapped {
		t.Errorf("score = %+v, want unmapped 0", score)
	}

	families, err := a.registry.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	found := false
	for _, f := range families {
		if f.GetName() == "tracegraph_commands_total" {
			found = true
		}
	}
	if !found {
		t.Error("commands counter not registered")
	}
}

func TestOpenAppRejectsInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.DatabasePath = filepath.Join(dir, "graph.db")
	cfg.Evidence.FreshnessWindow = "soon"
	path := filepath.Join(dir, ".tracegraph.yml")
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	old := cfgFile
	cfgFile = path
	t.Cleanup(func() { cfgFile = old })

	if _, err := openApp(false); err == nil {
		t.Fatal("expected invalid config error")
	}
}

func TestPinFrom(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    pinWant
		wantErr bool
	}{
		{name: "defaults", args: nil},
		{name: "version", args: []string{"--version", "7"}, want: pinWant{version: 7}},
		{name: "as of", args: []string{"--as-of", "2026-03-01T09:00:00Z"},
			want: pinWant{asOf: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}},
		{name: "negative version", args: []string{"--version=-1"}, wantErr: true},
		{name: "bad time", args: []string{"--as-of", "yesterday"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &cobra.Command{Use: "x"}
			pinFlags(c)
			if err := c.ParseFlags(tt.args); err != nil {
				t.Fatalf("ParseFlags: %v", err)
			}
			at, err := pinFrom(c)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("pinFrom: %v", err)
			}
			if at.Version != tt.want.version || !at.AsOf.Equal(tt.want.asOf) {
				t.Errorf("pinFrom = %+v, want %+v", at, tt.want)
			}
		})
	}
}

type pinWant struct {
	version int64
	asOf    time.Time
}

func TestBuildLoggerFormats(t *testing.T) {
	for _, format := range []config.LogFormat{config.LogJSON, config.LogConsole} {
		cfg := config.DefaultConfig()
		cfg.Log.Format = format
		logger, err := buildLogger(cfg)
		if err != nil {
			t.Fatalf("buildLogger(%s): %v", format, err)
		}
		if logger == nil {
			t.Fatalf("buildLogger(%s) returned nil", format)
		}
	}
}
