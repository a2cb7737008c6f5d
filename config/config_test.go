package config

import (
	"errors"
	"flag"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/containerman17/gcs-block-sync/planner"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"CONFIG_FILE", "BLOCKS_DIR", "NETWORK", "BUCKET", "QUERY_FILE", "LS_FILE",
		"CATALOG_PATH", "GSUTIL_BINARY", "SERVER_ADDR", "METRICS_ADDR", "HEIGHT_BUFFER",
		"LOOKAHEAD", "TRAILING_MARGIN", "MAX_RETRIES", "POLL_INTERVAL", "STRICT",
		"SKIP_FULL_LISTING", "START_HEIGHT",
	} {
		t.Setenv(key, "")
	}
}

func TestDefaults(t *testing.T) {
	tests := []struct {
		mode      Mode
		dir       string
		buffer    uint64
		lookahead uint64
	}{
		{ModeAll, ".mina-indexer-contiguous-blocks", 0, 0},
		{ModeContiguous, ".mina-indexer-contiguous-blocks", 0, 0},
		{ModeNewOnly, ".mina-indexer-new-blocks", 10, 0},
		{ModeLoop, ".mina-indexer-loop-blocks", 5, 100},
	}

	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			cfg := Defaults(tt.mode)
			if filepath.Base(cfg.LocalDirectory) != tt.dir {
				t.Errorf("LocalDirectory = %s, want .../%s", cfg.LocalDirectory, tt.dir)
			}
			if cfg.HeightBuffer != tt.buffer {
				t.Errorf("HeightBuffer = %d, want %d", cfg.HeightBuffer, tt.buffer)
			}
			if cfg.LookaheadAdditional != tt.lookahead {
				t.Errorf("LookaheadAdditional = %d, want %d", cfg.LookaheadAdditional, tt.lookahead)
			}
			if cfg.NetworkName != "mainnet" || cfg.BucketName != "mina_network_block_data" {
				t.Errorf("network/bucket = %s/%s", cfg.NetworkName, cfg.BucketName)
			}
			if cfg.PollInterval != 10*time.Second {
				t.Errorf("PollInterval = %s", cfg.PollInterval)
			}
			if err := cfg.Validate(); err != nil {
				t.Errorf("defaults invalid: %v", err)
			}
		})
	}
}

func TestParseMode(t *testing.T) {
	if m, err := ParseMode("new-only"); err != nil || m != ModeNewOnly {
		t.Errorf("ParseMode(new-only) = %q, %v", m, err)
	}
	if _, err := ParseMode("sometimes"); !errors.Is(err, ErrUnknownMode) {
		t.Errorf("err = %v, want ErrUnknownMode", err)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
local_directory: /data/blocks
network_name: devnet
height_buffer: 7
explicit_start_height: 1000
poll_interval: 30s
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := Defaults(ModeNewOnly)
	if err := cfg.LoadFile(path); err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if cfg.LocalDirectory != "/data/blocks" || cfg.NetworkName != "devnet" {
		t.Errorf("dir/network = %s/%s", cfg.LocalDirectory, cfg.NetworkName)
	}
	if cfg.HeightBuffer != 7 || cfg.PollInterval != 30*time.Second {
		t.Errorf("buffer/interval = %d/%s", cfg.HeightBuffer, cfg.PollInterval)
	}
	if cfg.ExplicitStartHeight == nil || *cfg.ExplicitStartHeight != 1000 {
		t.Errorf("ExplicitStartHeight = %v", cfg.ExplicitStartHeight)
	}
	// Absent fields keep their defaults
	if cfg.BucketName != "mina_network_block_data" {
		t.Errorf("BucketName = %s", cfg.BucketName)
	}

	if err := cfg.LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("missing file should fail")
	}
}

func TestApplyEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("BLOCKS_DIR", "/env/blocks")
	t.Setenv("HEIGHT_BUFFER", "3")
	t.Setenv("POLL_INTERVAL", "20")
	t.Setenv("STRICT", "true")

	cfg := Defaults(ModeLoop)
	if err := cfg.ApplyEnv(); err != nil {
		t.Fatalf("ApplyEnv failed: %v", err)
	}
	if cfg.LocalDirectory != "/env/blocks" || cfg.HeightBuffer != 3 {
		t.Errorf("dir/buffer = %s/%d", cfg.LocalDirectory, cfg.HeightBuffer)
	}
	if cfg.PollInterval != 20*time.Second {
		t.Errorf("PollInterval = %s", cfg.PollInterval)
	}
	if !cfg.StrictForward {
		t.Error("STRICT not applied")
	}

	t.Setenv("HEIGHT_BUFFER", "lots")
	if err := cfg.ApplyEnv(); err == nil || !strings.Contains(err.Error(), "HEIGHT_BUFFER") {
		t.Errorf("err = %v, want HEIGHT_BUFFER parse error", err)
	}
}

func TestLoadPrecedence(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("network_name: devnet\nheight_buffer: 8\nbucket_name: file-bucket\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("HEIGHT_BUFFER", "9")

	cfg, err := Load(ModeLoop, []string{"-network", "mainnet,devnet", "-frequency", "1m"})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.BucketName != "file-bucket" {
		t.Errorf("file value lost: %s", cfg.BucketName)
	}
	if cfg.HeightBuffer != 9 {
		t.Errorf("env should override file: %d", cfg.HeightBuffer)
	}
	if cfg.PollInterval != time.Minute {
		t.Errorf("flag should override default: %s", cfg.PollInterval)
	}
	if got := cfg.Networks(); len(got) != 2 || got[0] != "mainnet" || got[1] != "devnet" {
		t.Errorf("Networks = %v", got)
	}
}

func TestNewOnlyFlags(t *testing.T) {
	cfg := Defaults(ModeNewOnly)
	fs := flag.NewFlagSet("new-only", flag.ContinueOnError)
	cfg.BindFlags(fs)
	if err := fs.Parse([]string{"-start", "500", "-skip-ls"}); err != nil {
		t.Fatal(err)
	}
	if cfg.ExplicitStartHeight == nil || *cfg.ExplicitStartHeight != 500 {
		t.Errorf("ExplicitStartHeight = %v", cfg.ExplicitStartHeight)
	}
	if !cfg.SkipFullListing {
		t.Error("skip-ls not applied")
	}
	if p := cfg.Policy(); p.Kind != planner.KindExplicitStart || p.Start != 500 {
		t.Errorf("Policy = %v", p)
	}
}

func TestValidate(t *testing.T) {
	start := uint64(10)

	tests := []struct {
		name   string
		modify func(*Config)
		want   error
	}{
		{"strict with start", func(c *Config) { c.StrictForward = true; c.ExplicitStartHeight = &start }, ErrPolicyConflict},
		{"strict alone", func(c *Config) { c.StrictForward = true }, nil},
		{"start alone", func(c *Config) { c.ExplicitStartHeight = &start }, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults(ModeNewOnly)
			tt.modify(&cfg)
			if err := cfg.Validate(); !errors.Is(err, tt.want) {
				t.Errorf("Validate() = %v, want %v", err, tt.want)
			}
		})
	}

	invalid := []func(*Config){
		func(c *Config) { c.LocalDirectory = "" },
		func(c *Config) { c.BucketName = "" },
		func(c *Config) { c.NetworkName = " , " },
		func(c *Config) { c.NetworkName = "main*" },
		func(c *Config) { c.NetworkName = "mainnet,devnet" },
	}
	for i, modify := range invalid {
		cfg := Defaults(ModeNewOnly)
		modify(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("case %d: expected an error", i)
		}
	}

	loop := Defaults(ModeLoop)
	loop.PollInterval = 0
	if err := loop.Validate(); err == nil {
		t.Error("zero poll interval should be rejected in loop mode")
	}
}

func TestSyncerConfig(t *testing.T) {
	cfg := Defaults(ModeLoop)
	cfg.NetworkName = "mainnet,devnet"

	sc := cfg.Syncer("devnet")
	if sc.Network != "devnet" || sc.BatchPath != cfg.BatchFile+"-devnet" {
		t.Errorf("network/batch = %s/%s", sc.Network, sc.BatchPath)
	}
	if sc.Policy != planner.Buffered(5) {
		t.Errorf("Policy = %v", sc.Policy)
	}
	// 10s interval, 3s spacing: 10/3 + 1
	if sc.PollLookahead != 4 {
		t.Errorf("PollLookahead = %d, want 4", sc.PollLookahead)
	}
	if sc.CatchUpLookahead != 100 {
		t.Errorf("CatchUpLookahead = %d", sc.CatchUpLookahead)
	}

	cfg.NetworkName = "mainnet"
	if got := cfg.BatchPath("mainnet"); got != cfg.BatchFile {
		t.Errorf("single network batch path = %s", got)
	}
}
