// Package config resolves run settings from defaults, an optional YAML file,
// the environment (.env included) and command-line flags, in that order.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/containerman17/gcs-block-sync/consts"
	"github.com/containerman17/gcs-block-sync/planner"
	"github.com/containerman17/gcs-block-sync/syncer"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

var (
	ErrPolicyConflict = errors.New("strict forward and an explicit start height are mutually exclusive")
	ErrUnknownMode    = errors.New("unknown mode")
)

// Mode selects what a run does
type Mode string

const (
	ModeAll        Mode = "all"
	ModeContiguous Mode = "contiguous"
	ModeNewOnly    Mode = "new-only"
	ModeLoop       Mode = "loop"
)

func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeAll, ModeContiguous, ModeNewOnly, ModeLoop:
		return m, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownMode, s)
}

type Config struct {
	Mode Mode `yaml:"-"`

	LocalDirectory string `yaml:"local_directory"`
	// NetworkName may list several networks separated by commas (loop mode)
	NetworkName         string        `yaml:"network_name"`
	BucketName          string        `yaml:"bucket_name"`
	HeightBuffer        uint64        `yaml:"height_buffer"`
	ExplicitStartHeight *uint64       `yaml:"explicit_start_height"`
	StrictForward       bool          `yaml:"strict_forward"`
	PollInterval        time.Duration `yaml:"poll_interval"`
	LookaheadAdditional uint64        `yaml:"lookahead_additional"`
	SkipFullListing     bool          `yaml:"skip_full_listing"`

	ContiguousStart uint64 `yaml:"contiguous_start"`
	ContiguousCount uint64 `yaml:"contiguous_count"`

	BatchFile   string `yaml:"batch_file"`
	ListingFile string `yaml:"listing_file"`
	CatalogPath string `yaml:"catalog_path"`

	TrailingMargin uint64        `yaml:"trailing_margin"`
	PollSpacing    time.Duration `yaml:"poll_spacing"`
	BlockSpacing   time.Duration `yaml:"block_spacing"`
	MaxRetries     uint64        `yaml:"max_retries"`

	GsutilBinary string `yaml:"gsutil_binary"`
	Parallel     bool   `yaml:"parallel"`
	ServerAddr   string `yaml:"server_addr"`
	MetricsAddr  string `yaml:"metrics_addr"`
}

// Defaults returns the settings a mode starts from. Paths live under the
// user's home directory.
func Defaults(mode Mode) Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	at := func(name string) string { return filepath.Join(home, name) }

	cfg := Config{
		Mode:            mode,
		NetworkName:     consts.DefaultNetwork,
		BucketName:      consts.DefaultBucket,
		PollInterval:    consts.PollInterval,
		ContiguousStart: consts.ContiguousStart,
		ContiguousCount: consts.ContiguousCount,
		ListingFile:     at(".mina-indexer-ls"),
		CatalogPath:     at(".mina-indexer-catalog"),
		TrailingMargin:  consts.CatalogTrailingMargin,
		PollSpacing:     consts.PollHeightSpacing,
		BlockSpacing:    consts.BlockSpacing,
		MaxRetries:      consts.CycleMaxRetries,
		GsutilBinary:    "gsutil",
		Parallel:        true,
		ServerAddr:      consts.ServerListenAddr,
		MetricsAddr:     consts.MetricsListenAddr,
	}

	switch mode {
	case ModeAll:
		cfg.LocalDirectory = at(".mina-indexer-contiguous-blocks")
		cfg.BatchFile = at(".mina-indexer-all-block-queries")
	case ModeContiguous:
		cfg.LocalDirectory = at(".mina-indexer-contiguous-blocks")
		cfg.BatchFile = at(".mina-indexer-contiguous-block-queries")
	case ModeNewOnly:
		cfg.LocalDirectory = at(".mina-indexer-new-blocks")
		cfg.BatchFile = at(".mina-indexer-new-block-queries")
		cfg.HeightBuffer = consts.NewOnlyHeightBuffer
	case ModeLoop:
		cfg.LocalDirectory = at(".mina-indexer-loop-blocks")
		cfg.BatchFile = at(".mina-indexer-loop-block-queries")
		cfg.HeightBuffer = consts.LoopHeightBuffer
		cfg.LookaheadAdditional = consts.CatchUpLookahead
	}
	return cfg
}

// Load resolves the full configuration of a mode from CONFIG_FILE, the
// environment and args
func Load(mode Mode, args []string) (Config, error) {
	_ = godotenv.Load() // Load .env if present

	cfg := Defaults(mode)
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return cfg, err
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return cfg, err
	}

	fs := flag.NewFlagSet(string(mode), flag.ContinueOnError)
	cfg.BindFlags(fs)
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// LoadFile overlays the fields present in a YAML file
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overlays the settings present in the environment
func (c *Config) ApplyEnv() error {
	c.LocalDirectory = getEnvOrDefault("BLOCKS_DIR", c.LocalDirectory)
	c.NetworkName = getEnvOrDefault("NETWORK", c.NetworkName)
	c.BucketName = getEnvOrDefault("BUCKET", c.BucketName)
	c.BatchFile = getEnvOrDefault("QUERY_FILE", c.BatchFile)
	c.ListingFile = getEnvOrDefault("LS_FILE", c.ListingFile)
	c.CatalogPath = getEnvOrDefault("CATALOG_PATH", c.CatalogPath)
	c.GsutilBinary = getEnvOrDefault("GSUTIL_BINARY", c.GsutilBinary)
	c.ServerAddr = getEnvOrDefault("SERVER_ADDR", c.ServerAddr)
	c.MetricsAddr = getEnvOrDefault("METRICS_ADDR", c.MetricsAddr)

	var err error
	if c.HeightBuffer, err = getEnvUintOrDefault("HEIGHT_BUFFER", c.HeightBuffer); err != nil {
		return err
	}
	if c.LookaheadAdditional, err = getEnvUintOrDefault("LOOKAHEAD", c.LookaheadAdditional); err != nil {
		return err
	}
	if c.TrailingMargin, err = getEnvUintOrDefault("TRAILING_MARGIN", c.TrailingMargin); err != nil {
		return err
	}
	if c.MaxRetries, err = getEnvUintOrDefault("MAX_RETRIES", c.MaxRetries); err != nil {
		return err
	}
	if c.PollInterval, err = getEnvDurationOrDefault("POLL_INTERVAL", c.PollInterval); err != nil {
		return err
	}
	if c.StrictForward, err = getEnvBoolOrDefault("STRICT", c.StrictForward); err != nil {
		return err
	}
	if c.SkipFullListing, err = getEnvBoolOrDefault("SKIP_FULL_LISTING", c.SkipFullListing); err != nil {
		return err
	}
	if v := os.Getenv("START_HEIGHT"); v != "" {
		h, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("START_HEIGHT: %w", err)
		}
		c.ExplicitStartHeight = &h
	}
	return nil
}

// BindFlags registers the flags of the config's mode, defaulting to the
// current values
func (c *Config) BindFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.LocalDirectory, "blocks-dir", c.LocalDirectory, "Directory to dump blocks into")
	fs.StringVar(&c.NetworkName, "network", c.NetworkName, "Name of the network (comma-separated for several in loop mode)")
	fs.StringVar(&c.BucketName, "bucket", c.BucketName, "Name of the GCS bucket")
	fs.StringVar(&c.GsutilBinary, "gsutil", c.GsutilBinary, "Path to the gsutil binary")
	fs.BoolVar(&c.Parallel, "parallel", c.Parallel, "Run gsutil with -m")

	switch c.Mode {
	case ModeContiguous:
		fs.StringVar(&c.BatchFile, "query-file", c.BatchFile, "File to write queries to")
		fs.Uint64Var(&c.ContiguousStart, "start", c.ContiguousStart, "Start height")
		fs.Uint64Var(&c.ContiguousCount, "num", c.ContiguousCount, "Number of heights to fetch")
	case ModeNewOnly:
		fs.StringVar(&c.BatchFile, "query-file", c.BatchFile, "File to write queries to")
		fs.StringVar(&c.ListingFile, "ls-file", c.ListingFile, "File to write the full bucket listing to")
		fs.StringVar(&c.CatalogPath, "catalog", c.CatalogPath, "Directory of the listing index")
		fs.Uint64Var(&c.HeightBuffer, "buffer", c.HeightBuffer, "Number of heights below the local max to query")
		fs.Var(optionalUint{&c.ExplicitStartHeight}, "start", "Query from this height instead of the local max")
		fs.BoolVar(&c.StrictForward, "strict", c.StrictForward, "Only query heights above the local max")
		fs.BoolVar(&c.SkipFullListing, "skip-ls", c.SkipFullListing, "Never list the whole bucket")
		fs.Uint64Var(&c.TrailingMargin, "margin", c.TrailingMargin, "Heights below the local max still taken from a full listing")
		fs.DurationVar(&c.BlockSpacing, "block-spacing", c.BlockSpacing, "Assumed interval between blocks")
	case ModeLoop:
		fs.StringVar(&c.BatchFile, "query-file", c.BatchFile, "File to write queries to")
		fs.DurationVar(&c.PollInterval, "frequency", c.PollInterval, "How often to query for new blocks")
		fs.Uint64Var(&c.HeightBuffer, "buffer", c.HeightBuffer, "Number of heights below the local max to query each time")
		fs.Uint64Var(&c.LookaheadAdditional, "additional", c.LookaheadAdditional, "Heights above the local max to query before polling")
		fs.DurationVar(&c.PollSpacing, "poll-spacing", c.PollSpacing, "Poll interval per extra height probed while polling")
		fs.Uint64Var(&c.MaxRetries, "max-retries", c.MaxRetries, "Retries of a failing cycle before giving up")
		fs.StringVar(&c.ServerAddr, "server", c.ServerAddr, "Status server address (empty to disable)")
		fs.StringVar(&c.MetricsAddr, "metrics", c.MetricsAddr, "Metrics server address (empty to disable)")
	}
}

func (c *Config) Validate() error {
	if c.StrictForward && c.ExplicitStartHeight != nil {
		return ErrPolicyConflict
	}
	if c.LocalDirectory == "" {
		return errors.New("local directory is required")
	}
	if c.BucketName == "" {
		return errors.New("bucket name is required")
	}
	networks := c.Networks()
	if len(networks) == 0 {
		return errors.New("network name is required")
	}
	if len(networks) > 1 && c.Mode != ModeLoop {
		return fmt.Errorf("several networks are only supported in loop mode, got %d", len(networks))
	}
	for _, n := range networks {
		if strings.ContainsAny(n, "/*") || strings.HasSuffix(n, "-") {
			return fmt.Errorf("invalid network name %q", n)
		}
	}
	if c.Mode == ModeLoop && c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %s", c.PollInterval)
	}
	return nil
}

// Networks splits NetworkName into its entries
func (c *Config) Networks() []string {
	var networks []string
	for _, n := range strings.Split(c.NetworkName, ",") {
		if n = strings.TrimSpace(n); n != "" {
			networks = append(networks, n)
		}
	}
	return networks
}

// Policy maps the start-selection flags onto a planner policy
func (c *Config) Policy() planner.Policy {
	switch {
	case c.StrictForward:
		return planner.StrictForward()
	case c.ExplicitStartHeight != nil:
		return planner.ExplicitStart(*c.ExplicitStartHeight)
	default:
		return planner.Buffered(c.HeightBuffer)
	}
}

// BatchPath is the batch file of one network; several networks running at
// once each get their own file
func (c *Config) BatchPath(network string) string {
	if len(c.Networks()) > 1 {
		return c.BatchFile + "-" + network
	}
	return c.BatchFile
}

// Syncer builds the driver configuration of one network
func (c *Config) Syncer(network string) syncer.Config {
	return syncer.Config{
		Dir:              c.LocalDirectory,
		Network:          network,
		Bucket:           c.BucketName,
		BatchPath:        c.BatchPath(network),
		Policy:           c.Policy(),
		CatchUpLookahead: c.LookaheadAdditional,
		PollInterval:     c.PollInterval,
		PollLookahead:    planner.PollLookahead(c.PollInterval, c.PollSpacing),
		BlockSpacing:     c.BlockSpacing,
		TrailingMargin:   c.TrailingMargin,
		SkipFullListing:  c.SkipFullListing,
		MaxRetries:       c.MaxRetries,
	}
}

// optionalUint is a flag that leaves the target nil until set
type optionalUint struct {
	p **uint64
}

func (o optionalUint) String() string {
	if o.p == nil || *o.p == nil {
		return ""
	}
	return strconv.FormatUint(**o.p, 10)
}

func (o optionalUint) Set(s string) error {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return err
	}
	*o.p = &v
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvUintOrDefault(key string, defaultValue uint64) (uint64, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return defaultValue, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getEnvBoolOrDefault(key string, defaultValue bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultValue, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

// getEnvDurationOrDefault accepts a Go duration or a plain number of seconds
func getEnvDurationOrDefault(key string, defaultValue time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}
	if secs, err := strconv.ParseUint(v, 10, 64); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultValue, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
