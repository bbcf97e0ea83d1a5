package config

import "flag"

var (
	flagConfig     = flag.String("config", "", "Path to config file")
	flagDebug      = flag.Bool("debug", false, "Enable debug logging")
	flagHost       = flag.String("host", "", "HTTP listen host")
	flagPort       = flag.Int("port", 0, "HTTP listen port")
	flagResolution = flag.Int("resolution", 0, "AO map resolution in pixels")
	flagOutDir     = flag.String("out-dir", "", "Directory for bake results")
	flagCacheDir   = flag.String("cache-dir", "", "Directory for fetched files")
)

// ParseFlags parses command-line flags. Call this early in main().
func ParseFlags() {
	flag.Parse()
}

// Args returns the non-flag arguments left after ParseFlags.
func Args() []string {
	return flag.Args()
}

// ConfigPath returns the explicit config path if provided via --config flag.
func ConfigPath() string {
	return *flagConfig
}

// applyFlags applies CLI flag overrides to the config.
func applyFlags(cfg *Config) {
	if *flagDebug {
		cfg.Logging.Level = "debug"
	}
	if *flagHost != "" {
		cfg.Server.Host = *flagHost
	}
	if *flagPort > 0 {
		cfg.Server.Port = *flagPort
	}
	if *flagResolution > 0 {
		cfg.Bake.Resolution = *flagResolution
	}
	if *flagOutDir != "" {
		cfg.Paths.OutputDir = *flagOutDir
	}
	if *flagCacheDir != "" {
		cfg.Paths.CacheDir = *flagCacheDir
	}
}
