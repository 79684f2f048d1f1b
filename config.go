package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "FOLIO"

// config holds the resolved settings for one run.
type config struct {
	IndexURL  string
	BaseURL   string // joined onto relative article links; defaults to the index origin
	OutputDir string
	Title     string

	Markers    []string
	Containers []string

	Timeout           time.Duration
	UserAgent         string
	Retries           int
	RetryDelay        time.Duration
	MaxResponseSize   int64
	Proxy             string
	AllowPrivateHosts bool

	Images        bool
	ImageMaxWidth int
	ImageQuality  int
	Grayscale     bool

	Backup              bool
	Manifest            bool
	Cover               bool
	Mobi                bool
	ReadabilityFallback bool

	Silent   bool
	LogLevel string
}

// defaultConfig mirrors the flag defaults registered in registerFlags.
func defaultConfig() config {
	return config{
		OutputDir:       "downloaded_articles",
		Title:           "Downloaded Articles",
		Markers:         defaultMarkers,
		Containers:      defaultContainers,
		Timeout:         30 * time.Second,
		UserAgent:       defaultUA,
		Retries:         3,
		RetryDelay:      5 * time.Second,
		MaxResponseSize: 128 * 1024 * 1024,
		Images:          true,
		ImageMaxWidth:   800,
		ImageQuality:    60,
		Backup:          true,
		Manifest:        true,
		Cover:           true,
		LogLevel:        "info",
	}
}

// registerFlags declares every setting as a flag. Config file keys are the
// flag names; environment variables are FOLIO_ plus the upper-cased name with
// dashes as underscores (FOLIO_OUTPUT_DIR).
func registerFlags(fs *pflag.FlagSet) {
	d := defaultConfig()
	fs.StringP("output-dir", "o", d.OutputDir, "Directory for the epub, backups and manifest")
	fs.StringP("title", "t", d.Title, "Book title")
	fs.String("base-url", "", "Base URL for relative article links (default: scheme and host of the index URL)")
	fs.StringSlice("markers", d.Markers, "Path fragments that identify article links")
	fs.StringSlice("containers", d.Containers, "CSS selectors for the article body, tried in order")
	fs.Duration("timeout", d.Timeout, "HTTP fetch timeout")
	fs.String("user-agent", d.UserAgent, "HTTP User-Agent header")
	fs.Int("retries", d.Retries, "Fetch attempts per page")
	fs.Duration("retry-delay", d.RetryDelay, "Delay between fetch attempts")
	fs.Int64("max-response-size", d.MaxResponseSize, "Maximum page size in bytes (0 = unlimited)")
	fs.String("proxy", "", "HTTP proxy URL")
	fs.Bool("allow-private-hosts", false, "Allow fetching from loopback and private networks")
	fs.Bool("images", d.Images, "Embed article images (remote images are dropped otherwise)")
	fs.Int("image-max-width", d.ImageMaxWidth, "Max image pixel width (height scales proportionally)")
	fs.Int("image-quality", d.ImageQuality, "JPEG quality 1-95")
	fs.Bool("grayscale", false, "Convert images to grayscale")
	fs.Bool("backup", d.Backup, "Write a plain-text backup of every article")
	fs.Bool("manifest", d.Manifest, "Write manifest.yaml describing the compiled chapters")
	fs.Bool("cover", d.Cover, "Generate a cover image")
	fs.Bool("mobi", false, "Also convert the epub to MOBI with Calibre's ebook-convert")
	fs.Bool("readability-fallback", false, "Use readability when no content container matches")
	fs.Bool("silent", false, "Suppress all output except errors")
	fs.String("log-level", d.LogLevel, "Log level: debug, info, warn, error")
	fs.String("config", "", "Config file (default: ./folio.yaml or ~/.config/folio/folio.yaml)")
}

// loadConfig layers flags over FOLIO_* environment variables (including a
// .env file in the working directory) over the config file over defaults.
func loadConfig(fs *pflag.FlagSet) (config, error) {
	v := viper.New()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return config{}, fmt.Errorf("loading .env: %w", err)
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(fs); err != nil {
		return config{}, err
	}

	if file := v.GetString("config"); file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("folio")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "folio"))
		}
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return config{}, fmt.Errorf("reading config: %w", err)
		}
	}

	cfg := config{
		BaseURL:             v.GetString("base-url"),
		OutputDir:           v.GetString("output-dir"),
		Title:               v.GetString("title"),
		Markers:             listValue(v, "markers"),
		Containers:          listValue(v, "containers"),
		Timeout:             v.GetDuration("timeout"),
		UserAgent:           v.GetString("user-agent"),
		Retries:             v.GetInt("retries"),
		RetryDelay:          v.GetDuration("retry-delay"),
		MaxResponseSize:     v.GetInt64("max-response-size"),
		Proxy:               v.GetString("proxy"),
		AllowPrivateHosts:   v.GetBool("allow-private-hosts"),
		Images:              v.GetBool("images"),
		ImageMaxWidth:       v.GetInt("image-max-width"),
		ImageQuality:        v.GetInt("image-quality"),
		Grayscale:           v.GetBool("grayscale"),
		Backup:              v.GetBool("backup"),
		Manifest:            v.GetBool("manifest"),
		Cover:               v.GetBool("cover"),
		Mobi:                v.GetBool("mobi"),
		ReadabilityFallback: v.GetBool("readability-fallback"),
		Silent:              v.GetBool("silent"),
		LogLevel:            v.GetString("log-level"),
	}
	return cfg, cfg.validate()
}

// listValue reads a list setting. Flags and YAML sequences arrive split
// already; env vars and scalar file values arrive as one comma-separated
// string, so every element is split again on commas.
func listValue(v *viper.Viper, key string) []string {
	var out []string
	for _, item := range v.GetStringSlice(key) {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func (c config) validate() error {
	if c.OutputDir == "" {
		return errors.New("output directory must not be empty")
	}
	if len(c.Markers) == 0 {
		return errors.New("at least one link marker is required")
	}
	if len(c.Containers) == 0 {
		return errors.New("at least one content container selector is required")
	}
	if c.Retries < 1 {
		return fmt.Errorf("retries must be at least 1, got %d", c.Retries)
	}
	if c.ImageQuality < 1 || c.ImageQuality > 95 {
		return fmt.Errorf("image quality must be between 1 and 95, got %d", c.ImageQuality)
	}
	return nil
}
