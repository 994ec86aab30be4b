package willowmap

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/tanema/gween/ease"
	"gopkg.in/yaml.v3"
)

// Config tunes a RenderCoordinator. Start from DefaultConfig; the zero value
// disables animation and the fetch delay.
type Config struct {
	// FetchDelay is the debounce threshold for tile fetches behind a
	// navigation. Navigations shorter than this fetch immediately.
	FetchDelay time.Duration
	// MaxTileScreenPx is the on-screen size past which features are clipped.
	MaxTileScreenPx int
	// AnimationEnabled turns navigation animation on. When off, navigations
	// jump and fetches are never delayed.
	AnimationEnabled bool
	// Interpolation eases the navigation fraction. Nil means linear.
	Interpolation ease.TweenFunc
	// MaxTileLevel caps the tile level; values above MaxTileLevel are lowered.
	MaxTileLevel int
	// FollowDependentTiles also requests the dependent tiles recorded while
	// assigning features to a requested tile.
	FollowDependentTiles bool
	// MaxCachedScales bounds the scale levels kept per layer. Zero keeps all.
	MaxCachedScales int
	// LogLevel is only read by binaries building their logger from a file.
	LogLevel string
}

// DefaultConfig returns the configuration used when none is given.
func DefaultConfig() Config {
	return Config{
		FetchDelay:           300 * time.Millisecond,
		MaxTileScreenPx:      DefaultMaxTileScreenPx,
		AnimationEnabled:     true,
		Interpolation:        ease.Linear,
		MaxTileLevel:         MaxTileLevel,
		FollowDependentTiles: true,
		MaxCachedScales:      8,
		LogLevel:             "info",
	}
}

// Validate reports the first invalid field, wrapped in ErrInvalidConfig.
func (c Config) Validate() error {
	switch {
	case c.FetchDelay < 0:
		return fmt.Errorf("%w: fetch delay %s is negative", ErrInvalidConfig, c.FetchDelay)
	case c.MaxTileScreenPx < 0:
		return fmt.Errorf("%w: maxTileScreenPx %d is negative", ErrInvalidConfig, c.MaxTileScreenPx)
	case c.MaxTileLevel < 0:
		return fmt.Errorf("%w: maxTileLevel %d is negative", ErrInvalidConfig, c.MaxTileLevel)
	case c.MaxCachedScales < 0:
		return fmt.Errorf("%w: maxCachedScales %d is negative", ErrInvalidConfig, c.MaxCachedScales)
	}
	return nil
}

func (c Config) maxLevel() int {
	if c.MaxTileLevel <= 0 || c.MaxTileLevel > MaxTileLevel {
		return MaxTileLevel
	}
	return c.MaxTileLevel
}

func (c Config) interpolation() ease.TweenFunc {
	if c.Interpolation == nil {
		return ease.Linear
	}
	return c.Interpolation
}

var easings = map[string]ease.TweenFunc{
	"linear":     ease.Linear,
	"inquad":     ease.InQuad,
	"outquad":    ease.OutQuad,
	"inoutquad":  ease.InOutQuad,
	"incubic":    ease.InCubic,
	"outcubic":   ease.OutCubic,
	"inoutcubic": ease.InOutCubic,
	"insine":     ease.InSine,
	"outsine":    ease.OutSine,
	"inoutsine":  ease.InOutSine,
	"inexpo":     ease.InExpo,
	"outexpo":    ease.OutExpo,
	"inoutexpo":  ease.InOutExpo,
}

// EasingByName looks up an interpolation function by its config name
// ("linear", "inOutCubic", ...). Matching ignores case.
func EasingByName(name string) (ease.TweenFunc, bool) {
	fn, ok := easings[strings.ToLower(strings.TrimSpace(name))]
	return fn, ok
}

// configFile is the YAML form of Config. Pointers tell missing keys apart
// from explicit zero values.
type configFile struct {
	FetchDelayMs         *int    `yaml:"fetchDelayMs"`
	MaxTileScreenPx      *int    `yaml:"maxTileScreenPx"`
	AnimationEnabled     *bool   `yaml:"animationEnabled"`
	Interpolation        *string `yaml:"interpolation"`
	MaxTileLevel         *int    `yaml:"maxTileLevel"`
	FollowDependentTiles *bool   `yaml:"followDependentTiles"`
	MaxCachedScales      *int    `yaml:"maxCachedScales"`
	LogLevel             *string `yaml:"logLevel"`
}

// ParseConfig decodes YAML on top of DefaultConfig and validates the result.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	var f configFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if f.FetchDelayMs != nil {
		cfg.FetchDelay = time.Duration(*f.FetchDelayMs) * time.Millisecond
	}
	if f.MaxTileScreenPx != nil {
		cfg.MaxTileScreenPx = *f.MaxTileScreenPx
	}
	if f.AnimationEnabled != nil {
		cfg.AnimationEnabled = *f.AnimationEnabled
	}
	if f.Interpolation != nil {
		fn, ok := EasingByName(*f.Interpolation)
		if !ok {
			return Config{}, fmt.Errorf("%w: unknown interpolation %q", ErrInvalidConfig, *f.Interpolation)
		}
		cfg.Interpolation = fn
	}
	if f.MaxTileLevel != nil {
		cfg.MaxTileLevel = *f.MaxTileLevel
	}
	if f.FollowDependentTiles != nil {
		cfg.FollowDependentTiles = *f.FollowDependentTiles
	}
	if f.MaxCachedScales != nil {
		cfg.MaxCachedScales = *f.MaxCachedScales
	}
	if f.LogLevel != nil {
		cfg.LogLevel = *f.LogLevel
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadConfig reads and parses a YAML config file.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("load config %s: %w", path, err)
	}
	cfg, err := ParseConfig(data)
	if err != nil {
		return Config{}, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, nil
}
