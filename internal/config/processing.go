package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// ProcessingConfig holds tunables for the watermark processing pipeline.
type ProcessingConfig struct {
	TrialCap           int                `mapstructure:"trialCap"`
	TrialDaysDefault   int                `mapstructure:"trialDaysDefault"`
	StarterPlanDays    int                `mapstructure:"starterPlanDays"`
	WatermarkDefaults  WatermarkDefaults  `mapstructure:"watermarkDefaults"`
	CompressionQuality int                `mapstructure:"compressionQuality"`
}

// WatermarkDefaults are applied when a shop has not customized its mark.
type WatermarkDefaults struct {
	OpacityPercent int    `mapstructure:"opacityPercent"`
	Position       string `mapstructure:"position"`
	ScalePercent   int    `mapstructure:"scalePercent"`
}

func DefaultProcessingConfig() ProcessingConfig {
	return ProcessingConfig{
		TrialCap:         50,
		TrialDaysDefault: 7,
		StarterPlanDays:  7,
		WatermarkDefaults: WatermarkDefaults{
			OpacityPercent: 60,
			Position:       "bottom-right",
			ScalePercent:   20,
		},
		CompressionQuality: 82,
	}
}

// ProcessingConfigHolder exposes the current processing config and hot-reloads
// it when the backing file changes.
type ProcessingConfigHolder struct {
	current atomic.Value // holds ProcessingConfig
}

func NewProcessingConfigHolder() (*ProcessingConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("processing")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/brandseal/config") // Volume-mounted config
	v.AddConfigPath("/etc/brandseal")            // System config
	v.AddConfigPath(".")                         // Current directory (dev mode)

	v.SetEnvPrefix("BRANDSEAL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultProcessingConfig()
	v.SetDefault("processing.trialCap", defaults.TrialCap)
	v.SetDefault("processing.trialDaysDefault", defaults.TrialDaysDefault)
	v.SetDefault("processing.starterPlanDays", defaults.StarterPlanDays)
	v.SetDefault("processing.watermarkDefaults", defaults.WatermarkDefaults)
	v.SetDefault("processing.compressionQuality", defaults.CompressionQuality)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg ProcessingConfig
	if err := v.UnmarshalKey("processing", &cfg); err != nil {
		return nil, err
	}
	if err := validateProcessingConfig(cfg); err != nil {
		return nil, err
	}

	holder := &ProcessingConfigHolder{}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated ProcessingConfig
		if err := v.UnmarshalKey("processing", &updated); err != nil {
			log.Printf("[processing-config] reload failed: %v", err)
			return
		}
		if err := validateProcessingConfig(updated); err != nil {
			log.Printf("[processing-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
	})

	return holder, nil
}

// NewStaticProcessingConfigHolder returns a holder pinned to cfg. Test helper.
func NewStaticProcessingConfigHolder(cfg ProcessingConfig) *ProcessingConfigHolder {
	holder := &ProcessingConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func (h *ProcessingConfigHolder) Current() ProcessingConfig {
	if h == nil {
		return DefaultProcessingConfig()
	}
	cfg, ok := h.current.Load().(ProcessingConfig)
	if !ok {
		return DefaultProcessingConfig()
	}
	return cfg
}

func validateProcessingConfig(cfg ProcessingConfig) error {
	if cfg.TrialCap < 0 {
		return errors.New("trialCap must not be negative")
	}
	if cfg.TrialDaysDefault <= 0 {
		return errors.New("trialDaysDefault must be positive")
	}
	if cfg.CompressionQuality < 1 || cfg.CompressionQuality > 100 {
		return errors.New("compressionQuality must be within 1..100")
	}
	if cfg.WatermarkDefaults.OpacityPercent < 0 || cfg.WatermarkDefaults.OpacityPercent > 100 {
		return errors.New("watermark opacity must be within 0..100")
	}
	return nil
}
