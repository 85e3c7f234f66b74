package config

import (
	"fmt"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Watcher re-reads the configuration file whenever it changes and hands the
// AI section to a callback. Only the AI section is live-reloadable; every
// other section requires a restart.
type Watcher struct {
	v      *viper.Viper
	logger *zap.Logger
}

// LoadAndWatch loads the configuration like Load and then starts watching the
// file for changes.
//
// Precondition: path must name a readable YAML file; onAI and logger must be non-nil.
// Postcondition: Returns the initial valid Config. onAI is invoked from the
// watcher goroutine with each subsequent valid AI section.
func LoadAndWatch(path string, logger *zap.Logger, onAI func(AIConfig)) (Config, *Watcher, error) {
	v, err := newViper(path)
	if err != nil {
		return Config{}, nil, err
	}
	cfg, err := LoadFromViper(v)
	if err != nil {
		return Config{}, nil, err
	}
	w := &Watcher{v: v, logger: logger}
	v.OnConfigChange(func(e fsnotify.Event) {
		ai, err := w.reloadAI()
		if err != nil {
			logger.Warn("ignoring invalid config reload",
				zap.String("file", e.Name),
				zap.Error(err),
			)
			return
		}
		logger.Info("ai config reloaded", zap.String("file", e.Name))
		onAI(ai)
	})
	v.WatchConfig()
	return cfg, w, nil
}

func (w *Watcher) reloadAI() (AIConfig, error) {
	var ai AIConfig
	if err := w.v.UnmarshalKey("ai", &ai); err != nil {
		return AIConfig{}, fmt.Errorf("unmarshalling ai section: %w", err)
	}
	if err := ValidateAI(ai); err != nil {
		return AIConfig{}, err
	}
	return ai, nil
}
