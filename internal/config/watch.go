package config

import (
	"os"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	apperrors "github.com/gmsas95/medremind/internal/errors"
)

// Watch re-reads the config file whenever it changes on disk and hands the
// new, validated Config to onChange. Invalid edits are logged and ignored.
func Watch(configPath string, logger *zap.Logger, onChange func(*Config)) error {
	if _, err := os.Stat(configPath); err != nil {
		return apperrors.WrapAs(apperrors.ErrConfigNotFound, err)
	}
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(configPath)
	bindEnv(v)
	if err := v.ReadInConfig(); err != nil {
		return apperrors.WrapAs(apperrors.ErrConfigInvalid, err)
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := decode(v)
		if err != nil {
			logger.Warn("Ignoring invalid config change", zap.String("file", e.Name), zap.Error(err))
			return
		}
		logger.Info("Config reloaded", zap.String("file", e.Name))
		onChange(cfg)
	})
	v.WatchConfig()
	return nil
}
