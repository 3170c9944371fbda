package config

import (
	"fmt"
	"io"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Bootstrap layers CLI flags over environment variables over defaults, the
// same precedence order the teacher's cobra root command establishes before
// any subcommand runs. It does not read the structured sourcewatch YAML
// config itself (that's Load); it only resolves the handful of startup
// settings needed before the config file path is even known.
type Bootstrap struct {
	v *viper.Viper
}

// NewBootstrap builds a Bootstrap bound to cmd's persistent flags.
func NewBootstrap(cmd *cobra.Command) (*Bootstrap, error) {
	v := viper.New()
	v.SetEnvPrefix("SOURCEWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(cmd.PersistentFlags()); err != nil {
		return nil, fmt.Errorf("binding flags: %w", err)
	}

	v.SetDefault("config", "./sourcewatch.yaml")
	v.SetDefault("log-level", "info")

	return &Bootstrap{v: v}, nil
}

// ConfigPath returns the resolved --config flag / SOURCEWATCH_CONFIG env var / default.
func (b *Bootstrap) ConfigPath() string {
	return b.v.GetString("config")
}

// LogLevel returns the resolved --log-level flag / SOURCEWATCH_LOG_LEVEL env var.
func (b *Bootstrap) LogLevel() string {
	return b.v.GetString("log-level")
}

// DryRun returns the resolved --dry-run flag.
func (b *Bootstrap) DryRun() bool {
	return b.v.GetBool("dry-run")
}

// Watch invokes onChange whenever the file at path is modified, using
// fsnotify the way the teacher's config hot-reload watchers do. The caller
// is responsible for reloading and re-validating the config inside onChange.
func Watch(path string, onChange func()) (io.Closer, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating config watcher: %w", err)
	}

	if err := watcher.Add(path); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("watching %s: %w", path, err)
	}

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					onChange()
				}
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()

	return watcher, nil
}
