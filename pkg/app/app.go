// Package app builds cobra commands whose flags come from option groups and
// can be overridden by a config file or FLEETPROV_* environment variables.
package app

import (
	"fmt"
	"os"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	cliflag "k8s.io/component-base/cli/flag"

	"github.com/autopeer-io/fleetprov/pkg/log"
)

// RunFunc is the entry point of a command once its options are ready.
type RunFunc func() error

// ReloadFunc is called after the config file changed and the options were
// decoded again.
type ReloadFunc func() error

// NamedFlagSetOptions is implemented by the top-level options of a command.
type NamedFlagSetOptions interface {
	// Flags returns the flags grouped by section.
	Flags() cliflag.NamedFlagSets

	// Complete fills in values derived from other options.
	Complete() error

	// Validate reports invalid option values.
	Validate() error
}

// App is a command line application.
type App struct {
	name        string
	shortDesc   string
	description string
	envPrefix   string
	options     NamedFlagSetOptions
	runFunc     RunFunc
	reloadFunc  ReloadFunc
	args        cobra.PositionalArgs
	subCommands []*cobra.Command

	cmd *cobra.Command
}

// Option configures an App.
type Option func(*App)

// WithDescription sets the long description shown by --help.
func WithDescription(desc string) Option {
	return func(a *App) { a.description = desc }
}

// WithOptions sets the options whose flags the command exposes.
func WithOptions(opts NamedFlagSetOptions) Option {
	return func(a *App) { a.options = opts }
}

// WithRunFunc sets the function executed by the command.
func WithRunFunc(run RunFunc) Option {
	return func(a *App) { a.runFunc = run }
}

// WithConfigReload watches the config file given with --config and calls
// reload whenever it changes.
func WithConfigReload(reload ReloadFunc) Option {
	return func(a *App) { a.reloadFunc = reload }
}

// WithDefaultValidArgs rejects positional arguments.
func WithDefaultValidArgs() Option {
	return func(a *App) {
		a.args = func(cmd *cobra.Command, args []string) error {
			for _, arg := range args {
				if len(arg) > 0 {
					return fmt.Errorf("%q does not take any arguments, got %q", cmd.CommandPath(), args)
				}
			}
			return nil
		}
	}
}

// WithEnvPrefix sets the prefix of environment variables overriding flags.
func WithEnvPrefix(prefix string) Option {
	return func(a *App) { a.envPrefix = prefix }
}

// WithSubCommands adds sub commands to the root command.
func WithSubCommands(cmds ...*cobra.Command) Option {
	return func(a *App) { a.subCommands = append(a.subCommands, cmds...) }
}

// NewApp creates an App and its cobra command.
func NewApp(name, shortDesc string, opts ...Option) *App {
	a := &App{
		name:      name,
		shortDesc: shortDesc,
		envPrefix: "FLEETPROV",
	}
	for _, o := range opts {
		o(a)
	}
	a.buildCommand()
	return a
}

// Command returns the underlying cobra command.
func (a *App) Command() *cobra.Command {
	return a.cmd
}

// Run executes the command and exits the process on failure.
func (a *App) Run() {
	if err := a.cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func (a *App) buildCommand() {
	cmd := &cobra.Command{
		Use:          a.name,
		Short:        a.shortDesc,
		Long:         a.description,
		SilenceUsage: true,
		Args:         a.args,
	}
	cmd.SetOut(os.Stdout)
	cmd.SetErr(os.Stderr)
	cmd.Flags().SortFlags = true
	cmd.AddCommand(a.subCommands...)

	var configFile string
	v := viper.New()

	if a.options != nil {
		namedFlagSets := a.options.Flags()
		global := namedFlagSets.FlagSet("global")
		global.StringVarP(&configFile, "config", "c", "", "Read configuration from the specified file (YAML, JSON or TOML).")
		global.BoolP("help", "h", false, fmt.Sprintf("Help for %s.", a.name))
		for _, f := range namedFlagSets.FlagSets {
			cmd.Flags().AddFlagSet(f)
		}
		cliflag.SetUsageAndHelpFunc(cmd, namedFlagSets, 80)
	}

	if a.runFunc != nil {
		cmd.RunE = func(cmd *cobra.Command, args []string) error {
			if a.options != nil {
				if err := a.loadConfig(v, cmd, configFile); err != nil {
					return err
				}
				if err := a.options.Complete(); err != nil {
					return err
				}
				if err := a.options.Validate(); err != nil {
					return err
				}
			}
			return a.runFunc()
		}
	}

	a.cmd = cmd
}

// loadConfig merges flags, environment and the config file into the options.
// Flags set on the command line win over the environment, which wins over the file.
func (a *App) loadConfig(v *viper.Viper, cmd *cobra.Command, configFile string) error {
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	v.SetEnvPrefix(a.envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
		if a.reloadFunc != nil {
			a.watchConfig(v)
		}
	}

	if err := v.Unmarshal(a.options); err != nil {
		return fmt.Errorf("failed to decode configuration: %w", err)
	}
	return nil
}

func (a *App) watchConfig(v *viper.Viper) {
	v.OnConfigChange(func(e fsnotify.Event) {
		log.Info("Config file changed", "file", e.Name, "op", e.Op.String())
		if err := v.Unmarshal(a.options); err != nil {
			log.Error(err, "Failed to decode changed config", "file", e.Name)
			return
		}
		if err := a.reloadFunc(); err != nil {
			log.Error(err, "Failed to apply changed config", "file", e.Name)
		}
	})
	v.WatchConfig()
}
