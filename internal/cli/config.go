package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ModelingValueGroup/dclare-sub000/internal/config"
)

// ConfigOutput is the payload of the config command.
type ConfigOutput struct {
	Source string        `json:"source" yaml:"source"`
	Config config.Config `json:"config" yaml:"config"`
	Limits config.Limits `json:"limits" yaml:"limits"`
}

// NewConfigCommand creates the config command.
func NewConfigCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Show the effective engine configuration",
		Long: `Print the engine configuration loaded from --config, or the defaults,
together with the limits the engine enforces. Outside dev mode every
numeric guard is unbounded.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfig(rootOpts, cmd)
		},
	}
}

func runConfig(opts *RootOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	out := ConfigOutput{Source: "defaults", Config: config.Default()}
	if opts.Config != "" {
		cfg, err := config.Load(opts.Config)
		if err != nil {
			_ = formatter.Error(ErrCodeLoad, err.Error(), nil)
			return WrapExitError(ExitCommandError, "failed to load config", err)
		}
		out.Source, out.Config = opts.Config, cfg
	}
	out.Limits = out.Config.Limits()

	if formatter.IsJSON() {
		return formatter.JSON("ok", out)
	}
	data, err := yaml.Marshal(out)
	if err != nil {
		return fmt.Errorf("rendering config: %w", err)
	}
	_, err = formatter.Writer.Write(data)
	return err
}
