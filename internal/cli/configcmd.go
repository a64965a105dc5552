package cli

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/roach88/jsoncrdt/internal/config"
)

// effectiveConfig prints as indented JSON in text mode.
type effectiveConfig struct {
	raw json.RawMessage
}

func (c effectiveConfig) Text() string { return string(c.raw) + "\n" }

func (c effectiveConfig) MarshalJSON() ([]byte, error) { return c.raw, nil }

// NewConfigCommand creates the config command.
func NewConfigCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config [file]",
		Short: "Validate a config file and print the effective configuration",
		Long: `Validate a config file against the schema and print it with defaults
filled in. Without an argument the --config file is checked, and without
either the defaults are printed.

Exit codes:
  0 - Config valid
  1 - Config invalid

Example:
  jsoncrdt config peer.cue
  jsoncrdt config relay.toml --format json`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfig(rootOpts, args, cmd)
		},
	}
	return cmd
}

func runConfig(opts *RootOptions, args []string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	path := opts.Config
	if len(args) == 1 {
		path = args[0]
	}
	cfg := config.Default()
	if path != "" {
		formatter.VerboseLog("Validating %s", path)
		var err error
		cfg, err = config.Load(path)
		if err != nil {
			if ferr := formatter.Error("E_CONFIG", err.Error(), nil); ferr != nil {
				return ferr
			}
			return WrapExitError(ExitFailure, "invalid config", err)
		}
	}

	data, err := cfg.JSON()
	if err != nil {
		return err
	}
	return formatter.Success(effectiveConfig{raw: data})
}
