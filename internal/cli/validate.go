package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ModelingValueGroup/dclare-sub000/internal/config"
	"github.com/ModelingValueGroup/dclare-sub000/internal/harness"
)

// ValidateOptions holds flags for the validate command.
type ValidateOptions struct {
	*RootOptions
	Kind string // "scenario" | "config"
}

// FileValidation is the outcome for one file.
type FileValidation struct {
	Path  string `json:"path"`
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid bool             `json:"valid"`
	Files []FileValidation `json:"files"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ValidateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "validate <file>...",
		Short: "Check scenario or config files without running them",
		Long: `Parse and check scenario files, or engine config files with --kind config.

Scenarios are checked for unknown fields, dangling references between
properties, classes and objects, and invalid config sections. Config files
are checked against the engine config schema.`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Kind, "kind", "scenario", "file kind (scenario|config)")

	return cmd
}

func runValidate(opts *ValidateOptions, paths []string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	var check func(path string) error
	switch opts.Kind {
	case "scenario":
		check = func(path string) error {
			_, err := harness.LoadScenario(path)
			return err
		}
	case "config":
		check = func(path string) error {
			_, err := config.Load(path)
			return err
		}
	default:
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid kind %q: must be scenario or config", opts.Kind))
	}

	result := ValidationResult{Valid: true, Files: make([]FileValidation, 0, len(paths))}
	for _, path := range paths {
		formatter.VerboseLog("Validating %s %s", opts.Kind, path)
		fv := FileValidation{Path: path, Valid: true}
		if err := check(path); err != nil {
			fv.Valid = false
			fv.Error = err.Error()
			result.Valid = false
		}
		result.Files = append(result.Files, fv)
		formatter.Verdict(fv.Valid, "%s", path)
		if fv.Error != "" {
			formatter.Detail("%s", fv.Error)
		}
	}

	if formatter.IsJSON() {
		status := "ok"
		if !result.Valid {
			status = "error"
		}
		if err := formatter.JSON(status, result); err != nil {
			return err
		}
	}
	if !result.Valid {
		return NewExitError(ExitFailure, "validation failed")
	}
	return nil
}
