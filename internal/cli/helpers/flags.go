package helpers

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// AddFormatFlag adds a standard --format/-o flag to a command.
func AddFormatFlag(cmd *cobra.Command, formatVar *string, defaultFormat OutputFormat) {
	names := make([]string, len(SupportedFormats))
	for i, f := range SupportedFormats {
		names[i] = string(f)
	}

	description := fmt.Sprintf("Output format (%s)", strings.Join(names, ", "))
	cmd.Flags().StringVarP(formatVar, "format", "o", string(defaultFormat), description)

	_ = cmd.RegisterFlagCompletionFunc("format", func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
		return names, cobra.ShellCompDirectiveNoFileComp
	})
}

// ValidateFormat checks that format is one of SupportedFormats.
func ValidateFormat(format string) (OutputFormat, error) {
	for _, s := range SupportedFormats {
		if format == string(s) {
			return s, nil
		}
	}

	names := make([]string, len(SupportedFormats))
	for i, s := range SupportedFormats {
		names[i] = string(s)
	}
	return "", fmt.Errorf("unsupported format %q, must be one of: %s", format, strings.Join(names, ", "))
}

// OverrideString sets *dst to the value of the named flag when the user set
// it explicitly, so flags win over the config file and environment.
func OverrideString(flags *pflag.FlagSet, name string, dst *string) {
	if f := flags.Lookup(name); f != nil && f.Changed {
		*dst = f.Value.String()
	}
}

// OverrideBool is OverrideString for boolean flags.
func OverrideBool(flags *pflag.FlagSet, name string, dst *bool) {
	if f := flags.Lookup(name); f != nil && f.Changed {
		if v, err := flags.GetBool(name); err == nil {
			*dst = v
		}
	}
}
