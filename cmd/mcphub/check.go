package main

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"mcphub/internal/app"
	"mcphub/internal/domain"
)

func newCheckCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the config file and print the backend table",
		RunE: func(cmd *cobra.Command, _ []string) error {
			result, err := app.CheckConfig(cmd.Context(), opts.configPath, opts.logger)
			if err != nil {
				if errors.Is(err, domain.ErrConfig) {
					return exitWith(exitConfigError, fmt.Sprintf("%s: %v", domain.FailureName(err), err))
				}
				return err
			}
			printCheckResult(cmd.OutOrStdout(), result)
			return nil
		},
	}
}

func printCheckResult(out io.Writer, result app.CheckResult) {
	source := result.Path
	if result.Config.Defaulted {
		source = "built-in default"
	}
	fmt.Fprintf(out, "config: %s\n", source)

	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"NAME", "ENDPOINT", "ENABLED", "TIMEOUT", "HEADERS"})
	for _, entry := range result.Config.Backends {
		t.AppendRow(table.Row{
			entry.Name,
			entry.Endpoint,
			enabledLabel(entry.Enabled),
			entry.Timeout().String(),
			headerNames(entry.Headers),
		})
	}
	t.AppendFooter(table.Row{"", "", strconv.Itoa(len(result.Config.EnabledBackends())) + " enabled", "", ""})
	t.Render()
}

func enabledLabel(enabled bool) string {
	if enabled {
		return text.FgGreen.Sprint("yes")
	}
	return text.FgHiBlack.Sprint("no")
}

// headerNames lists configured header names without their values.
func headerNames(headers map[string]string) string {
	if len(headers) == 0 {
		return "-"
	}
	names := make([]string, 0, len(headers))
	for name := range headers {
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, ",")
}
