package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/flowkit/internal/compiler"
	"github.com/roach88/flowkit/internal/registry"
)

// SpecsResult describes a compiled flow for visualization consumers.
type SpecsResult struct {
	Flow       string                  `json:"flow"`
	Structured bool                    `json:"structured"`
	Fields     []string                `json:"fields,omitempty"`
	Methods    []registry.SpecInfo     `json:"methods"`
	Warnings   []compiler.CycleWarning `json:"warnings,omitempty"`
}

// NewSpecsCommand creates the specs command.
func NewSpecsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "specs <flow.yaml>",
		Short: "Show the method specs of a flow",
		Long: `Compile a flow file and print every method with its kind, trigger
condition, declared route labels and whether it receives the triggering
result. Cycles between methods are listed as warnings.

Examples:
  flowkit specs ./flows/counter.yaml
  flowkit specs ./flows/counter.yaml --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSpecs(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runSpecs(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	def, err := compiler.CompileFile(path)
	if err != nil {
		_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to compile flow", err)
	}

	result := SpecsResult{
		Flow:     def.Name,
		Methods:  def.Registry.Describe(),
		Warnings: def.Warnings,
	}
	if def.Schema != nil {
		result.Structured = true
		result.Fields = def.Schema.Fields()
	}

	if formatter.JSON() {
		return formatter.Success(result)
	}
	return outputSpecsText(formatter.Writer, result)
}

func outputSpecsText(w io.Writer, r SpecsResult) error {
	fmt.Fprintf(w, "Flow:  %s\n", r.Flow)
	if r.Structured {
		fmt.Fprintf(w, "State: structured (%s)\n", strings.Join(r.Fields, ", "))
	} else {
		fmt.Fprintln(w, "State: unstructured")
	}
	fmt.Fprintln(w)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "METHOD\tKIND\tCONDITION\tROUTES\tINPUT")
	for _, m := range r.Methods {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			m.Name, m.Kind, orDash(m.Condition), orDash(strings.Join(m.Routes, ", ")), yesNo(m.AcceptsResult))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if len(r.Warnings) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Warnings:")
		for _, warn := range r.Warnings {
			fmt.Fprintf(w, "  %s\n", warn.Message)
		}
	}
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
