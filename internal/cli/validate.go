package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/flowkit/internal/compiler"
)

// FileValidation holds the validation outcome of one flow file.
type FileValidation struct {
	Path     string                     `json:"path"`
	Flow     string                     `json:"flow,omitempty"`
	Methods  int                        `json:"methods,omitempty"`
	Errors   []compiler.ValidationError `json:"errors,omitempty"`
	Warnings []compiler.CycleWarning    `json:"warnings,omitempty"`
}

// Valid reports whether the file has no errors.
func (v FileValidation) Valid() bool {
	return len(v.Errors) == 0
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid bool             `json:"valid"`
	Files []FileValidation `json:"files"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <flow.yaml | dir>",
		Short: "Validate flow files without running them",
		Long: `Validate flow files: YAML structure, method roles, conditions, route
labels, expressions and state schemas. Every problem in a file is reported,
each with its code and line. Cycles between methods are reported as
warnings.

Given a directory, every *.yaml and *.yml file in it is validated.

Exit codes:
  0 - All files valid
  1 - One or more files invalid
  2 - Command error (path not found, no flow files)`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	files, err := flowFiles(path)
	if err != nil {
		_ = formatter.Error(ErrCodeNotFound, err.Error(), nil)
		return WrapExitError(ExitCommandError, "cannot read flows", err)
	}

	result := ValidationResult{Valid: true}
	seen := make(map[string]string, len(files))
	for _, f := range files {
		formatter.VerboseLog("Validating %s", f)
		v := ValidateFile(f)
		if v.Flow != "" {
			if prev, dup := seen[v.Flow]; dup {
				v.Errors = append(v.Errors, compiler.ValidationError{
					Field:   "name",
					Message: fmt.Sprintf("flow %q is also declared in %s", v.Flow, prev),
					Code:    ErrCodeGeneric,
				})
			}
			seen[v.Flow] = f
		}
		if !v.Valid() {
			result.Valid = false
		}
		result.Files = append(result.Files, v)
	}

	if formatter.JSON() {
		resp := CLIResponse{Status: "ok", Data: result}
		if !result.Valid {
			first := firstError(result)
			resp.Status = "error"
			resp.Error = &CLIError{Code: first.Code, Message: first.Message}
		}
		if err := formatter.encode(resp); err != nil {
			return err
		}
	} else {
		outputValidateText(formatter.Writer, result)
	}

	if !result.Valid {
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", errorCount(result)))
	}
	return nil
}

// ValidateFile validates one flow file. Read and YAML errors are reported
// as validation errors with codes E002 and E003.
func ValidateFile(path string) FileValidation {
	v := FileValidation{Path: path}

	data, err := os.ReadFile(path)
	if err != nil {
		v.Errors = []compiler.ValidationError{{Field: "file", Message: err.Error(), Code: ErrCodeNotFound}}
		return v
	}

	doc, err := compiler.Parse(data)
	if err != nil {
		v.Errors = []compiler.ValidationError{{Field: "yaml", Message: err.Error(), Code: ErrCodeParse}}
		return v
	}
	v.Flow = doc.Name
	if errs := compiler.Validate(doc); len(errs) > 0 {
		v.Errors = errs
		return v
	}

	def, err := compiler.Compile(data)
	if err != nil {
		v.Errors = []compiler.ValidationError{{Field: "flow", Message: err.Error(), Code: ErrCodeGeneric}}
		return v
	}
	v.Methods = def.Registry.Len()
	v.Warnings = def.Warnings
	return v
}

// flowFiles returns path itself or the sorted flow files of a directory.
func flowFiles(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	var files []string
	for _, pattern := range []string{"*.yaml", "*.yml"} {
		matches, err := filepath.Glob(filepath.Join(path, pattern))
		if err != nil {
			return nil, err
		}
		files = append(files, matches...)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no flow files found in %s", path)
	}
	slices.Sort(files)
	return files, nil
}

func firstError(r ValidationResult) compiler.ValidationError {
	for _, f := range r.Files {
		if len(f.Errors) > 0 {
			return f.Errors[0]
		}
	}
	return compiler.ValidationError{}
}

func errorCount(r ValidationResult) int {
	n := 0
	for _, f := range r.Files {
		n += len(f.Errors)
	}
	return n
}

func outputValidateText(w io.Writer, r ValidationResult) {
	for _, f := range r.Files {
		if f.Valid() {
			fmt.Fprintf(w, "✓ %s (flow %s, %d methods)\n", f.Path, f.Flow, f.Methods)
			for _, warn := range f.Warnings {
				fmt.Fprintf(w, "  warning: %s\n", warn.Message)
			}
			continue
		}

		fmt.Fprintf(w, "✗ %s\n", f.Path)
		for _, err := range f.Errors {
			if err.Line > 0 {
				fmt.Fprintf(w, "  line %d\n", err.Line)
			}
			fmt.Fprintf(w, "    %s %s: %s\n", err.Code, err.Field, err.Message)
		}
	}
}
