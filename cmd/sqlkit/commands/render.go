package commands

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/syssam/sqlkit"
	"github.com/syssam/sqlkit/dialect/sql/sqlescape"
	"github.com/syssam/sqlkit/dialect/sql/sqltemplate"
)

// templateFlags are shared by the commands that take a template.
type templateFlags struct {
	file string
	args string
}

func (f *templateFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.file, "file", "f", "", "read the template from a file")
	cmd.Flags().StringVarP(&f.args, "args", "a", "", `values as JSON: an array for "?" or an object for ":name"`)
}

// resolve returns the template, from the argument or the file, and its
// values.
func (f *templateFlags) resolve(fs afero.Fs, args []string) (string, sqlkit.Args, error) {
	var tmpl string
	switch {
	case f.file != "" && len(args) > 0:
		return "", nil, errors.New("pass a template or --file, not both")
	case f.file != "":
		data, err := afero.ReadFile(fs, f.file)
		if err != nil {
			return "", nil, err
		}
		tmpl = string(data)
	case len(args) > 0:
		tmpl = args[0]
	}
	if strings.TrimSpace(tmpl) == "" {
		return "", nil, errors.New("empty template")
	}
	values, err := parseArgs(f.args)
	if err != nil {
		return "", nil, err
	}
	return tmpl, values, nil
}

func newRenderCommand(o *options) *cobra.Command {
	var flags templateFlags
	cmd := &cobra.Command{
		Use:   "render [template]",
		Short: "Resolve a template without connecting",
		Long: `Resolve a template the way the client would before executing it.
With --bind the statement is printed with bind markers, followed by the
values as a JSON array.`,
		Example: `  sqlkit render 'select * from users where id in :ids' --args '{"ids": [1, 2]}'
  sqlkit render --dialect postgres --bind 'select * from t where a = ?' --args '["x"]'`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tmpl, values, err := flags.resolve(o.fs, args)
			if err != nil {
				return err
			}
			name, err := o.dialect()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if !o.v.GetBool("bind_params") {
				st, err := sqltemplate.New(sqlescape.For(name)).Compile(tmpl, values)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(out, st.SQL)
				return err
			}
			b, err := sqltemplate.NewBinder(name, 1)
			if err != nil {
				return err
			}
			st, err := b.Bind(tmpl, values)
			if err != nil {
				return err
			}
			bound := st.Args
			if bound == nil {
				bound = []any{}
			}
			encoded, err := json.Marshal(bound)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(out, "%s\n%s\n", st.SQL, encoded)
			return err
		},
	}
	flags.register(cmd)
	return cmd
}

// parseArgs decodes a JSON array into Positional and an object into Named.
// Integral numbers become int64.
func parseArgs(s string) (sqlkit.Args, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(s)))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("parse --args: %w", err)
	}
	switch v := numbers(v).(type) {
	case []any:
		return sqlkit.Positional(v), nil
	case map[string]any:
		return sqlkit.Named(v), nil
	default:
		return nil, errors.New("parse --args: expected a JSON array or object")
	}
}

func numbers(v any) any {
	switch v := v.(type) {
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return i
		}
		f, _ := v.Float64()
		return f
	case []any:
		for i := range v {
			v[i] = numbers(v[i])
		}
		return v
	case map[string]any:
		for k := range v {
			v[k] = numbers(v[k])
		}
		return v
	default:
		return v
	}
}
