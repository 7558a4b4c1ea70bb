package commands

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/syssam/sqlkit"
	"github.com/syssam/sqlkit/event"
)

var (
	success = color.New(color.FgGreen)
	faint   = color.New(color.Faint)
)

// run opens a client for the duration of fn and reports the statement
// statistics of what fn ran.
func (o *options) run(cmd *cobra.Command, timeout time.Duration, fn func(context.Context, *sqlkit.Client) error) error {
	client, err := o.open(cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer client.Close()

	if o.events {
		sink := newEventSink(cmd.ErrOrStderr())
		client.On(event.KindQuery, sink.write)
		client.On(event.KindQueryEnd, sink.write)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if err := fn(ctx, client); err != nil {
		return err
	}
	s := client.Stats()
	faint.Fprintf(cmd.ErrOrStderr(), "took %s (%d statements, %d slow)\n", s.Total.Round(time.Microsecond), s.Statements, s.Slow)
	return nil
}

// eventSink writes events as JSON lines.
type eventSink struct {
	enc *json.Encoder
}

func newEventSink(w io.Writer) *eventSink {
	return &eventSink{enc: json.NewEncoder(w)}
}

type eventLine struct {
	Kind     event.Kind `json:"kind"`
	Host     string     `json:"host,omitempty"`
	Database string     `json:"database,omitempty"`
	SQL      string     `json:"sql"`
	Time     time.Time  `json:"time"`
	Duration string     `json:"duration,omitempty"`
	Error    string     `json:"error,omitempty"`
}

func (s *eventSink) write(e event.Event) {
	line := eventLine{
		Kind:     e.Kind,
		Host:     e.Host,
		Database: e.Database,
		SQL:      e.SQL,
		Time:     e.Time,
	}
	if e.Kind == event.KindQueryEnd {
		line.Duration = e.Duration.String()
	}
	if e.Err != nil {
		line.Error = e.Err.Error()
	}
	// Write errors are ignored.
	_ = s.enc.Encode(line)
}

func newQueryCommand(o *options) *cobra.Command {
	var (
		flags   templateFlags
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "query [template]",
		Short: "Run a template and print the rows as JSON lines",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tmpl, values, err := flags.resolve(o.fs, args)
			if err != nil {
				return err
			}
			return o.run(cmd, timeout, func(ctx context.Context, c *sqlkit.Client) error {
				rows, err := c.Query(ctx, tmpl, values)
				if err != nil {
					return err
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				for _, row := range rows {
					if err := enc.Encode(row); err != nil {
						return err
					}
				}
				success.Fprintf(cmd.ErrOrStderr(), "✓ %d rows\n", len(rows))
				return nil
			})
		},
	}
	flags.register(cmd)
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "statement timeout")
	return cmd
}

func newExecCommand(o *options) *cobra.Command {
	var (
		flags   templateFlags
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "exec [template]",
		Short: "Run a template that returns no rows",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tmpl, values, err := flags.resolve(o.fs, args)
			if err != nil {
				return err
			}
			return o.run(cmd, timeout, func(ctx context.Context, c *sqlkit.Client) error {
				res, err := c.Exec(ctx, tmpl, values)
				if err != nil {
					return err
				}
				n, err := res.RowsAffected()
				if err != nil {
					return err
				}
				success.Fprintf(cmd.OutOrStdout(), "✓ %d rows affected\n", n)
				return nil
			})
		},
	}
	flags.register(cmd)
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "statement timeout")
	return cmd
}

func newPingCommand(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check that the database is reachable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.run(cmd, 10*time.Second, func(ctx context.Context, c *sqlkit.Client) error {
				if err := c.Ping(ctx); err != nil {
					return err
				}
				success.Fprintf(cmd.OutOrStdout(), "✓ connected (%s)\n", c.Dialect())
				return nil
			})
		},
	}
}
