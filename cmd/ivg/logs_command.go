package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"ivg/internal/daemonctl"
	"ivg/internal/ipc"
	"ivg/internal/logging"
	"ivg/internal/logs"
)

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var (
		follow    bool
		lines     int
		component string
		jobID     string
	)
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show recent daemon log events",
		RunE: func(cmd *cobra.Command, args []string) error {
			err := ctx.withClient(cmd, func(c context.Context, client *ipc.Client) error {
				out := cmd.OutOrStdout()
				colorize := shouldColorize(out)
				query := ipc.LogQuery{Limit: lines, Tail: true, Component: component, JobID: jobID}
				for {
					resp, err := client.Logs(c, query)
					if err != nil {
						if errors.Is(err, context.Canceled) {
							return nil
						}
						return err
					}
					for _, evt := range resp.Events {
						printLogEvent(out, evt, colorize)
					}
					if !follow {
						return nil
					}
					query = ipc.LogQuery{Since: resp.Next, Follow: true, Component: component, JobID: jobID}
				}
			})
			if err == nil || !daemonctl.IsUnavailable(err) {
				return err
			}
			cfg, cfgErr := ctx.ensureConfig()
			if cfgErr != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "daemon unavailable, reading %s\n", logs.CurrentPath(cfg.Paths.LogDir))
			return tailLogFile(cmd, logs.CurrentPath(cfg.Paths.LogDir), lines, follow)
		},
	}
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing new events")
	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "Number of recent events to show")
	cmd.Flags().StringVar(&component, "component", "", "Only show events from this component")
	cmd.Flags().StringVar(&jobID, "job", "", "Only show events for this job")
	return cmd
}

func printLogEvent(out io.Writer, evt logging.LogEvent, colorize bool) {
	level := strings.ToUpper(evt.Level)
	if colorize {
		switch level {
		case "ERROR":
			level = ansiRed + level + ansiReset
		case "WARN":
			level = ansiYellow + level + ansiReset
		}
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s %-5s", evt.Timestamp.Local().Format(time.TimeOnly), level)
	if evt.Component != "" {
		fmt.Fprintf(&b, " [%s]", evt.Component)
	}
	b.WriteString(" ")
	b.WriteString(evt.Message)
	if evt.JobID != "" {
		fmt.Fprintf(&b, " job=%s", evt.JobID)
	}
	keys := make([]string, 0, len(evt.Fields))
	for key := range evt.Fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		fmt.Fprintf(&b, " %s=%s", key, evt.Fields[key])
	}
	fmt.Fprintln(out, b.String())
}

// tailLogFile prints the daemon's log file when its API is down.
func tailLogFile(cmd *cobra.Command, path string, lines int, follow bool) error {
	out := cmd.OutOrStdout()
	chunk, err := logs.Last(path, lines)
	if err != nil {
		return err
	}
	for _, line := range chunk.Lines {
		fmt.Fprintln(out, line)
	}
	ctx := cmd.Context()
	for follow {
		chunk, err = logs.Follow(ctx, path, chunk.Offset, 5*time.Second)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		for _, line := range chunk.Lines {
			fmt.Fprintln(out, line)
		}
	}
	return nil
}
