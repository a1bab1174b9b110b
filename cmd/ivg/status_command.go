package main

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"ivg/internal/ipc"
	"ivg/internal/jobs"
)

func newHealthCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check that the daemon is answering",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(cmd, func(c context.Context, client *ipc.Client) error {
				resp, err := client.Health(c)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Daemon at %s is %s\n", ctx.daemonAddr(), resp.Status)
				return nil
			})
		},
	}
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon, lane and job status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(cmd, func(c context.Context, client *ipc.Client) error {
				status, err := client.Status(c)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, status)
				}

				out := cmd.OutOrStdout()
				colorize := shouldColorize(out)
				fmt.Fprintln(out, heading("IVG daemon", colorize))
				uptime := "unknown"
				if !status.StartedAt.IsZero() {
					uptime = time.Since(status.StartedAt).Round(time.Second).String()
				}
				fmt.Fprintln(out, field("PID", strconv.Itoa(status.PID)))
				fmt.Fprintln(out, field("Uptime", uptime))
				fmt.Fprintln(out, field("Mode", string(status.Mode)))
				fmt.Fprintln(out, field("Provider", status.Provider))
				fmt.Fprintln(out, stateField("Breaker", status.BreakerState, breakerTone(status.BreakerState), "", colorize))
				fmt.Fprintln(out, field("Storage", status.Storage))
				for _, check := range status.Checks {
					state, t := checkBadge(check)
					fmt.Fprintln(out, stateField(check.Name, state, t, check.Detail, colorize))
				}

				fmt.Fprintln(out)
				rows := make([][]string, 0, len(status.Lanes))
				for _, lane := range status.Lanes {
					rows = append(rows, []string{
						string(lane.Lane),
						strconv.Itoa(lane.Workers),
						strconv.Itoa(lane.Busy),
						strconv.Itoa(lane.Depth),
					})
				}
				fmt.Fprintln(out, renderTable([]string{"Lane", "Workers", "Busy", "Queued"}, rows,
					[]columnAlignment{alignLeft, alignRight, alignRight, alignRight}))

				fmt.Fprintln(out)
				fmt.Fprintln(out, renderTable([]string{"State", "Jobs"}, jobCountRows(status.Jobs),
					[]columnAlignment{alignLeft, alignRight}))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the raw status as JSON")
	return cmd
}

func jobCountRows(counts map[jobs.State]int) [][]string {
	order := map[jobs.State]int{}
	for i, state := range jobs.AllStates() {
		order[state] = i
	}
	states := make([]jobs.State, 0, len(counts))
	for state := range counts {
		states = append(states, state)
	}
	sort.Slice(states, func(i, j int) bool {
		oi, iok := order[states[i]]
		oj, jok := order[states[j]]
		if iok && jok {
			return oi < oj
		}
		return strings.Compare(string(states[i]), string(states[j])) < 0
	})
	rows := make([][]string, 0, len(states))
	for _, state := range states {
		rows = append(rows, []string{string(state), strconv.Itoa(counts[state])})
	}
	return rows
}
