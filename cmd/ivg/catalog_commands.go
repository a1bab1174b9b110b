package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"ivg/internal/api"
	"ivg/internal/ipc"
)

func newStylesCommand(ctx *commandContext) *cobra.Command {
	stylesCmd := &cobra.Command{
		Use:   "styles",
		Short: "Browse and register styles",
	}
	stylesCmd.AddCommand(newStylesListCommand(ctx))
	stylesCmd.AddCommand(newStylesAddCommand(ctx))
	return stylesCmd
}

func newStylesListCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered styles",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(cmd, func(c context.Context, client *ipc.Client) error {
				styles, err := client.Styles(c)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, styles)
				}
				out := cmd.OutOrStdout()
				if len(styles) == 0 {
					fmt.Fprintln(out, "No styles registered")
					return nil
				}
				rows := make([][]string, 0, len(styles))
				for _, style := range styles {
					rows = append(rows, []string{style.ID, style.Name, truncate(style.Rules, 48), style.CreatedAt.Local().Format(time.DateTime)})
				}
				fmt.Fprintln(out, renderTable([]string{"ID", "Name", "Rules", "Created"}, rows, nil))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print styles as JSON")
	return cmd
}

func newStylesAddCommand(ctx *commandContext) *cobra.Command {
	var (
		id          string
		description string
		rules       string
		rulesFile   string
		reference   string
		profileFile string
	)
	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Register a style from rules and a reference image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if rulesFile != "" {
				data, err := os.ReadFile(rulesFile)
				if err != nil {
					return fmt.Errorf("read rules file: %w", err)
				}
				rules = string(data)
			}
			if strings.TrimSpace(reference) == "" {
				return fmt.Errorf("--reference is required")
			}
			refData, err := os.ReadFile(reference)
			if err != nil {
				return fmt.Errorf("read reference image: %w", err)
			}
			req := api.StyleCreateRequest{
				ID:          id,
				Name:        args[0],
				Description: description,
				Rules:       rules,
				Reference:   base64.StdEncoding.EncodeToString(refData),
			}
			if profileFile != "" {
				raw, err := os.ReadFile(profileFile)
				if err != nil {
					return fmt.Errorf("read profile file: %w", err)
				}
				if !json.Valid(raw) {
					return fmt.Errorf("profile file %s is not valid JSON", profileFile)
				}
				req.Profile = raw
			}

			return ctx.withClient(cmd, func(c context.Context, client *ipc.Client) error {
				style, err := client.CreateStyle(c, req)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Registered style %s (%s)\n", style.ID, style.Name)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "Style id (derived from the name when omitted)")
	cmd.Flags().StringVar(&description, "description", "", "Short description")
	cmd.Flags().StringVar(&rules, "rules", "", "Style rules text")
	cmd.Flags().StringVar(&rulesFile, "rules-file", "", "Read style rules from a file")
	cmd.Flags().StringVar(&reference, "reference", "", "Reference image path")
	cmd.Flags().StringVar(&profileFile, "profile-file", "", "Optional JSON style profile")
	return cmd
}

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List completed jobs for the current owner",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(cmd, func(c context.Context, client *ipc.Client) error {
				entries, err := client.History(c, limit)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, entries)
				}
				out := cmd.OutOrStdout()
				if len(entries) == 0 {
					fmt.Fprintln(out, "No history yet")
					return nil
				}
				rows := make([][]string, 0, len(entries))
				for _, entry := range entries {
					style := entry.StyleID
					if style == "" {
						style = "-"
					}
					rows = append(rows, []string{
						entry.CreatedAt.Local().Format(time.DateTime),
						entry.JobKind,
						style,
						strings.Join(entry.InputRefs, ","),
						entry.OutputRef,
					})
				}
				fmt.Fprintln(out, renderTable([]string{"Completed", "Kind", "Style", "Inputs", "Output"}, rows, nil))
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum entries to show")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print entries as JSON")
	return cmd
}

func truncate(value string, limit int) string {
	value = strings.Join(strings.Fields(value), " ")
	if utf8.RuneCountInString(value) <= limit {
		return value
	}
	runes := []rune(value)
	return string(runes[:limit-1]) + "…"
}
