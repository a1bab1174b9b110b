package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"ivg/internal/api"
	"ivg/internal/ipc"
	"ivg/internal/jobs"
)

func newUploadCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "upload <file>",
		Short: "Upload an image and print its asset id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(cmd, func(c context.Context, client *ipc.Client) error {
				resp, err := uploadFile(c, client, args[0])
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, resp)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Uploaded %s as %s (%s, %dx%d, %d bytes)\n",
					filepath.Base(args[0]), resp.AssetID, resp.ContentType, resp.Width, resp.Height, resp.Size)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the upload response as JSON")
	return cmd
}

func uploadFile(ctx context.Context, client *ipc.Client, path string) (*api.UploadResponse, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return client.Upload(ctx, filepath.Base(path), data)
}

type submitFlags struct {
	asset  string
	file   string
	style  string
	prompt string
	fast   bool
	wait   bool
	output string
	asJSON bool
}

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	submitCmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a generation job",
	}
	submitCmd.AddCommand(newSubmitKindCommand(ctx, jobs.KindVariation, "variation", "Restyle an image with a style and/or prompt"))
	submitCmd.AddCommand(newSubmitKindCommand(ctx, jobs.KindBackgroundRemoval, "background-removal", "Cut the subject out of an image"))
	return submitCmd
}

func newSubmitKindCommand(ctx *commandContext, kind jobs.Kind, use, short string) *cobra.Command {
	flags := &submitFlags{}
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if flags.asset != "" && flags.file != "" {
				return errors.New("use either --asset or --file, not both")
			}
			if flags.output != "" {
				flags.wait = true
			}
			return ctx.withClient(cmd, func(c context.Context, client *ipc.Client) error {
				out := cmd.OutOrStdout()
				assetID := strings.TrimSpace(flags.asset)
				if flags.file != "" {
					uploaded, err := uploadFile(c, client, flags.file)
					if err != nil {
						return err
					}
					assetID = uploaded.AssetID
					if !flags.asJSON {
						fmt.Fprintf(out, "Uploaded %s as %s\n", filepath.Base(flags.file), assetID)
					}
				}

				snap, err := client.Submit(c, api.SubmitRequest{
					Kind:     string(kind),
					AssetID:  assetID,
					StyleID:  flags.style,
					Prompt:   flags.prompt,
					FastMode: flags.fast,
				})
				if err != nil {
					return err
				}
				if flags.wait && !snap.State.Terminal() {
					snap, err = followJob(c, cmd, client, snap.JobID, !flags.asJSON)
					if err != nil {
						return err
					}
				}
				if flags.asJSON {
					if err := writeJSON(cmd, snap); err != nil {
						return err
					}
				} else {
					renderSnapshot(out, *snap, shouldColorize(out))
				}
				if flags.output != "" && snap.State == jobs.StateSucceeded {
					if err := saveAsset(c, client, snap.OutputRef, flags.output); err != nil {
						return err
					}
					if !flags.asJSON {
						fmt.Fprintf(out, "Saved result to %s\n", flags.output)
					}
				}
				if snap.State == jobs.StateFailed {
					return fmt.Errorf("job %s failed", snap.JobID)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&flags.asset, "asset", "", "Asset id of a previously uploaded image")
	cmd.Flags().StringVar(&flags.file, "file", "", "Upload this image and use it as the source")
	if kind == jobs.KindVariation {
		cmd.Flags().StringVar(&flags.style, "style", "", "Style id to apply")
		cmd.Flags().StringVar(&flags.prompt, "prompt", "", "Free-text edit request")
	}
	cmd.Flags().BoolVar(&flags.fast, "fast", false, "Use the fast model and thresholds")
	cmd.Flags().BoolVar(&flags.wait, "wait", false, "Follow the job until it finishes")
	cmd.Flags().StringVarP(&flags.output, "output", "o", "", "Write the result image to this path (implies --wait)")
	cmd.Flags().BoolVar(&flags.asJSON, "json", false, "Print the final snapshot as JSON")
	return cmd
}

func newJobCommand(ctx *commandContext) *cobra.Command {
	var watch bool
	var asJSON bool
	var output string
	cmd := &cobra.Command{
		Use:   "job <id>",
		Short: "Show a job, optionally following it to completion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(cmd, func(c context.Context, client *ipc.Client) error {
				var (
					snap *jobs.Snapshot
					err  error
				)
				if watch {
					snap, err = followJob(c, cmd, client, args[0], !asJSON)
				} else {
					snap, err = client.Job(c, args[0])
				}
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if asJSON {
					if err := writeJSON(cmd, snap); err != nil {
						return err
					}
				} else if !watch {
					renderSnapshot(out, *snap, shouldColorize(out))
				}
				if output != "" {
					if snap.State != jobs.StateSucceeded {
						return fmt.Errorf("job %s has no result (state %s)", snap.JobID, snap.State)
					}
					return saveAsset(c, client, snap.OutputRef, output)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Stream state changes until the job finishes")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the snapshot as JSON")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write the result image to this path")
	return cmd
}

// followJob streams a job's snapshots, printing a line per transition when
// verbose is set.
func followJob(ctx context.Context, cmd *cobra.Command, client *ipc.Client, id string, verbose bool) (*jobs.Snapshot, error) {
	out := cmd.OutOrStdout()
	colorize := shouldColorize(out)
	last, err := client.StreamJob(ctx, id, func(snap jobs.Snapshot) {
		if !verbose {
			return
		}
		if snap.State.Terminal() {
			renderSnapshot(out, snap, colorize)
			return
		}
		fmt.Fprintln(out, renderJobLine(snap, colorize))
	})
	if err != nil {
		return last, err
	}
	if !last.State.Terminal() {
		// The stream went idle; report where the job stands now.
		return client.Job(ctx, id)
	}
	return last, nil
}

func saveAsset(ctx context.Context, client *ipc.Client, id, path string) error {
	data, _, err := client.Asset(ctx, id)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
