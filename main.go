package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"meetingSummarize/config"
	"meetingSummarize/initialization"
	"meetingSummarize/logger"
	"meetingSummarize/processors"
	"meetingSummarize/server"
	"meetingSummarize/utils"
)

var errPipelineFailed = errors.New("pipeline finished with an error")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		if !errors.Is(err, errPipelineFailed) {
			fmt.Fprintln(os.Stderr, "error:", err)
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "meetingsummarize",
		Short:         "Transcribe, attribute and summarize meeting recordings",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.AddCommand(newServeCmd(), newProcessCmd(), newSearchCmd(), newDeleteCmd())
	return rootCmd
}

// setup loads configuration, installs the logger and builds the system.
func setup(cmd *cobra.Command) (context.Context, *initialization.System, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}
	log := logger.New(logger.Config{
		Level:      logger.ParseLevel(cfg.Log.Level),
		Output:     os.Stderr,
		JSONFormat: cfg.Log.JSON,
	})
	logger.SetDefault(log)
	ctx := logger.WithContext(cmd.Context(), log)

	sys, err := initialization.NewSystem(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return ctx, sys, nil
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, sys, err := setup(cmd)
			if err != nil {
				return err
			}
			defer sys.Close()
			h := server.NewHandler(sys.Engine, sys.Retriever, sys.Store, sys.Config.Store.Backend)
			return server.Run(ctx, sys.Config.Server.Port, h.Router(), sys.Config.Server.ShutdownTimeout)
		},
	}
}

func newProcessCmd() *cobra.Command {
	var (
		meetingID    string
		title        string
		participants []string
		concurrency  int
	)
	cmd := &cobra.Command{
		Use:   "process <audio-file>...",
		Short: "Run the pipeline on recordings and print the resulting states",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if meetingID != "" && len(args) > 1 {
				return errors.New("--meeting-id can only be used with a single recording")
			}
			ctx, sys, err := setup(cmd)
			if err != nil {
				return err
			}
			defer sys.Close()

			jobs := make([]processors.BatchJob, 0, len(args))
			for _, audio := range args {
				id := meetingID
				if id == "" {
					if id, err = utils.MeetingIDFromAudio(audio); err != nil {
						return err
					}
				}
				metadata := map[string]any{
					"participants": participants,
					"processed_at": time.Now().UTC().Format(time.RFC3339),
					"source":       filepath.Base(audio),
				}
				if title != "" {
					metadata["title"] = title
				}
				jobs = append(jobs, processors.BatchJob{MeetingID: id, AudioRef: audio, Metadata: metadata})
			}

			res := sys.Engine.ProcessBatch(ctx, jobs, concurrency)
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			for _, state := range res.States {
				out := filepath.Join(sys.Config.Server.DataDir, state.MeetingID, "state.json")
				if err := utils.SaveJSON(out, state); err != nil {
					logger.ErrorErr(ctx, "failed to save state", err, "path", out)
				}
				if err := enc.Encode(state); err != nil {
					return err
				}
				if state.HasError() {
					fmt.Fprintf(cmd.ErrOrStderr(), "pipeline error for %s: %s\n", state.MeetingID, state.Error)
				}
			}
			if res.Failed > 0 {
				return errPipelineFailed
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&meetingID, "meeting-id", "", "meeting id (default: derived from the audio content)")
	cmd.Flags().StringVar(&title, "title", "", "meeting title stored with the metadata")
	cmd.Flags().StringSliceVar(&participants, "participant", []string{}, "meeting participant (repeatable)")
	cmd.Flags().IntVar(&concurrency, "concurrency", 2, "recordings processed at the same time")
	return cmd
}

func newSearchCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "List stored meetings related to a query",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, sys, err := setup(cmd)
			if err != nil {
				return err
			}
			defer sys.Close()
			meetings, err := sys.Retriever.RelatedMeetings(ctx, args[0], limit)
			if err != nil {
				return err
			}
			for _, m := range meetings {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%.3f\t%d segments\n", m.MeetingID, m.AvgScore, m.NumSegments)
				for _, s := range m.TopSegments {
					fmt.Fprintf(cmd.OutOrStdout(), "    [%.1fs] %s: %s\n", s.Timestamp, s.Speaker, s.Text)
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 5, "maximum number of meetings")
	return cmd
}

func newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <meeting-id>",
		Short: "Remove a meeting from the vector store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, sys, err := setup(cmd)
			if err != nil {
				return err
			}
			defer sys.Close()
			n, err := sys.Store.DeleteMeeting(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d segments of %s\n", n, args[0])
			return nil
		},
	}
}
