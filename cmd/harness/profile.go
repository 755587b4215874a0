package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/relaypane/harness/internal/control"
	"github.com/relaypane/harness/internal/streamproto"
)

// profileCmd captures CPU samples from the conversation's gateway
// process, so unlike status-timeline/render-trace it must round-trip
// through the running daemon rather than just writing local state.
func profileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "CPU profile a conversation's gateway",
	}
	cmd.AddCommand(profileStartCmd())
	cmd.AddCommand(profileStopCmd())
	cmd.AddCommand(profileRunCmd())
	return cmd
}

func profileStartCmd() *cobra.Command {
	var conversationID, targetPath string
	cmd := &cobra.Command{
		Use:   "start",
		Short: "start a CPU profile for a conversation's gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			if conversationID == "" {
				return fmt.Errorf("--conversation-id is required")
			}
			paths, err := resolvePaths()
			if err != nil {
				return err
			}
			if targetPath == "" {
				targetPath = filepath.Join(paths.ProfileDir(conversationID), "gateway.cpuprofile")
			}
			client, cleanup, err := dialWorkspace()
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			raw, err := client.SendCommand(ctx, streamproto.CommandProfileStart, streamproto.ProfileStartParams{
				ConversationID: conversationID,
				TargetPath:     targetPath,
			})
			if err != nil {
				return err
			}
			var res streamproto.ProfileStartResult
			if jerr := json.Unmarshal(raw, &res); jerr != nil {
				return jerr
			}
			fmt.Printf("profile started: conversation=%s target=%s\n", res.ConversationID, res.TargetPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&conversationID, "conversation-id", "", "target conversation id")
	cmd.Flags().StringVar(&targetPath, "target-path", "", "output path for the captured cpu profile")
	return cmd
}

func profileStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "finalize and clear the active CPU profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, cleanup, err := dialWorkspace()
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			raw, err := client.SendCommand(ctx, streamproto.CommandProfileStop, streamproto.ProfileStopResult{})
			if err != nil {
				return err
			}
			var res streamproto.ProfileStopResult
			if jerr := json.Unmarshal(raw, &res); jerr != nil {
				return jerr
			}
			fmt.Printf("profile stopped: conversation=%s target=%s\n", res.ConversationID, res.TargetPath)
			return nil
		},
	}
}

func profileRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "report the active profile, if any",
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := resolvePaths()
			if err != nil {
				return err
			}
			st, err := control.Active(paths.ProfileStatePath())
			if err != nil {
				return err
			}
			if st == nil {
				fmt.Println("profile: not running")
				return nil
			}
			fmt.Printf("profile: running conversation=%s target=%s startedAt=%s\n", st.ConversationID, st.TargetPath, st.StartedAt.Format("2006-01-02T15:04:05Z"))
			return nil
		},
	}
}

func statusTimelineCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status-timeline",
		Short: "trace conversation status transitions",
	}
	cmd.AddCommand(controllerStartCmd("status-timeline", "status-timeline", func(p pathsLike) string { return p.StatusTimelineStatePath() }))
	cmd.AddCommand(controllerStopCmd("status-timeline", func(p pathsLike) string { return p.StatusTimelineStatePath() }))
	return cmd
}

func renderTraceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "render-trace",
		Short: "trace rail/view-model render calls",
	}
	cmd.AddCommand(controllerStartCmd("render-trace", "render-trace", func(p pathsLike) string { return p.RenderTraceStatePath() }))
	cmd.AddCommand(controllerStopCmd("render-trace", func(p pathsLike) string { return p.RenderTraceStatePath() }))
	return cmd
}

// pathsLike is the subset of *pathres.Paths the controller commands
// need, named to avoid importing pathres into every call site.
type pathsLike interface {
	ProfileStatePath() string
	StatusTimelineStatePath() string
	RenderTraceStatePath() string
}

func controllerStartCmd(use, mode string, statePath func(pathsLike) string) *cobra.Command {
	var conversationID, targetPath string
	cmd := &cobra.Command{
		Use:   "start",
		Short: fmt.Sprintf("start %s for a conversation", use),
		RunE: func(cmd *cobra.Command, args []string) error {
			if conversationID == "" {
				return fmt.Errorf("--conversation-id is required")
			}
			paths, err := resolvePaths()
			if err != nil {
				return err
			}
			st, err := control.Start(statePath(paths), mode, conversationID, targetPath)
			if err != nil {
				if errors.Is(err, control.ErrAlreadyRunning) {
					return fmt.Errorf("%s already running", use)
				}
				return err
			}
			fmt.Printf("%s started: conversation=%s\n", use, st.ConversationID)
			return nil
		},
	}
	cmd.Flags().StringVar(&conversationID, "conversation-id", "", "target conversation id")
	cmd.Flags().StringVar(&targetPath, "target-path", "", "output path for the captured trace/profile")
	return cmd
}

func controllerStopCmd(use string, statePath func(pathsLike) string) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: fmt.Sprintf("finalize and clear the active %s", use),
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := resolvePaths()
			if err != nil {
				return err
			}
			st, err := control.Stop(statePath(paths))
			if err != nil {
				if errors.Is(err, control.ErrNotRunning) {
					return fmt.Errorf("%s not running", use)
				}
				return err
			}
			fmt.Printf("%s stopped: conversation=%s\n", use, st.ConversationID)
			return nil
		},
	}
}
