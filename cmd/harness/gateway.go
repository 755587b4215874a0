package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/relaypane/harness/internal/gatewaydaemon"
	"github.com/relaypane/harness/internal/gatewayrecord"
	"github.com/relaypane/harness/internal/gc"
	"github.com/relaypane/harness/internal/gwsupervisor"
	"github.com/relaypane/harness/internal/pathres"
	"github.com/relaypane/harness/internal/streamproto"
	"github.com/relaypane/harness/internal/streamtransport"
)

func gatewayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gateway",
		Short: "manage this workspace's gateway daemon",
	}
	cmd.AddCommand(
		gatewayStartCmd(),
		gatewayStopCmd(),
		gatewayStatusCmd(),
		gatewayRunCmd(),
		gatewayListCmd(),
		gatewayGCCmd(),
		gatewayCallCmd(),
	)
	return cmd
}

func gatewayStartCmd() *cobra.Command {
	var host, authToken, stateDBPath string
	var port int

	cmd := &cobra.Command{
		Use:   "start",
		Short: "ensure a gateway is running for this workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := resolvePaths()
			if err != nil {
				return err
			}
			cfg, err := loadConfig(paths)
			if err != nil {
				return err
			}

			in := gwsupervisor.Settings{Host: host, Port: port, StateDBPath: stateDBPath}
			if authToken != "" {
				in.AuthToken = authToken
				in.AuthTokenSet = true
			}
			in = in.FromConfig(cfg)

			sup := gwsupervisor.New(paths)
			rec, started, err := sup.EnsureRunning(context.Background(), in)
			if err != nil {
				return err
			}
			verb := "already running"
			if started {
				verb = "started"
			}
			fmt.Printf("gateway %s: pid=%d host=%s port=%d\n", verb, rec.PID, rec.Host, rec.Port)
			return nil
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "bind host (default: configured > record > loopback; no env override)")
	cmd.Flags().IntVar(&port, "port", 0, "bind port (0: configured > env > record > ephemeral)")
	cmd.Flags().StringVar(&authToken, "auth-token", "", "required client auth token")
	cmd.Flags().StringVar(&stateDBPath, "state-db-path", "", "validated only: must not be under <workspace>/.harness")
	return cmd
}

func gatewayStopCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "stop this workspace's gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := resolvePaths()
			if err != nil {
				return err
			}
			sup := gwsupervisor.New(paths)
			_, message, err := sup.Stop(context.Background(), force)
			if message != "" {
				fmt.Println(message)
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "force-kill after the grace period")
	return cmd
}

func gatewayStatusCmd() *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "report whether this workspace's gateway is reachable",
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := resolvePaths()
			if err != nil {
				return err
			}
			if err := printGatewayStatus(paths); err != nil {
				return err
			}
			if !watch {
				return nil
			}
			return watchGatewayStatus(cmd.Context(), paths)
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", false, "keep running and reprint status whenever the gateway record changes")
	return cmd
}

func printGatewayStatus(paths *pathres.Paths) error {
	rec, err := gatewayrecord.Read(paths.GatewayRecordPath())
	if err != nil {
		return err
	}
	if rec == nil {
		fmt.Println("gateway status: stopped")
		return nil
	}
	sup := gwsupervisor.New(paths)
	token := ""
	if rec.AuthToken != nil {
		token = *rec.AuthToken
	}
	probe := sup.Probe(context.Background(), rec.Host, rec.Port, token)
	if !probe.Connected {
		fmt.Println("gateway status: stopped")
		return nil
	}
	fmt.Printf("gateway status: running pid=%d host=%s port=%d sessions=%d live=%d\n",
		rec.PID, rec.Host, rec.Port, probe.SessionCount, probe.LiveSessionCount)
	return nil
}

// watchGatewayStatus reprints status whenever the gateway record file
// is created, written, or removed, so `--watch` reacts to the daemon
// starting or dying out-of-band instead of polling.
func watchGatewayStatus(ctx context.Context, paths *pathres.Paths) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("gateway status --watch: %w", err)
	}
	defer watcher.Close()

	recordDir := filepath.Dir(paths.GatewayRecordPath())
	if err := os.MkdirAll(recordDir, 0o755); err != nil {
		return err
	}
	if err := watcher.Add(recordDir); err != nil {
		return fmt.Errorf("gateway status --watch: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-watcher.Errors:
			if err != nil {
				return err
			}
		case ev := <-watcher.Events:
			if filepath.Base(ev.Name) != filepath.Base(paths.GatewayRecordPath()) {
				continue
			}
			if err := printGatewayStatus(paths); err != nil {
				return err
			}
		}
	}
}

// gatewayRunCmd is the body the supervisor spawns detached; it never
// runs interactively.
func gatewayRunCmd() *cobra.Command {
	var host, authToken, stateDBPath, workspaceRootFlag string
	var port int

	cmd := &cobra.Command{
		Use:    "run",
		Short:  "run the gateway daemon in the foreground (internal)",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			root := workspaceRootFlag
			if root == "" {
				var err error
				root, err = workspaceRoot()
				if err != nil {
					return err
				}
			}
			paths, err := pathres.Resolve(root, sessionFlag)
			if err != nil {
				return err
			}
			dbPath := stateDBPath
			if dbPath == "" {
				dbPath = paths.StateDBPath()
			}
			return gatewaydaemon.Run(gatewaydaemon.Config{
				Paths:       paths,
				Host:        host,
				Port:        port,
				AuthToken:   authToken,
				StateDBPath: dbPath,
			})
		},
	}
	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "bind host")
	cmd.Flags().IntVar(&port, "port", 0, "bind port")
	cmd.Flags().StringVar(&authToken, "auth-token", "", "required client auth token")
	cmd.Flags().StringVar(&stateDBPath, "state-db-path", "", "state database path")
	cmd.Flags().StringVar(&workspaceRootFlag, "workspace-root", "", "workspace root (default: resolved invocation cwd)")
	return cmd
}

func gatewayListCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "list conversations known to this workspace's gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, cleanup, err := dialWorkspace()
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			raw, err := client.SendCommand(ctx, streamproto.CommandSessionList, streamproto.SessionListParams{})
			if err != nil {
				return err
			}
			if format == "yaml" {
				var decoded map[string]any
				if jerr := json.Unmarshal(raw, &decoded); jerr != nil {
					return jerr
				}
				out, yerr := yaml.Marshal(decoded)
				if yerr != nil {
					return yerr
				}
				fmt.Print(string(out))
				return nil
			}
			fmt.Println(string(raw))
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", "json", "output format: json or yaml")
	return cmd
}

func gatewayGCCmd() *cobra.Command {
	var maxAgeMs int
	cmd := &cobra.Command{
		Use:   "gc",
		Short: "remove stale named-session directories",
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := resolvePaths()
			if err != nil {
				return err
			}
			maxAge := gc.DefaultMaxAge
			if maxAgeMs > 0 {
				maxAge = time.Duration(maxAgeMs) * time.Millisecond
			}
			summary := gc.Run(paths.SessionsDir(), maxAge)
			fmt.Println(summary.String())
			return nil
		},
	}
	cmd.Flags().IntVar(&maxAgeMs, "max-age-ms", 0, "override gcMaxAgeMs (default 7 days)")
	return cmd
}

func gatewayCallCmd() *cobra.Command {
	var jsonBody string
	cmd := &cobra.Command{
		Use:   "call",
		Short: "issue one command against this workspace's gateway and print the response",
		RunE: func(cmd *cobra.Command, args []string) error {
			if jsonBody == "" {
				return fmt.Errorf("--json is required")
			}
			var envelope struct {
				Type string          `json:"type"`
				Rest json.RawMessage `json:"-"`
			}
			if err := json.Unmarshal([]byte(jsonBody), &envelope); err != nil {
				return fmt.Errorf("invalid --json: %w", err)
			}
			if envelope.Type == "" {
				return fmt.Errorf("--json must include a \"type\" field")
			}

			var params json.RawMessage = []byte(jsonBody)

			client, cleanup, err := dialWorkspace()
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			raw, err := client.SendCommand(ctx, streamproto.CommandType(envelope.Type), params)
			if err != nil {
				return err
			}
			fmt.Println(string(raw))
			return nil
		},
	}
	cmd.Flags().StringVar(&jsonBody, "json", "", "command envelope, e.g. {\"type\":\"session.list\",\"limit\":1}")
	return cmd
}

// dialWorkspace resolves this workspace's record and connects a client
// to it, failing loudly if no gateway is reachable.
func dialWorkspace() (*streamtransport.Client, func(), error) {
	paths, err := resolvePaths()
	if err != nil {
		return nil, nil, err
	}
	rec, err := gatewayrecord.Read(paths.GatewayRecordPath())
	if err != nil {
		return nil, nil, err
	}
	if rec == nil {
		return nil, nil, fmt.Errorf("gateway not running (no record)")
	}
	token := ""
	if rec.AuthToken != nil {
		token = *rec.AuthToken
	}
	addr := net.JoinHostPort(rec.Host, strconv.Itoa(rec.Port))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := streamtransport.Dial(ctx, addr, token)
	if err != nil {
		return nil, nil, fmt.Errorf("gateway not reachable: %w", err)
	}
	return client, func() { client.Close() }, nil
}
