// Package gatewaydaemon wires the session store, PTY engine, scheduler,
// and stream transport into a single running gateway process, the way
// a daemon package wires a store, agents, and transport together.
package gatewaydaemon

import (
	"context"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/relaypane/harness/internal/gatewayrecord"
	"github.com/relaypane/harness/internal/gc"
	"github.com/relaypane/harness/internal/gateway"
	"github.com/relaypane/harness/internal/pathres"
	"github.com/relaypane/harness/internal/ptyengine"
	"github.com/relaypane/harness/internal/sessionstore"
	"github.com/relaypane/harness/internal/streamtransport"
)

// Config is everything Run needs to bind and serve one gateway.
type Config struct {
	Paths       *pathres.Paths
	Host        string
	Port        int
	AuthToken   string
	StateDBPath string

	GCInterval time.Duration
	GCMaxAge   time.Duration
}

func (c Config) gcInterval() time.Duration {
	if c.GCInterval > 0 {
		return c.GCInterval
	}
	return 10 * time.Minute
}

func (c Config) gcMaxAge() time.Duration {
	if c.GCMaxAge > 0 {
		return c.GCMaxAge
	}
	return 7 * 24 * time.Hour
}

// Run opens the session store, binds host:port, writes the gateway
// record, and serves until SIGTERM/SIGINT or a fatal subsystem error.
// It is the body of `harness gateway run` — always executed inside the
// detached child the supervisor spawns.
func Run(cfg Config) error {
	store, err := sessionstore.Open(cfg.StateDBPath)
	if err != nil {
		return fmt.Errorf("gatewaydaemon: open store: %w", err)
	}
	defer store.Close()

	recoverInterrupted(store)

	engine := ptyengine.New()

	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("gatewaydaemon: listen %s: %w", addr, err)
	}
	boundPort := ln.Addr().(*net.TCPAddr).Port

	srv := streamtransport.NewServer(nil, cfg.AuthToken)
	dispatcher := gateway.NewDispatcher(store, engine, srv)
	dispatcher.PID = os.Getpid()
	dispatcher.StateDBPath = cfg.StateDBPath
	dispatcher.StartedAt = time.Now().UTC()
	dispatcher.ProfileStatePath = cfg.Paths.ProfileStatePath()
	srv.Dispatcher = dispatcher

	record := &gatewayrecord.Record{
		PID:           dispatcher.PID,
		Host:          cfg.Host,
		Port:          boundPort,
		AuthToken:     tokenPtr(cfg.AuthToken),
		StateDBPath:   cfg.StateDBPath,
		StartedAt:     dispatcher.StartedAt,
		WorkspaceRoot: cfg.Paths.WorkspaceRoot,
	}
	if err := gatewayrecord.Write(cfg.Paths.GatewayRecordPath(), record); err != nil {
		ln.Close()
		return fmt.Errorf("gatewaydaemon: write record: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	errCh := make(chan error, 2)

	go func() {
		log.Printf("gateway listening on %s", addr)
		errCh <- srv.Serve(ctx, ln)
	}()

	go runGC(ctx, cfg)

	log.Printf("gateway daemon started (workspace=%s pid=%d)", cfg.Paths.WorkspaceRoot, dispatcher.PID)

	select {
	case sig := <-sigCh:
		log.Printf("received %s, shutting down", sig)
		srv.Shutdown()
		cancel()
		time.Sleep(500 * time.Millisecond)
	case err := <-errCh:
		cancel()
		if err != nil && err != context.Canceled {
			_ = gatewayrecord.Remove(cfg.Paths.GatewayRecordPath())
			return fmt.Errorf("gatewaydaemon: %w", err)
		}
	}

	return gatewayrecord.Remove(cfg.Paths.GatewayRecordPath())
}

// runGC periodically sweeps this workspace's sessions directory for
// leftover dead-PID rows, independent of the reaper's host-wide orphan
// scan invoked from gwsupervisor.Stop.
func runGC(ctx context.Context, cfg Config) {
	ticker := time.NewTicker(cfg.gcInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			summary := gc.Run(cfg.Paths.SessionsDir(), cfg.gcMaxAge())
			if len(summary.Removed) > 0 {
				log.Printf("gc: %s", summary.String())
			}
		}
	}
}

func recoverInterrupted(s *sessionstore.Store) {
	rows, err := s.DB().Query(`SELECT id FROM conversations WHERE status = ? OR status = ?`, sessionstore.StatusStarting, sessionstore.StatusRunning)
	if err != nil {
		return
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			continue
		}
		_ = s.SetStatus(id, sessionstore.StatusExited, time.Now().UTC(), nil)
		log.Printf("gatewaydaemon: recovered interrupted conversation %s", id)
	}
}

func tokenPtr(token string) *string {
	if token == "" {
		return nil
	}
	return &token
}
