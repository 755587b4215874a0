// Package gwsupervisor implements the gateway lifecycle supervisor: the
// EnsureRunning / Stop / Probe operations that back `harness gateway
// start|stop|status`. It is the one place that decides whether a
// workspace's gateway is already up, reachable-but-unrecorded (adopted),
// or needs spawning, and it owns the detached-process mechanics for the
// spawn path.
package gwsupervisor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"syscall"
	"time"

	"github.com/relaypane/harness/internal/gatewayrecord"
	"github.com/relaypane/harness/internal/gwpointer"
	"github.com/relaypane/harness/internal/migrate"
	"github.com/relaypane/harness/internal/pathres"
	"github.com/relaypane/harness/internal/reaper"
	"github.com/relaypane/harness/internal/streamproto"
	"github.com/relaypane/harness/internal/streamtransport"
	"github.com/relaypane/harness/internal/wslock"
)

const (
	defaultStartupTimeout = 10 * time.Second
	defaultProbeTimeout   = 2 * time.Second
	defaultGraceDuration  = 4 * time.Second
)

// Supervisor owns one workspace's gateway lifecycle.
type Supervisor struct {
	Paths *pathres.Paths
	Stdout io.Writer

	StartupTimeout time.Duration
	ProbeTimeout   time.Duration
	LockTimeout    time.Duration
	GraceDuration  time.Duration

	lock *wslock.Lock
}

// New returns a Supervisor for the given resolved paths.
func New(paths *pathres.Paths) *Supervisor {
	return &Supervisor{
		Paths:  paths,
		Stdout: os.Stdout,
		lock:   wslock.New(paths.GatewayLockPath()),
	}
}

func (s *Supervisor) startupTimeout() time.Duration {
	if s.StartupTimeout > 0 {
		return s.StartupTimeout
	}
	return defaultStartupTimeout
}

func (s *Supervisor) probeTimeout() time.Duration {
	if s.ProbeTimeout > 0 {
		return s.ProbeTimeout
	}
	return defaultProbeTimeout
}

func (s *Supervisor) graceDuration() time.Duration {
	if s.GraceDuration > 0 {
		return s.GraceDuration
	}
	return defaultGraceDuration
}

func (s *Supervisor) workLock() *wslock.Lock {
	if s.LockTimeout > 0 {
		return s.lock.WithTimeout(s.LockTimeout)
	}
	return s.lock
}

func (s *Supervisor) stdout() io.Writer {
	if s.Stdout != nil {
		return s.Stdout
	}
	return os.Stdout
}

// EnsureRunning returns a record describing a reachable gateway for
// this workspace, starting or adopting one as needed. The second return
// value reports whether a new daemon was spawned (false for an already
// running or adopted gateway).
func (s *Supervisor) EnsureRunning(ctx context.Context, in Settings) (*gatewayrecord.Record, bool, error) {
	if in.StateDBPath != "" && s.Paths.IsUnderLegacyDir(in.StateDBPath) {
		return nil, false, ErrInvalidStateDbPath
	}

	var rec *gatewayrecord.Record
	var spawned bool

	err := s.workLock().WithLock(ctx, func(ctx context.Context) error {
		if _, err := migrate.Run(s.legacyPaths(), s.stdout()); err != nil {
			return fmt.Errorf("gwsupervisor: migrate: %w", err)
		}

		recordPath := s.Paths.GatewayRecordPath()
		existing, err := gatewayrecord.Read(recordPath)
		if err != nil {
			return fmt.Errorf("gwsupervisor: read record: %w", err)
		}

		if existing != nil && isAlive(existing.PID) {
			addr := net.JoinHostPort(existing.Host, strconv.Itoa(existing.Port))
			token := ""
			if existing.AuthToken != nil {
				token = *existing.AuthToken
			}
			if probe := streamtransport.DialProbe(ctx, addr, token, s.probeTimeout()); probe.Connected {
				rec = existing
				return nil
			}
		}

		host := resolveHost(in, existing)
		port, err := resolvePort(in, existing)
		if err != nil {
			return fmt.Errorf("gwsupervisor: resolve port: %w", err)
		}
		token := resolveToken(in, existing)
		if !isLoopbackAddr(host) && token == "" {
			return ErrNonLoopbackRequiresToken
		}

		// A reachable daemon with a missing or stale record is adopted:
		// its own gateway.info answer tells us its real PID and state
		// DB path so we can rebuild the record without guessing.
		addr := net.JoinHostPort(host, strconv.Itoa(port))
		if info, ok := fetchGatewayInfo(ctx, addr, token, s.probeTimeout()); ok {
			adopted := &gatewayrecord.Record{
				PID:           info.PID,
				Host:          host,
				Port:          port,
				AuthToken:     tokenPtr(token),
				StateDBPath:   info.StateDBPath,
				StartedAt:     info.startedAtTime(),
				WorkspaceRoot: s.Paths.WorkspaceRoot,
			}
			if werr := gatewayrecord.Write(recordPath, adopted); werr != nil {
				return fmt.Errorf("gwsupervisor: write adopted record: %w", werr)
			}
			rec = adopted
			return nil
		}

		spawnedRec, err := s.spawn(ctx, host, port, token, in)
		if err != nil {
			return err
		}
		if werr := gatewayrecord.Write(recordPath, spawnedRec); werr != nil {
			return fmt.Errorf("gwsupervisor: write record: %w", werr)
		}
		rec = spawnedRec
		spawned = true
		if s.Paths.SessionName == "" {
			_ = s.writePointer(spawnedRec)
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return rec, spawned, nil
}

// Stop terminates this workspace's gateway and reaps any orphaned
// descendants. force also SIGKILLs the daemon itself if it survives the
// grace period.
//
// A missing record is always ErrNotRunning, with or without force: even
// when --force was passed and the orphan reap did real work, this stays
// exit-1 rather than letting force paper over "there was nothing
// recorded to stop".
func (s *Supervisor) Stop(ctx context.Context, force bool) (stopped bool, message string, err error) {
	err = s.workLock().WithLock(ctx, func(ctx context.Context) error {
		recordPath := s.Paths.GatewayRecordPath()
		rec, rerr := gatewayrecord.Read(recordPath)
		if rerr != nil {
			return fmt.Errorf("gwsupervisor: read record: %w", rerr)
		}

		if rec == nil {
			report := s.reap(ctx)
			message = "gateway not running (no record)"
			if reportHasWork(report) {
				message += "\norphan gateway daemon cleanup: " + reportLine(report)
			}
			return ErrNotRunning
		}

		if isAlive(rec.PID) {
			proc, ferr := os.FindProcess(rec.PID)
			if ferr == nil {
				_ = proc.Signal(syscall.SIGTERM)
				exited := waitExit(rec.PID, s.graceDuration())
				if !exited && force {
					_ = proc.Signal(syscall.SIGKILL)
				}
			}
		}

		report := s.reap(ctx)
		if rerr := gatewayrecord.Remove(recordPath); rerr != nil {
			return fmt.Errorf("gwsupervisor: remove record: %w", rerr)
		}
		if s.Paths.SessionName == "" {
			s.clearPointerIfMatches(rec)
		}

		stopped = true
		message = "gateway stopped"
		if reportHasWork(report) {
			message += "; reaped " + reportLine(report)
		}
		return nil
	})
	if errors.Is(err, ErrNotRunning) {
		return false, message, ErrNotRunning
	}
	if err != nil {
		return false, "", err
	}
	return stopped, message, nil
}

// Probe reports whether a gateway answers at host:port without taking
// the workspace lock — used by `gateway status`.
func (s *Supervisor) Probe(ctx context.Context, host string, port int, token string) streamtransport.ProbeResult {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	return streamtransport.DialProbe(ctx, addr, token, s.probeTimeout())
}

func (s *Supervisor) legacyPaths() migrate.Paths {
	legacyDir := s.Paths.WorkspaceRoot + "/.harness"
	return migrate.Paths{
		LegacyDir:           legacyDir,
		LegacyGatewayRecord: legacyDir + "/gateway.json",
		LegacyGatewayLog:    legacyDir + "/gateway.log",
		LegacyConfigFile:    legacyDir + "/harness.config.jsonc",
		LegacySecretsFile:   legacyDir + "/secrets.env",

		GatewayRecord: s.Paths.GatewayRecordPath(),
		GatewayLog:    s.Paths.GatewayLogPath(),
		ConfigFile:    s.Paths.ConfigFilePath(),
		SecretsFile:   s.Paths.SecretsFilePath(),
	}
}

func (s *Supervisor) reap(ctx context.Context) reaper.Report {
	daemonScript, err := daemonScriptPath()
	if err != nil {
		daemonScript = ""
	}
	target := reaper.Target{
		StateDBPath:     s.Paths.StateDBPath(),
		DaemonScript:    daemonScript,
		WorkspaceRoot:   s.Paths.WorkspaceRoot,
		PTYHelperPrefix: s.Paths.WorkspaceRoot,
		GraceDuration:   s.graceDuration(),
	}
	return reaper.Reap(ctx, target)
}

func (s *Supervisor) writePointer(rec *gatewayrecord.Record) error {
	p := &gwpointer.Pointer{
		WorkspaceRoot:        s.Paths.WorkspaceRoot,
		WorkspaceRuntimeRoot: s.Paths.WorkspaceRuntimeRoot(),
		GatewayRecordPath:    s.Paths.GatewayRecordPath(),
		GatewayLogPath:       s.Paths.GatewayLogPath(),
		StateDBPath:          rec.StateDBPath,
		PID:                  rec.PID,
		StartedAt:            rec.StartedAt,
		UpdatedAt:            rec.StartedAt,
	}
	return gwpointer.Write(s.Paths.PointerPath(), p)
}

func (s *Supervisor) clearPointerIfMatches(rec *gatewayrecord.Record) {
	ptr, err := gwpointer.Read(s.Paths.PointerPath())
	if err != nil || ptr == nil {
		return
	}
	if ptr.GatewayRecordPath == s.Paths.GatewayRecordPath() && ptr.PID == rec.PID {
		_ = gwpointer.Remove(s.Paths.PointerPath())
	}
}

func isAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

func waitExit(pid int, grace time.Duration) bool {
	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		if !isAlive(pid) {
			return true
		}
		time.Sleep(50 * time.Millisecond)
	}
	return !isAlive(pid)
}

type gatewayInfo struct {
	pid         int
	stateDBPath string
	startedAt   string
}

func (g gatewayInfo) startedAtTime() time.Time {
	if t, err := time.Parse(time.RFC3339Nano, g.startedAt); err == nil {
		return t.UTC()
	}
	return time.Now().UTC()
}

func fetchGatewayInfo(ctx context.Context, addr, token string, timeout time.Duration) (gatewayInfo, bool) {
	dctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	c, err := streamtransport.Dial(dctx, addr, token)
	if err != nil {
		return gatewayInfo{}, false
	}
	defer c.Close()

	cctx, cancel2 := context.WithTimeout(ctx, timeout)
	defer cancel2()
	raw, err := c.SendCommand(cctx, streamproto.CommandGatewayInfo, nil)
	if err != nil {
		return gatewayInfo{}, false
	}
	var result streamproto.GatewayInfoResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return gatewayInfo{}, false
	}
	return gatewayInfo{pid: result.PID, stateDBPath: result.StateDBPath, startedAt: result.StartedAt}, true
}

func reportLine(r reaper.Report) string {
	return fmt.Sprintf(
		"daemon=%d/%d state-db=%d/%d pty-helper=%d/%d daemon-argv=%d/%d",
		r.Daemon.Killed, r.Daemon.Matched,
		r.StateDB.Killed, r.StateDB.Matched,
		r.PTYHelper.Killed, r.PTYHelper.Matched,
		r.DaemonArgv.Killed, r.DaemonArgv.Matched,
	)
}

func reportHasWork(r reaper.Report) bool {
	return r.Daemon.Matched > 0 || r.StateDB.Matched > 0 || r.PTYHelper.Matched > 0 || r.DaemonArgv.Matched > 0
}
