// Package reaper discovers and terminates leftover daemon, database
// client, and PTY helper processes left behind by a workspace whose
// CLI has already exited. It never terminates the calling process.
//
// Process enumeration walks /proc directly on Linux and falls back to
// ps elsewhere. Termination is signal-then-grace-then-kill, generalized
// from a single known PID to a scan over every process on the host.
package reaper

import (
	"context"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// DefaultGraceDuration is the default grace period between SIGTERM and SIGKILL.
const DefaultGraceDuration = 4 * time.Second

// Category names a class of orphaned process.
type Category string

const (
	CategoryDaemon     Category = "daemon"
	CategoryStateDB    Category = "state-db-client"
	CategoryPTYHelper  Category = "pty-helper"
	CategoryDaemonArgv Category = "daemon-script"
)

// Target describes what the reaper should look for.
type Target struct {
	StateDBPath     string // (a) daemon invoked with --state-db-path <db>; (c) a SQL client holding this as an argument
	DaemonScript    string // (b) this path anywhere in the command line
	WorkspaceRoot   string // required for (a) and (b); (b) also needs it in the command line
	PTYHelperPrefix string // (d) argv0 under <workspace>/
	GraceDuration   time.Duration
}

// CategoryReport is the scanned/matched/killed counts for one category.
type CategoryReport struct {
	Scanned int
	Matched int
	Killed  int
	Errors  []error
}

// Report is the full result of one Reap call.
type Report struct {
	Daemon     CategoryReport
	StateDB    CategoryReport
	PTYHelper  CategoryReport
	DaemonArgv CategoryReport
}

// process is one row of the scanned process table.
type process struct {
	pid     int
	cmdline []string
}

// Reap scans the process table and terminates every process matching
// any of Target's categories, skipping the caller's own PID. Errors
// terminating an individual process are recorded per-category but do
// not abort the reap.
func Reap(ctx context.Context, t Target) Report {
	if t.GraceDuration <= 0 {
		t.GraceDuration = DefaultGraceDuration
	}
	self := os.Getpid()
	procs := scanProcesses()

	var report Report
	for _, p := range procs {
		if p.pid == self {
			continue
		}
		line := strings.Join(p.cmdline, " ")

		report.Daemon.Scanned++
		report.StateDB.Scanned++
		report.PTYHelper.Scanned++
		report.DaemonArgv.Scanned++

		if t.StateDBPath != "" && t.WorkspaceRoot != "" &&
			containsFlagValue(p.cmdline, "--state-db-path", t.StateDBPath) &&
			isDaemonInvocation(line) {
			report.Daemon.Matched++
			if err := terminateGroup(ctx, p.pid, t.GraceDuration); err != nil {
				report.Daemon.Errors = append(report.Daemon.Errors, err)
			} else {
				report.Daemon.Killed++
			}
			continue
		}

		if t.DaemonScript != "" && strings.Contains(line, t.DaemonScript) &&
			t.WorkspaceRoot != "" && strings.Contains(line, t.WorkspaceRoot) {
			report.DaemonArgv.Matched++
			if err := terminateGroup(ctx, p.pid, t.GraceDuration); err != nil {
				report.DaemonArgv.Errors = append(report.DaemonArgv.Errors, err)
			} else {
				report.DaemonArgv.Killed++
			}
			continue
		}

		if t.StateDBPath != "" && containsArg(p.cmdline, t.StateDBPath) && isSQLClient(p.cmdline) {
			report.StateDB.Matched++
			if err := terminate(ctx, p.pid, t.GraceDuration); err != nil {
				report.StateDB.Errors = append(report.StateDB.Errors, err)
			} else {
				report.StateDB.Killed++
			}
			continue
		}

		if t.PTYHelperPrefix != "" && len(p.cmdline) > 0 && strings.HasPrefix(p.cmdline[0], t.PTYHelperPrefix) {
			report.PTYHelper.Matched++
			if err := terminate(ctx, p.pid, t.GraceDuration); err != nil {
				report.PTYHelper.Errors = append(report.PTYHelper.Errors, err)
			} else {
				report.PTYHelper.Killed++
			}
		}
	}
	return report
}

func isDaemonInvocation(cmdline string) bool {
	return strings.Contains(cmdline, "--state-db-path")
}

func isSQLClient(argv []string) bool {
	if len(argv) == 0 {
		return false
	}
	base := argv[0]
	if i := strings.LastIndexByte(base, '/'); i >= 0 {
		base = base[i+1:]
	}
	switch base {
	case "sqlite3", "psql", "mysql":
		return true
	}
	return false
}

func containsArg(argv []string, value string) bool {
	for _, a := range argv {
		if a == value {
			return true
		}
	}
	return false
}

func containsFlagValue(argv []string, flag, value string) bool {
	for i, a := range argv {
		if a == flag && i+1 < len(argv) && argv[i+1] == value {
			return true
		}
		if a == flag+"="+value {
			return true
		}
	}
	return false
}

// terminateGroup signals the whole process group led by pid, not just
// pid itself. The daemon is always spawned with Setsid (gwsupervisor),
// making it its own group leader, so this takes its PTY children down
// with it instead of leaving them to the other categories' scans.
func terminateGroup(ctx context.Context, pid int, grace time.Duration) error {
	if err := unix.Kill(-pid, syscall.SIGTERM); err != nil {
		// Already gone, or never its own group leader — fall back to
		// signaling just the one process.
		return terminate(ctx, pid, grace)
	}

	deadline := time.NewTimer(grace)
	defer deadline.Stop()
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = unix.Kill(-pid, syscall.SIGKILL)
			return ctx.Err()
		case <-deadline.C:
			_ = unix.Kill(-pid, syscall.SIGKILL)
			return nil
		case <-ticker.C:
			if unix.Kill(-pid, syscall.Signal(0)) != nil {
				return nil // group is gone
			}
		}
	}
}

// terminate sends a graceful signal, waits up to grace for the process
// to exit, then force-kills.
func terminate(ctx context.Context, pid int, grace time.Duration) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		// Already gone — nothing to do.
		return nil
	}

	deadline := time.NewTimer(grace)
	defer deadline.Stop()
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = proc.Signal(syscall.SIGKILL)
			return ctx.Err()
		case <-deadline.C:
			_ = proc.Signal(syscall.SIGKILL)
			return nil
		case <-ticker.C:
			if proc.Signal(syscall.Signal(0)) != nil {
				return nil // exited
			}
		}
	}
}

func parseCmdlineNUL(data []byte) []string {
	parts := strings.Split(string(data), "\x00")
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parsePID(name string) (int, bool) {
	pid, err := strconv.Atoi(name)
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}
