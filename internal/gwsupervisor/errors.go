package gwsupervisor

import "errors"

var (
	// ErrNotRunning is returned by Stop whenever no record exists, with
	// or without force.
	ErrNotRunning = errors.New("gwsupervisor: gateway not running")

	// ErrStartupFailed is returned when the daemon child could not be
	// spawned at all.
	ErrStartupFailed = errors.New("gwsupervisor: gateway startup failed")

	// ErrStartupTimeout is returned when the daemon was spawned but
	// never produced a reachable record within startupTimeout.
	ErrStartupTimeout = errors.New("gwsupervisor: gateway startup timed out")

	// ErrInvalidStateDbPath is returned when an explicit
	// --state-db-path points inside the workspace's legacy .harness/
	// directory.
	ErrInvalidStateDbPath = errors.New("gwsupervisor: state db path may not be under workspace .harness directory")

	// ErrNonLoopbackRequiresToken is returned when resolving a bind host
	// outside loopback with no auth token configured.
	ErrNonLoopbackRequiresToken = errors.New("gwsupervisor: binding a non-loopback host requires an auth token")
)
