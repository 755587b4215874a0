package control

import (
	"fmt"
	"os"
	"runtime/pprof"
)

const ModeProfile = "profile"
const ModeStatusTimeline = "status-timeline"
const ModeRenderTrace = "render-trace"

// ProfileSession pairs an open CPU profile destination with the state
// file tracking it, so Stop can both finalize the profile and clear
// the state.
type ProfileSession struct {
	statePath string
	file      *os.File
}

// StartProfile begins a CPU profile for conversationID, writing samples
// to cpuProfilePath, and records statePath so a later `profile stop`
// (even from a different CLI invocation) can find it.
func StartProfile(statePath, conversationID, cpuProfilePath string) (*ProfileSession, error) {
	if _, err := Start(statePath, ModeProfile, conversationID, cpuProfilePath); err != nil {
		return nil, err
	}
	f, err := os.Create(cpuProfilePath)
	if err != nil {
		os.Remove(statePath)
		return nil, fmt.Errorf("control: create cpu profile: %w", err)
	}
	if err := pprof.StartCPUProfile(f); err != nil {
		f.Close()
		os.Remove(statePath)
		return nil, fmt.Errorf("control: start cpu profile: %w", err)
	}
	return &ProfileSession{statePath: statePath, file: f}, nil
}

// Stop finalizes the CPU profile and removes the state file.
func (p *ProfileSession) Stop() error {
	pprof.StopCPUProfile()
	closeErr := p.file.Close()
	if _, err := Stop(p.statePath); err != nil {
		return err
	}
	return closeErr
}

// StopProfileByState removes the profile state file at statePath and
// returns the state it held. It does not stop a CPU profile running in
// another process; only (*ProfileSession).Stop in the process that
// started the profile finalizes the samples.
func StopProfileByState(statePath string) (*State, error) {
	return Stop(statePath)
}
