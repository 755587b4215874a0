// Package gateway implements the stream transport's command dispatcher,
// wiring the session store, PTY engine, scheduler, and rail builder
// behind it. Daemon supervision from the CLI side lives in gwsupervisor.
package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/relaypane/harness/internal/control"
	"github.com/relaypane/harness/internal/ptyengine"
	"github.com/relaypane/harness/internal/railview"
	"github.com/relaypane/harness/internal/scheduler"
	"github.com/relaypane/harness/internal/sessionstore"
	"github.com/relaypane/harness/internal/streamproto"
	"github.com/relaypane/harness/internal/streamtransport"
)

// Dispatcher implements streamtransport.Dispatcher against a gateway's
// session store, PTY engine, and schedulers. Every mutation is funneled
// through here so it can emit the envelopes that keep clients in sync.
type Dispatcher struct {
	Store     *sessionstore.Store
	Engine    *ptyengine.Engine
	Activator *scheduler.Activator
	Resize    *scheduler.ResizeCoalescer
	Server    *streamtransport.Server

	// PID, StateDBPath, and StartedAt answer gateway.info, consumed by
	// the supervisor's adoption path to learn a reachable daemon's
	// identity when its record file is missing or stale.
	PID         int
	StateDBPath string
	StartedAt   time.Time

	// ProfileStatePath is where this gateway's own CPU profile control
	// file lives, set by gatewaydaemon.Run from the workspace's paths.
	ProfileStatePath string

	mu            sync.Mutex
	attachedConns map[attachKey]*ptyengine.Subscriber

	profileMu      sync.Mutex
	profile        *control.ProfileSession
	profileConv    string
	profileTarget  string
}

type attachKey struct {
	conn      *streamtransport.Conn
	sessionID string
}

func NewDispatcher(store *sessionstore.Store, engine *ptyengine.Engine, srv *streamtransport.Server) *Dispatcher {
	d := &Dispatcher{Store: store, Engine: engine, Server: srv, attachedConns: make(map[attachKey]*ptyengine.Subscriber)}
	d.Resize = scheduler.NewResizeCoalescer(func(sessionID string, cols, rows int) {
		engine.Resize(sessionID, cols, rows)
	})
	d.Activator = scheduler.NewActivator(
		func(ctx context.Context, id string) error {
			if engine.IsLive(id) {
				return nil
			}
			return scheduler.ErrSessionNotFound
		},
		func(id string) {},
	)
	return d
}

// Handle implements streamtransport.Dispatcher.
func (d *Dispatcher) Handle(ctx context.Context, conn *streamtransport.Conn, cmd streamproto.Command) (any, error) {
	switch cmd.Type {
	case streamproto.CommandSessionList:
		return d.handleSessionList(cmd)
	case streamproto.CommandDirectoryUpsert:
		return d.handleDirectoryUpsert(cmd)
	case streamproto.CommandConversationCreate:
		return d.handleConversationCreate(cmd)
	case streamproto.CommandConversationArchive:
		return d.handleConversationArchive(cmd)
	case streamproto.CommandConversationRename:
		return d.handleConversationRename(cmd)
	case streamproto.CommandPTYStart:
		return d.handlePTYStart(cmd)
	case streamproto.CommandPTYAttach:
		return d.handlePTYAttach(conn, cmd)
	case streamproto.CommandPTYDetach:
		return d.handlePTYDetach(conn, cmd)
	case streamproto.CommandPTYResize:
		return d.handlePTYResize(cmd)
	case streamproto.CommandPTYWrite:
		return d.handlePTYWrite(cmd)
	case streamproto.CommandSessionRespond:
		return d.handleSessionRespond(cmd)
	case streamproto.CommandGithubPRCreate:
		return d.handleGithubPRCreate(cmd)
	case streamproto.CommandGatewayInfo:
		return streamproto.GatewayInfoResult{PID: d.PID, StateDBPath: d.StateDBPath, StartedAt: d.StartedAt.UTC().Format(time.RFC3339Nano)}, nil
	case streamproto.CommandRailList:
		return d.handleRailList(cmd)
	case streamproto.CommandUIStateSave:
		return d.handleUIStateSave(cmd)
	case streamproto.CommandUIStateGet:
		return d.handleUIStateGet(cmd)
	case streamproto.CommandProfileStart:
		return d.handleProfileStart(cmd)
	case streamproto.CommandProfileStop:
		return d.handleProfileStop(cmd)
	default:
		return nil, streamproto.NewCommandError(streamproto.ErrKindInvalidInput, fmt.Sprintf("unknown command type: %s", cmd.Type))
	}
}

func decodeParams[T any](raw []byte) (T, error) {
	var v T
	if len(raw) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		var zero T
		return zero, streamproto.NewCommandError(streamproto.ErrKindInvalidInput, "invalid params: "+err.Error())
	}
	return v, nil
}

func (d *Dispatcher) handleSessionList(cmd streamproto.Command) (any, error) {
	params, err := decodeParams[streamproto.SessionListParams](cmd.Params)
	if err != nil {
		return nil, err
	}
	convs, err := d.Store.ListConversations()
	if err != nil {
		return nil, streamproto.NewCommandError(streamproto.ErrKindInternal, err.Error())
	}
	if params.Limit > 0 && len(convs) > params.Limit {
		convs = convs[:params.Limit]
	}
	return map[string]any{"sessions": convs}, nil
}

func (d *Dispatcher) handleDirectoryUpsert(cmd streamproto.Command) (any, error) {
	params, err := decodeParams[streamproto.DirectoryUpsertParams](cmd.Params)
	if err != nil {
		return nil, err
	}
	if params.Path == "" {
		return nil, streamproto.NewCommandError(streamproto.ErrKindInvalidInput, "path is required")
	}
	dir := &sessionstore.Directory{ID: uuid.NewString(), Path: params.Path}
	if err := d.Store.UpsertDirectory(dir); err != nil {
		return nil, streamproto.NewCommandError(streamproto.ErrKindInternal, err.Error())
	}
	d.Server.Broadcast(streamproto.EnvelopeRailInvalidated, streamproto.RailInvalidatedData{Epoch: 1})
	return dir, nil
}

func (d *Dispatcher) handleConversationCreate(cmd streamproto.Command) (any, error) {
	params, err := decodeParams[streamproto.ConversationCreateParams](cmd.Params)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	conv := &sessionstore.Conversation{
		ID:          uuid.NewString(),
		DirectoryID: params.DirectoryID,
		Title:       params.Title,
		AgentType:   params.AgentType,
		Status:      sessionstore.StatusStarting,
		StartedAt:   now,
		LastEventAt: now,
	}
	if err := d.Store.CreateConversation(conv); err != nil {
		return nil, streamproto.NewCommandError(streamproto.ErrKindInvalidInput, err.Error())
	}
	d.Server.Broadcast(streamproto.EnvelopeRailInvalidated, streamproto.RailInvalidatedData{Epoch: 1})
	return conv, nil
}

func (d *Dispatcher) handleConversationArchive(cmd streamproto.Command) (any, error) {
	params, err := decodeParams[streamproto.ConversationArchiveParams](cmd.Params)
	if err != nil {
		return nil, err
	}
	if err := d.Store.Archive(params.SessionID); err != nil {
		return nil, streamproto.NewCommandError(streamproto.ErrKindInternal, err.Error())
	}
	d.Engine.Remove(params.SessionID)
	d.Server.Broadcast(streamproto.EnvelopeRailInvalidated, streamproto.RailInvalidatedData{Epoch: 1})
	return map[string]bool{"ok": true}, nil
}

func (d *Dispatcher) handleConversationRename(cmd streamproto.Command) (any, error) {
	params, err := decodeParams[streamproto.ConversationRenameParams](cmd.Params)
	if err != nil {
		return nil, err
	}
	if params.SessionID == "" || params.Title == "" {
		return nil, streamproto.NewCommandError(streamproto.ErrKindInvalidInput, "sessionId and title are required")
	}
	if err := d.Store.SetTitle(params.SessionID, params.Title); err != nil {
		return nil, streamproto.NewCommandError(streamproto.ErrKindInternal, err.Error())
	}
	d.Server.Broadcast(streamproto.EnvelopeConversationTitle, streamproto.ConversationTitleData{
		SessionID: params.SessionID,
		Title:     params.Title,
	})
	d.Server.Broadcast(streamproto.EnvelopeRailInvalidated, streamproto.RailInvalidatedData{Epoch: 1})
	return map[string]bool{"ok": true}, nil
}

func (d *Dispatcher) handlePTYStart(cmd streamproto.Command) (any, error) {
	params, err := decodeParams[streamproto.PTYStartParams](cmd.Params)
	if err != nil {
		return nil, err
	}
	sessionID := params.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	cols, rows := params.InitialCols, params.InitialRows
	if cols <= 0 {
		cols = 80
	}
	if rows <= 0 {
		rows = 24
	}
	if startErr := d.Engine.Start(sessionID, params.CWD, params.Args, cols, rows); startErr != nil {
		if startErr == ptyengine.ErrAlreadyLive {
			return nil, streamproto.NewCommandError(streamproto.ErrKindAlreadyLive, startErr.Error())
		}
		return nil, streamproto.NewCommandError(streamproto.ErrKindStartupFailed, startErr.Error())
	}
	d.markConversationStatus(sessionID, sessionstore.StatusRunning)
	return map[string]string{"sessionId": sessionID}, nil
}

// markConversationStatus updates a conversation's status and broadcasts
// the change, logging rather than failing the caller if the row isn't
// there (a PTY session started with an engine-only id has no backing
// conversation row to update).
func (d *Dispatcher) markConversationStatus(sessionID, status string) {
	if err := d.Store.SetStatus(sessionID, status, time.Now().UTC(), nil); err != nil {
		log.Printf("gateway: set status %s for %s: %v", status, sessionID, err)
		return
	}
	d.Server.Broadcast(streamproto.EnvelopeConversationStatus, streamproto.ConversationStatusData{
		SessionID: sessionID,
		Status:    status,
	})
}

func (d *Dispatcher) handlePTYAttach(conn *streamtransport.Conn, cmd streamproto.Command) (any, error) {
	params, err := decodeParams[streamproto.PTYAttachParams](cmd.Params)
	if err != nil {
		return nil, err
	}
	if params.SessionID == "" {
		return nil, streamproto.NewCommandError(streamproto.ErrKindInvalidInput, "sessionId is required")
	}
	sub, subErr := d.Engine.Subscribe(params.SessionID, params.FromSeq)
	if subErr != nil {
		return nil, streamproto.NewCommandError(streamproto.ErrKindSessionNotFound, subErr.Error())
	}

	key := attachKey{conn: conn, sessionID: params.SessionID}
	d.mu.Lock()
	d.attachedConns[key] = sub
	d.mu.Unlock()

	go d.forwardOutput(conn, sub)
	return map[string]bool{"attached": true}, nil
}

func (d *Dispatcher) forwardOutput(conn *streamtransport.Conn, sub *ptyengine.Subscriber) {
	for env := range sub.Chan() {
		switch env.Kind {
		case ptyengine.EnvelopeOutput:
			conn.SendEnvelope(streamproto.EnvelopePTYOutput, streamproto.PTYOutputData{
				SessionID: env.SessionID,
				DataB64:   base64.StdEncoding.EncodeToString(env.Data),
				Seq:       env.Seq,
			})
		case ptyengine.EnvelopeExit:
			conn.SendEnvelope(streamproto.EnvelopePTYExit, streamproto.PTYExitData{
				SessionID:  env.SessionID,
				ExitStatus: env.ExitStatus,
				ExitSignal: env.ExitSignal,
			})
			d.markConversationStatus(env.SessionID, sessionstore.StatusExited)
		}
	}
}

func (d *Dispatcher) handlePTYDetach(conn *streamtransport.Conn, cmd streamproto.Command) (any, error) {
	params, err := decodeParams[streamproto.PTYAttachParams](cmd.Params)
	if err != nil {
		return nil, err
	}
	key := attachKey{conn: conn, sessionID: params.SessionID}
	d.mu.Lock()
	sub, ok := d.attachedConns[key]
	delete(d.attachedConns, key)
	d.mu.Unlock()
	if ok {
		d.Engine.Detach(sub)
	}
	return map[string]bool{"detached": true}, nil
}

func (d *Dispatcher) handlePTYResize(cmd streamproto.Command) (any, error) {
	params, err := decodeParams[streamproto.PTYResizeParams](cmd.Params)
	if err != nil {
		return nil, err
	}
	if params.SessionID == "" {
		return nil, streamproto.NewCommandError(streamproto.ErrKindInvalidInput, "sessionId is required")
	}
	isActiveLive := d.Activator.ActiveID() == params.SessionID && d.Engine.IsLive(params.SessionID)
	d.Resize.Desired(params.SessionID, params.Cols, params.Rows, params.Immediate, isActiveLive)
	return map[string]bool{"ok": true}, nil
}

func (d *Dispatcher) handlePTYWrite(cmd streamproto.Command) (any, error) {
	params, err := decodeParams[streamproto.PTYWriteParams](cmd.Params)
	if err != nil {
		return nil, err
	}
	if params.SessionID == "" {
		return nil, streamproto.NewCommandError(streamproto.ErrKindInvalidInput, "sessionId is required")
	}
	data := []byte(params.TextOrBase64)
	if params.Base64 {
		decoded, decErr := base64.StdEncoding.DecodeString(params.TextOrBase64)
		if decErr != nil {
			return nil, streamproto.NewCommandError(streamproto.ErrKindInvalidInput, "invalid base64 payload")
		}
		data = decoded
	}
	if werr := d.Engine.Write(params.SessionID, data); werr != nil {
		if werr == ptyengine.ErrBackpressure {
			return nil, streamproto.NewCommandError(streamproto.ErrKindBackpressure, werr.Error())
		}
		return nil, streamproto.NewCommandError(streamproto.ErrKindSessionNotFound, werr.Error())
	}
	return map[string]bool{"ok": true}, nil
}

func (d *Dispatcher) handleSessionRespond(cmd streamproto.Command) (any, error) {
	params, err := decodeParams[streamproto.SessionRespondParams](cmd.Params)
	if err != nil {
		return nil, err
	}
	if werr := d.Engine.Write(params.SessionID, []byte(params.Text+"\n")); werr != nil {
		if werr == ptyengine.ErrBackpressure {
			return nil, streamproto.NewCommandError(streamproto.ErrKindBackpressure, werr.Error())
		}
		return nil, streamproto.NewCommandError(streamproto.ErrKindSessionNotFound, werr.Error())
	}
	return map[string]bool{"ok": true}, nil
}

// handleRailList builds the sidebar row model fresh on every call;
// railview.Build is cheap and pure, so there is nothing to cache.
func (d *Dispatcher) handleRailList(cmd streamproto.Command) (any, error) {
	params, err := decodeParams[streamproto.RailListParams](cmd.Params)
	if err != nil {
		return nil, err
	}

	dirs, derr := d.Store.ListDirectories()
	if derr != nil {
		return nil, streamproto.NewCommandError(streamproto.ErrKindInternal, derr.Error())
	}
	convs, cerr := d.Store.ListConversations()
	if cerr != nil {
		return nil, streamproto.NewCommandError(streamproto.ErrKindInternal, cerr.Error())
	}

	repoIDs := make(map[string]bool)
	for _, dir := range dirs {
		if dir.RepositoryID != nil {
			repoIDs[*dir.RepositoryID] = true
		}
	}
	var repos []*sessionstore.Repository
	for id := range repoIDs {
		repo, rerr := d.Store.GetRepository(id)
		if rerr != nil {
			return nil, streamproto.NewCommandError(streamproto.ErrKindInternal, rerr.Error())
		}
		if repo != nil {
			repos = append(repos, repo)
		}
	}

	collapsed := make(map[string]bool, len(params.CollapsedDirectories))
	for _, id := range params.CollapsedDirectories {
		collapsed[id] = true
	}

	rows := railview.Build(repos, dirs, convs,
		nil,
		railview.ActiveIDs{ConversationID: params.ActiveConversationID, DirectoryKey: params.ActiveDirectoryKey},
		railview.UIFlags{CollapsedDirectories: collapsed, ShowShortcuts: params.ShowShortcuts},
	)
	return map[string]any{"rows": rows}, nil
}

func (d *Dispatcher) handleUIStateSave(cmd streamproto.Command) (any, error) {
	params, err := decodeParams[streamproto.UIStateSaveParams](cmd.Params)
	if err != nil {
		return nil, err
	}
	if params.SessionID == "" {
		return nil, streamproto.NewCommandError(streamproto.ErrKindInvalidInput, "sessionId is required")
	}
	u := &sessionstore.UIState{
		SessionID:     params.SessionID,
		ActivePane:    params.ActivePane,
		DividersJSON:  params.DividersJSON,
		CollapsedJSON: params.CollapsedJSON,
	}
	if serr := d.Store.SaveUIState(u); serr != nil {
		return nil, streamproto.NewCommandError(streamproto.ErrKindInternal, serr.Error())
	}
	return map[string]bool{"ok": true}, nil
}

func (d *Dispatcher) handleUIStateGet(cmd streamproto.Command) (any, error) {
	params, err := decodeParams[streamproto.UIStateGetParams](cmd.Params)
	if err != nil {
		return nil, err
	}
	u, gerr := d.Store.GetUIState(params.SessionID)
	if gerr != nil {
		return nil, streamproto.NewCommandError(streamproto.ErrKindInternal, gerr.Error())
	}
	if u == nil {
		return map[string]any{"state": nil}, nil
	}
	return map[string]any{"state": u}, nil
}

// handleProfileStart begins an actual runtime/pprof CPU profile of this
// gateway process and writes the profile control file through
// control.StartProfile. `harness profile start` only relays the command
// here; it writes no control file of its own.
func (d *Dispatcher) handleProfileStart(cmd streamproto.Command) (any, error) {
	params, err := decodeParams[streamproto.ProfileStartParams](cmd.Params)
	if err != nil {
		return nil, err
	}
	if params.ConversationID == "" || params.TargetPath == "" {
		return nil, streamproto.NewCommandError(streamproto.ErrKindInvalidInput, "conversationId and targetPath are required")
	}
	if d.ProfileStatePath == "" {
		return nil, streamproto.NewCommandError(streamproto.ErrKindInternal, "gateway has no profile state path configured")
	}

	d.profileMu.Lock()
	defer d.profileMu.Unlock()
	if d.profile != nil {
		return nil, streamproto.NewCommandError(streamproto.ErrKindAlreadyLive, "profile already running")
	}
	sess, perr := control.StartProfile(d.ProfileStatePath, params.ConversationID, params.TargetPath)
	if perr != nil {
		return nil, streamproto.NewCommandError(streamproto.ErrKindInternal, perr.Error())
	}
	d.profile = sess
	d.profileConv = params.ConversationID
	d.profileTarget = params.TargetPath
	return streamproto.ProfileStartResult{
		ConversationID: params.ConversationID,
		TargetPath:     params.TargetPath,
		StartedAt:      time.Now().UTC().Format(time.RFC3339Nano),
	}, nil
}

func (d *Dispatcher) handleProfileStop(cmd streamproto.Command) (any, error) {
	d.profileMu.Lock()
	defer d.profileMu.Unlock()
	if d.profile == nil {
		return nil, streamproto.NewCommandError(streamproto.ErrKindNotFound, "no profile running")
	}
	if err := d.profile.Stop(); err != nil {
		return nil, streamproto.NewCommandError(streamproto.ErrKindInternal, err.Error())
	}
	res := streamproto.ProfileStopResult{ConversationID: d.profileConv, TargetPath: d.profileTarget}
	d.profile, d.profileConv, d.profileTarget = nil, "", ""
	return res, nil
}

func (d *Dispatcher) handleGithubPRCreate(cmd streamproto.Command) (any, error) {
	params, err := decodeParams[streamproto.GithubPRCreateParams](cmd.Params)
	if err != nil {
		return nil, err
	}
	dir, gerr := d.Store.GetDirectory(params.DirectoryID)
	if gerr != nil {
		return nil, streamproto.NewCommandError(streamproto.ErrKindInternal, gerr.Error())
	}
	if dir == nil {
		return nil, streamproto.NewCommandError(streamproto.ErrKindNotFound, "directory not found: "+params.DirectoryID)
	}
	return nil, streamproto.NewCommandError(streamproto.ErrKindInvalidInput, "github integration not configured for directory: "+params.DirectoryID)
}
