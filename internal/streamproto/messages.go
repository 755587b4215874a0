package streamproto

import "encoding/json"

// AuthFrame must be the first frame on a connection when the gateway
// was started with a non-empty token.
type AuthFrame struct {
	V     int    `json:"v"`
	Kind  Kind   `json:"kind"`
	Token string `json:"token"`
}

func NewAuthFrame(token string) AuthFrame {
	return AuthFrame{V: ProtocolVersion, Kind: KindAuth, Token: token}
}

// Command is a client-submitted request. Type selects one of the
// command vocabulary below; Params carries its type-specific payload.
type Command struct {
	V      int             `json:"v"`
	Kind   Kind            `json:"kind"`
	ID     string          `json:"id"`
	Type   CommandType     `json:"type"`
	Params json.RawMessage `json:"params,omitempty"`
}

func NewCommand(id string, typ CommandType, params any) (Command, error) {
	var raw json.RawMessage
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return Command{}, err
		}
		raw = data
	}
	return Command{V: ProtocolVersion, Kind: KindCommand, ID: id, Type: typ, Params: raw}, nil
}

// CommandType enumerates the command vocabulary the gateway handles.
type CommandType string

const (
	CommandAuth               CommandType = "auth"
	CommandSessionList        CommandType = "session.list"
	CommandDirectoryUpsert    CommandType = "directory.upsert"
	CommandConversationCreate CommandType = "conversation.create"
	CommandConversationArchive CommandType = "conversation.archive"
	CommandConversationRename  CommandType = "conversation.rename"
	CommandPTYStart           CommandType = "pty.start"
	CommandPTYAttach          CommandType = "pty.attach"
	CommandPTYDetach          CommandType = "pty.detach"
	CommandPTYResize          CommandType = "pty.resize"
	CommandPTYWrite           CommandType = "pty.write"
	CommandPTYTail            CommandType = "pty.tail"
	CommandSessionRespond     CommandType = "session.respond"
	CommandGithubPRCreate     CommandType = "github.pr-create"
	CommandGatewayInfo        CommandType = "gateway.info"
	CommandRailList           CommandType = "rail.list"
	CommandUIStateSave        CommandType = "ui.state.save"
	CommandUIStateGet         CommandType = "ui.state.get"

	// CommandProfileStart/CommandProfileStop run an actual CPU profile
	// inside the gateway process itself; `harness profile start`/`stop`
	// only relay these commands. A profile's samples are only meaningful
	// if start and stop bracket the same runtime, and the runtime doing
	// the work is the gateway's, not the short-lived CLI invocation's.
	CommandProfileStart CommandType = "profile.start"
	CommandProfileStop  CommandType = "profile.stop"
)

// Response answers a Command by echoing its ID and carrying either a
// Result or an Error, never both.
type Response struct {
	V      int             `json:"v"`
	Kind   Kind            `json:"kind"`
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *ErrorBody      `json:"error,omitempty"`
}

// ErrorBody is the shape of Response.Error.
type ErrorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func NewResultResponse(id string, result any) (Response, error) {
	data, err := json.Marshal(result)
	if err != nil {
		return Response{}, err
	}
	return Response{V: ProtocolVersion, Kind: KindResponse, ID: id, Result: data}, nil
}

func NewErrorResponse(id, kind, message string) Response {
	return Response{V: ProtocolVersion, Kind: KindResponse, ID: id, Error: &ErrorBody{Kind: kind, Message: message}}
}

// Envelope is an unsolicited, server-pushed event not tied to any one
// command's response.
type Envelope struct {
	V     int             `json:"v"`
	Kind  Kind            `json:"kind"`
	EKind EnvelopeKind    `json:"ekind"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// EnvelopeKind enumerates the envelope vocabulary the gateway emits.
type EnvelopeKind string

const (
	EnvelopePTYOutput          EnvelopeKind = "pty.output"
	EnvelopePTYExit            EnvelopeKind = "pty.exit"
	EnvelopeConversationStatus EnvelopeKind = "conversation.status"
	EnvelopeConversationTitle  EnvelopeKind = "conversation.title"
	EnvelopeRailInvalidated    EnvelopeKind = "rail.invalidated"
	EnvelopeGatewayShutdown    EnvelopeKind = "gateway.shutdown"
)

func NewEnvelope(kind EnvelopeKind, data any) (Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{V: ProtocolVersion, Kind: KindEnvelope, EKind: kind, Data: raw}, nil
}

// PTYOutputData is Envelope.Data for EnvelopePTYOutput.
type PTYOutputData struct {
	SessionID string `json:"sessionId"`
	DataB64   string `json:"data"`
	Seq       int64  `json:"seq"`
}

// PTYExitData is Envelope.Data for EnvelopePTYExit.
type PTYExitData struct {
	SessionID  string `json:"sessionId"`
	ExitStatus int    `json:"exitStatus"`
	ExitSignal string `json:"exitSignal,omitempty"`
}

// ConversationStatusData is Envelope.Data for EnvelopeConversationStatus.
type ConversationStatusData struct {
	SessionID string `json:"sessionId"`
	Status    string `json:"status"`
}

// ConversationTitleData is Envelope.Data for EnvelopeConversationTitle.
type ConversationTitleData struct {
	SessionID string `json:"sessionId"`
	Title     string `json:"title"`
}

// RailInvalidatedData is Envelope.Data for EnvelopeRailInvalidated.
type RailInvalidatedData struct {
	Epoch int64 `json:"epoch"`
}

// Command param shapes.

type PTYStartParams struct {
	// SessionID, when set, ties the PTY to an existing conversation row
	// (normally the id conversation.create just returned) instead of
	// minting an unrelated engine-only id.
	SessionID   string   `json:"sessionId,omitempty"`
	Args        []string `json:"args"`
	InitialCols int      `json:"initialCols"`
	InitialRows int      `json:"initialRows"`
	CWD         string   `json:"cwd"`
}

type PTYAttachParams struct {
	SessionID string `json:"sessionId"`
	FromSeq   *int64 `json:"fromSeq,omitempty"`
}

type PTYResizeParams struct {
	SessionID string `json:"sessionId"`
	Cols      int    `json:"cols"`
	Rows      int    `json:"rows"`
	Immediate bool   `json:"immediate,omitempty"`
}

type PTYWriteParams struct {
	SessionID    string `json:"sessionId"`
	TextOrBase64 string `json:"textOrBase64"`
	Base64       bool   `json:"base64,omitempty"`
}

type PTYTailParams struct {
	SessionID string `json:"sessionId"`
	FromSeq   int64  `json:"fromSeq"`
}

type SessionRespondParams struct {
	SessionID string `json:"sessionId"`
	Text      string `json:"text"`
}

type GithubPRCreateParams struct {
	DirectoryID string `json:"directoryId"`
}

type DirectoryUpsertParams struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

type ConversationCreateParams struct {
	DirectoryID *string `json:"directoryId,omitempty"`
	Title       string  `json:"title"`
	AgentType   string  `json:"agentType"`
}

type ConversationArchiveParams struct {
	SessionID string `json:"sessionId"`
}

type ConversationRenameParams struct {
	SessionID string `json:"sessionId"`
	Title     string `json:"title"`
}

type SessionListParams struct {
	Limit int `json:"limit,omitempty"`
}

// RailListParams carries the mux client's current view-only state so the
// gateway can build the sidebar rows with the right rows marked active
// and the right directories collapsed.
type RailListParams struct {
	ActiveConversationID string   `json:"activeConversationId,omitempty"`
	ActiveDirectoryKey   string   `json:"activeDirectoryKey,omitempty"`
	CollapsedDirectories []string `json:"collapsedDirectories,omitempty"`
	ShowShortcuts        bool     `json:"showShortcuts,omitempty"`
}

type UIStateSaveParams struct {
	SessionID     string  `json:"sessionId"`
	ActivePane    *string `json:"activePane,omitempty"`
	DividersJSON  string  `json:"dividersJson,omitempty"`
	CollapsedJSON string  `json:"collapsedJson,omitempty"`
}

type UIStateGetParams struct {
	SessionID string `json:"sessionId"`
}

// ProfileStartParams names the conversation being profiled and the
// path the gateway should write its CPU profile samples to.
type ProfileStartParams struct {
	ConversationID string `json:"conversationId"`
	TargetPath     string `json:"targetPath"`
}

type ProfileStartResult struct {
	ConversationID string `json:"conversationId"`
	TargetPath     string `json:"targetPath"`
	StartedAt      string `json:"startedAt"`
}

type ProfileStopResult struct {
	ConversationID string `json:"conversationId"`
	TargetPath     string `json:"targetPath"`
}

// GatewayInfoResult answers CommandGatewayInfo — used by the gateway
// supervisor's adoption path to learn a reachable daemon's real PID
// and state DB path when its record file is missing or stale.
type GatewayInfoResult struct {
	PID         int    `json:"pid"`
	StateDBPath string `json:"stateDbPath"`
	StartedAt   string `json:"startedAt"`
}
