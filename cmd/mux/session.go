package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/relaypane/harness/internal/streamproto"
	"github.com/relaypane/harness/internal/streamtransport"
)

type ensureSessionOpts struct {
	conversationID string
	directoryPath  string
	agentType      string
	title          string
	cmdline        string
	cols, rows     int
}

// ensureSession either attaches to an existing conversation's PTY or
// creates a new conversation and starts its PTY under the same id, so
// that "session id" means the same thing to the store and the engine.
// It returns the id to attach pty.output envelopes against, and
// whether it resumed a conversation already in flight.
func ensureSession(client *streamtransport.Client, opts ensureSessionOpts) (string, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if opts.conversationID != "" {
		if _, err := client.SendCommand(ctx, streamproto.CommandPTYAttach, streamproto.PTYAttachParams{SessionID: opts.conversationID}); err != nil {
			return "", false, fmt.Errorf("attach %s: %w", opts.conversationID, err)
		}
		return opts.conversationID, true, nil
	}

	var dirID *string
	if opts.directoryPath != "" {
		raw, err := client.SendCommand(ctx, streamproto.CommandDirectoryUpsert, streamproto.DirectoryUpsertParams{
			Name: opts.directoryPath,
			Path: opts.directoryPath,
		})
		if err != nil {
			return "", false, fmt.Errorf("register directory: %w", err)
		}
		var dir struct {
			ID string
		}
		if jerr := json.Unmarshal(raw, &dir); jerr != nil {
			return "", false, fmt.Errorf("decode directory: %w", jerr)
		}
		dirID = &dir.ID
	}

	title := opts.title
	if title == "" {
		title = opts.agentType
	}
	raw, err := client.SendCommand(ctx, streamproto.CommandConversationCreate, streamproto.ConversationCreateParams{
		DirectoryID: dirID,
		Title:       title,
		AgentType:   opts.agentType,
	})
	if err != nil {
		return "", false, fmt.Errorf("create conversation: %w", err)
	}
	var conv struct {
		ID string
	}
	if jerr := json.Unmarshal(raw, &conv); jerr != nil {
		return "", false, fmt.Errorf("decode conversation: %w", jerr)
	}

	cols, rows := opts.cols, opts.rows
	if cols <= 0 {
		cols = 80
	}
	if rows <= 0 {
		rows = 24
	}
	args := shellArgs(opts.cmdline)
	if _, err := client.SendCommand(ctx, streamproto.CommandPTYStart, streamproto.PTYStartParams{
		SessionID:   conv.ID,
		Args:        args,
		InitialCols: cols,
		InitialRows: rows,
		CWD:         opts.directoryPath,
	}); err != nil {
		return "", false, fmt.Errorf("start pty: %w", err)
	}
	if _, err := client.SendCommand(ctx, streamproto.CommandPTYAttach, streamproto.PTYAttachParams{SessionID: conv.ID}); err != nil {
		return "", false, fmt.Errorf("attach %s: %w", conv.ID, err)
	}
	return conv.ID, false, nil
}

func shellArgs(cmdline string) []string {
	if cmdline != "" {
		return []string{"/bin/sh", "-c", cmdline}
	}
	if shell := os.Getenv("SHELL"); shell != "" {
		return []string{shell}
	}
	return []string{"/bin/sh"}
}
