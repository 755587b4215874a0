// Command mux is the thin terminal client: it attaches one stream
// transport connection to a single conversation's PTY, forwards raw
// keystrokes as pty.write commands, and renders pty.output and the
// sidebar rail over bubbletea. Reconnecting clients may come and go;
// the gateway and its sessions keep running regardless.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/term"

	"github.com/relaypane/harness/internal/gatewayrecord"
	"github.com/relaypane/harness/internal/pathres"
	"github.com/relaypane/harness/internal/streamtransport"
)

func main() {
	sessionFlag := flag.String("session", "", "named side-session (default: unnamed gateway)")
	conversationID := flag.String("conversation-id", "", "attach to an existing conversation")
	directoryPath := flag.String("directory", "", "working directory for a new conversation")
	agentType := flag.String("agent-type", "default", "agent type to launch for a new conversation")
	title := flag.String("title", "", "title for a new conversation")
	cmdline := flag.String("cmd", "", "command to run for a new conversation (default: $SHELL)")
	flag.Parse()

	if err := run(*sessionFlag, *conversationID, *directoryPath, *agentType, *title, *cmdline); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(sessionFlag, conversationID, directoryPath, agentType, title, cmdline string) error {
	root, err := workspaceRoot()
	if err != nil {
		return err
	}
	paths, err := pathres.Resolve(root, sessionFlag)
	if err != nil {
		return err
	}

	rec, err := gatewayrecord.Read(paths.GatewayRecordPath())
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("gateway not running (no record); run `harness gateway start` first")
	}
	token := ""
	if rec.AuthToken != nil {
		token = *rec.AuthToken
	}
	addr := net.JoinHostPort(rec.Host, strconv.Itoa(rec.Port))

	dctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	client, err := streamtransport.Dial(dctx, addr, token)
	cancel()
	if err != nil {
		return fmt.Errorf("gateway not reachable: %w", err)
	}
	defer client.Close()

	if directoryPath == "" {
		directoryPath = root
	}
	cols, rows := 80, 24
	if w, h, serr := term.GetSize(int(os.Stdout.Fd())); serr == nil && w > 0 && h > 0 {
		cols, rows = w, h
	}
	sessionID, resumed, err := ensureSession(client, ensureSessionOpts{
		conversationID: conversationID,
		directoryPath:  directoryPath,
		agentType:      agentType,
		title:          title,
		cmdline:        cmdline,
		cols:           cols,
		rows:           rows,
	})
	if err != nil {
		return err
	}

	m := newModel(client, sessionID, resumed)
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithMouseCellMotion())
	_, err = p.Run()
	return err
}

func workspaceRoot() (string, error) {
	if v := os.Getenv("HARNESS_INVOKE_CWD"); v != "" {
		return v, nil
	}
	if v := os.Getenv("INIT_CWD"); v != "" {
		return v, nil
	}
	return os.Getwd()
}
