package streamtransport

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/relaypane/harness/internal/streamproto"
)

type echoDispatcher struct {
	calls chan streamproto.Command
}

func (d *echoDispatcher) Handle(ctx context.Context, conn *Conn, cmd streamproto.Command) (any, error) {
	if d.calls != nil {
		d.calls <- cmd
	}
	if cmd.Type == "fail.me" {
		return nil, streamproto.NewCommandError(streamproto.ErrKindNotFound, "directory not found: d1")
	}
	return map[string]string{"echo": string(cmd.Type)}, nil
}

func startTestServer(t *testing.T, authToken string) (*Server, net.Listener) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	s := NewServer(&echoDispatcher{}, authToken)
	s.AuthTimeout = 200 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go s.Serve(ctx, ln)
	return s, ln
}

func dial(t *testing.T, ln net.Listener) net.Conn {
	t.Helper()
	c, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func sendCommand(t *testing.T, c net.Conn, id string, typ streamproto.CommandType, params any) {
	t.Helper()
	cmd, err := streamproto.NewCommand(id, typ, params)
	if err != nil {
		t.Fatal(err)
	}
	if err := streamproto.WriteFrame(c, cmd); err != nil {
		t.Fatal(err)
	}
}

func readResponse(t *testing.T, r *bufio.Reader) streamproto.Response {
	t.Helper()
	kind, raw, err := streamproto.ReadFrame(r)
	if err != nil {
		t.Fatal(err)
	}
	if kind != streamproto.KindResponse {
		t.Fatalf("kind = %s, want response", kind)
	}
	var resp streamproto.Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		t.Fatal(err)
	}
	return resp
}

func TestCommandRoundTripNoAuth(t *testing.T) {
	_, ln := startTestServer(t, "")
	c := dial(t, ln)
	defer c.Close()

	sendCommand(t, c, "c1", streamproto.CommandSessionList, streamproto.SessionListParams{Limit: 1})
	resp := readResponse(t, bufio.NewReader(c))
	if resp.ID != "c1" || resp.Error != nil {
		t.Fatalf("got %+v", resp)
	}
}

func TestCommandErrorResponseCarriesKind(t *testing.T) {
	_, ln := startTestServer(t, "")
	c := dial(t, ln)
	defer c.Close()

	sendCommand(t, c, "c2", "fail.me", nil)
	resp := readResponse(t, bufio.NewReader(c))
	if resp.Error == nil || resp.Error.Kind != streamproto.ErrKindNotFound {
		t.Fatalf("got %+v", resp)
	}
}

func TestAuthRequiredDropsConnectionWithoutAuthFrame(t *testing.T) {
	_, ln := startTestServer(t, "secret")
	c := dial(t, ln)
	defer c.Close()

	sendCommand(t, c, "c3", streamproto.CommandSessionList, nil)
	c.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 4)
	if _, err := c.Read(buf); err == nil {
		t.Fatal("expected connection to be closed for missing auth")
	}
}

func TestAuthInvalidTokenDropsConnection(t *testing.T) {
	_, ln := startTestServer(t, "secret")
	c := dial(t, ln)
	defer c.Close()

	streamproto.WriteFrame(c, streamproto.NewAuthFrame("wrong"))
	c.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 4)
	if _, err := c.Read(buf); err == nil {
		t.Fatal("expected connection to be closed for bad token")
	}
}

func TestAuthValidTokenAllowsCommands(t *testing.T) {
	_, ln := startTestServer(t, "secret")
	c := dial(t, ln)
	defer c.Close()

	streamproto.WriteFrame(c, streamproto.NewAuthFrame("secret"))
	sendCommand(t, c, "c4", streamproto.CommandSessionList, nil)
	resp := readResponse(t, bufio.NewReader(c))
	if resp.ID != "c4" {
		t.Fatalf("got %+v", resp)
	}
}

func TestBroadcastDeliversEnvelopeToConnectedClients(t *testing.T) {
	s, ln := startTestServer(t, "")
	c := dial(t, ln)
	defer c.Close()

	// Give the accept goroutine a moment to register the connection.
	sendCommand(t, c, "warm", streamproto.CommandSessionList, nil)
	r := bufio.NewReader(c)
	readResponse(t, r)

	s.Broadcast(streamproto.EnvelopeRailInvalidated, streamproto.RailInvalidatedData{Epoch: 7})

	kind, raw, err := streamproto.ReadFrame(r)
	if err != nil {
		t.Fatal(err)
	}
	if kind != streamproto.KindEnvelope {
		t.Fatalf("kind = %s, want envelope", kind)
	}
	var env streamproto.Envelope
	json.Unmarshal(raw, &env)
	if env.EKind != streamproto.EnvelopeRailInvalidated {
		t.Fatalf("got %+v", env)
	}
}

func TestBackpressureDropsSlowConnectionWithoutBlockingBroadcast(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	s := NewServer(&echoDispatcher{}, "")
	s.OutboundQueueSize = 2
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go s.Serve(ctx, ln)

	c := dial(t, ln)
	defer c.Close()
	sendCommand(t, c, "warm", streamproto.CommandSessionList, nil)
	r := bufio.NewReader(c)
	readResponse(t, r)

	// Never read again — queue should overflow and the server should
	// close the connection rather than block.
	for i := 0; i < 50; i++ {
		s.Broadcast(streamproto.EnvelopeRailInvalidated, streamproto.RailInvalidatedData{Epoch: int64(i)})
	}

	done := make(chan struct{})
	go func() {
		s.Broadcast(streamproto.EnvelopeGatewayShutdown, struct{}{})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Broadcast blocked on a slow connection")
	}
}
