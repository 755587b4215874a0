package streamproto

import (
	"bufio"
	"bytes"
	"encoding/json"
	"testing"
)

func TestWriteReadFrameRoundTrip(t *testing.T) {
	cmd, err := NewCommand("c1", CommandPTYWrite, PTYWriteParams{TextOrBase64: "ls\n"})
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	if err := WriteFrame(&buf, cmd); err != nil {
		t.Fatal(err)
	}

	kind, raw, err := ReadFrame(bufio.NewReader(&buf))
	if err != nil {
		t.Fatal(err)
	}
	if kind != KindCommand {
		t.Fatalf("kind = %s, want command", kind)
	}
	var got Command
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatal(err)
	}
	if got.ID != "c1" || got.Type != CommandPTYWrite {
		t.Fatalf("got %+v", got)
	}
	var params PTYWriteParams
	if err := json.Unmarshal(got.Params, &params); err != nil {
		t.Fatal(err)
	}
	if params.TextOrBase64 != "ls\n" {
		t.Fatalf("params = %+v", params)
	}
}

func TestReadFrameRejectsWrongVersion(t *testing.T) {
	var buf bytes.Buffer
	WriteFrame(&buf, map[string]any{"v": 2, "kind": "command"})
	if _, _, err := ReadFrame(bufio.NewReader(&buf)); err == nil {
		t.Fatal("expected error for unsupported version")
	}
}

func TestReadFrameRejectsOversizedLength(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0x7f, 0xff, 0xff, 0xff})
	if _, _, err := ReadFrame(bufio.NewReader(&buf)); err == nil {
		t.Fatal("expected error for oversized frame")
	}
}

func TestNewResultResponseAndErrorResponse(t *testing.T) {
	resp, err := NewResultResponse("c2", map[string]int{"n": 3})
	if err != nil {
		t.Fatal(err)
	}
	if resp.ID != "c2" || resp.Error != nil {
		t.Fatalf("got %+v", resp)
	}

	errResp := NewErrorResponse("c3", "NotFound", "directory not found: d1")
	if errResp.Error == nil || errResp.Error.Kind != "NotFound" {
		t.Fatalf("got %+v", errResp)
	}
}

func TestNewEnvelopePTYOutput(t *testing.T) {
	env, err := NewEnvelope(EnvelopePTYOutput, PTYOutputData{SessionID: "s1", DataB64: "aGk=", Seq: 5})
	if err != nil {
		t.Fatal(err)
	}
	if env.EKind != EnvelopePTYOutput {
		t.Fatalf("got %+v", env)
	}
	var data PTYOutputData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatal(err)
	}
	if data.SessionID != "s1" || data.Seq != 5 {
		t.Fatalf("data = %+v", data)
	}
}

func TestAuthFrameShape(t *testing.T) {
	f := NewAuthFrame("tok")
	data, err := json.Marshal(f)
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]any
	json.Unmarshal(data, &m)
	if m["kind"] != "auth" || m["token"] != "tok" {
		t.Fatalf("got %v", m)
	}
}
