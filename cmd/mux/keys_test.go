package main

import (
	"bytes"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
)

func TestKeyBytesRunes(t *testing.T) {
	got := keyBytes(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("abc")})
	if string(got) != "abc" {
		t.Errorf("got %q, want %q", got, "abc")
	}
}

func TestKeyBytesCtrlCPassesThrough(t *testing.T) {
	got := keyBytes(tea.KeyMsg{Type: tea.KeyCtrlC})
	if !bytes.Equal(got, []byte{0x03}) {
		t.Errorf("ctrl+c should forward as 0x03, got %v", got)
	}
}

func TestKeyBytesNamedSequences(t *testing.T) {
	cases := map[tea.KeyType][]byte{
		tea.KeyEnter: {'\r'},
		tea.KeyUp:    {0x1b, '[', 'A'},
		tea.KeyEsc:   {0x1b},
	}
	for kt, want := range cases {
		if got := keyBytes(tea.KeyMsg{Type: kt}); !bytes.Equal(got, want) {
			t.Errorf("key %v: got %v, want %v", kt, got, want)
		}
	}
}

func TestKeyBytesUnknownTypeIsNil(t *testing.T) {
	if got := keyBytes(tea.KeyMsg{Type: tea.KeyType(-999)}); got != nil {
		t.Errorf("expected nil for an unmapped key type, got %v", got)
	}
}
