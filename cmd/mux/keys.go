package main

import tea "github.com/charmbracelet/bubbletea"

// keyBytes translates a key event into the raw bytes a real terminal
// would have sent the child process. ctrl+q is reserved above this
// (detach) and never reaches here; everything else, including
// ctrl+c, is forwarded straight through to the PTY.
func keyBytes(msg tea.KeyMsg) []byte {
	if msg.Type == tea.KeyRunes {
		return []byte(string(msg.Runes))
	}
	if seq, ok := namedKeySequences[msg.Type]; ok {
		return seq
	}
	return nil
}

var namedKeySequences = map[tea.KeyType][]byte{
	tea.KeyEnter:     {'\r'},
	tea.KeyTab:       {'\t'},
	tea.KeyBackspace: {0x7f},
	tea.KeySpace:     {' '},
	tea.KeyEsc:       {0x1b},
	tea.KeyUp:        {0x1b, '[', 'A'},
	tea.KeyDown:      {0x1b, '[', 'B'},
	tea.KeyRight:     {0x1b, '[', 'C'},
	tea.KeyLeft:      {0x1b, '[', 'D'},
	tea.KeyHome:      {0x1b, '[', 'H'},
	tea.KeyEnd:       {0x1b, '[', 'F'},
	tea.KeyDelete:    {0x1b, '[', '3', '~'},
	tea.KeyPgUp:      {0x1b, '[', '5', '~'},
	tea.KeyPgDown:    {0x1b, '[', '6', '~'},
	tea.KeyCtrlA:     {0x01},
	tea.KeyCtrlB:     {0x02},
	tea.KeyCtrlC:     {0x03},
	tea.KeyCtrlD:     {0x04},
	tea.KeyCtrlE:     {0x05},
	tea.KeyCtrlF:     {0x06},
	tea.KeyCtrlG:     {0x07},
	tea.KeyCtrlK:     {0x0b},
	tea.KeyCtrlL:     {0x0c},
	tea.KeyCtrlN:     {0x0e},
	tea.KeyCtrlO:     {0x0f},
	tea.KeyCtrlP:     {0x10},
	tea.KeyCtrlR:     {0x12},
	tea.KeyCtrlT:     {0x14},
	tea.KeyCtrlU:     {0x15},
	tea.KeyCtrlV:     {0x16},
	tea.KeyCtrlW:     {0x17},
	tea.KeyCtrlX:     {0x18},
	tea.KeyCtrlY:     {0x19},
	tea.KeyCtrlZ:     {0x1a},
}
