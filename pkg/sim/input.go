package sim

import (
	"strings"
	"sync"
)

// Controls is the set of held flight inputs for one step.
type Controls struct {
	Forward  bool `json:"forward"`
	Backward bool `json:"backward"`
	Left     bool `json:"left"`
	Right    bool `json:"right"`
	Up       bool `json:"up"`
	Down     bool `json:"down"`
}

// Action is an edge-triggered command carried by a key press.
type Action string

const (
	ActionNone         Action = ""
	ActionToggleCruise Action = "toggle_cruise"
	ActionToggleVoice  Action = "toggle_voice"
	ActionLand         Action = "land"
)

var keyActions = map[string]Action{
	" ": ActionToggleCruise,
	"m": ActionToggleVoice,
	"l": ActionLand,
}

// Input tracks which keys the presentation layer currently holds.
type Input struct {
	mu   sync.Mutex
	held map[string]bool
}

// NewInput creates an empty key set.
func NewInput() *Input {
	return &Input{held: make(map[string]bool)}
}

func normalizeKey(key string) string {
	if key == " " {
		return key
	}
	k := strings.ToLower(strings.TrimSpace(key))
	if k == "space" || k == "spacebar" {
		return " "
	}
	return k
}

// KeyDown marks key as held and returns the action it triggers, if any.
func (in *Input) KeyDown(key string) Action {
	k := normalizeKey(key)
	in.mu.Lock()
	defer in.mu.Unlock()
	in.held[k] = true
	return keyActions[k]
}

// KeyUp releases key.
func (in *Input) KeyUp(key string) {
	k := normalizeKey(key)
	in.mu.Lock()
	defer in.mu.Unlock()
	delete(in.held, k)
}

// Release drops every held key.
func (in *Input) Release() {
	in.mu.Lock()
	defer in.mu.Unlock()
	clear(in.held)
}

// Controls maps the held keys to flight controls.
func (in *Input) Controls() Controls {
	in.mu.Lock()
	defer in.mu.Unlock()
	pressed := func(keys ...string) bool {
		for _, k := range keys {
			if in.held[k] {
				return true
			}
		}
		return false
	}
	return Controls{
		Forward:  pressed("w", "arrowup"),
		Backward: pressed("s", "arrowdown"),
		Left:     pressed("a", "arrowleft"),
		Right:    pressed("d", "arrowright"),
		Up:       pressed("q", "pageup", "shift"),
		Down:     pressed("e", "pagedown", "control"),
	}
}
