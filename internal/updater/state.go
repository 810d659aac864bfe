package updater

import (
	"fmt"
	"time"
)

// State is a step of the update cycle.
type State int

const (
	StateIdle State = iota
	StateChecking
	StateDownloading
	StateInstalled
	StateNotAvailable
	StateFailed
)

var stateNames = [...]string{
	StateIdle:         "idle",
	StateChecking:     "checking",
	StateDownloading:  "downloading",
	StateInstalled:    "installed",
	StateNotAvailable: "not_available",
	StateFailed:       "failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// Terminal reports whether the cycle ends in s.
func (s State) Terminal() bool {
	return s == StateInstalled || s == StateNotAvailable || s == StateFailed
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *State) UnmarshalText(b []byte) error {
	for i, n := range stateNames {
		if n == string(b) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("unknown update state %q", b)
}

// validNext lists the transitions the controller may take.
var validNext = map[State][]State{
	StateIdle:        {StateChecking},
	StateChecking:    {StateNotAvailable, StateDownloading, StateFailed},
	StateDownloading: {StateInstalled, StateFailed},
}

func canTransition(from, to State) bool {
	for _, s := range validNext[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Session is the observable state of one update cycle.
type Session struct {
	ID              string    `json:"id"`
	State           State     `json:"state"`
	CurrentVersion  string    `json:"current_version"`
	RemoteVersion   string    `json:"remote_version,omitempty"`
	BytesDownloaded int64     `json:"bytes_downloaded"`
	ContentLength   int64     `json:"content_length,omitempty"`
	Err             string    `json:"error,omitempty"`
	StartedAt       time.Time `json:"started_at,omitzero"`
	FinishedAt      time.Time `json:"finished_at,omitzero"`
}
