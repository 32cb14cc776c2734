// Package sessions enumerates processes that own audio sessions on the
// default render device.
package sessions

import (
	"errors"
	"sort"
	"strings"
)

// ErrUnsupported is returned where audio sessions cannot be enumerated.
var ErrUnsupported = errors.New("audio session enumeration not supported on this platform")

// State mirrors AudioSessionState.
type State uint32

const (
	StateInactive State = iota
	StateActive
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateExpired:
		return "expired"
	default:
		return "inactive"
	}
}

// ProcessInfo describes one process with an audio session.
type ProcessInfo struct {
	ProcessID    uint32 `json:"processId"`
	ProcessName  string `json:"processName"`
	WindowTitle  string `json:"windowTitle,omitempty"`
	SessionState string `json:"sessionState"`
	IsActive     bool   `json:"isActive"`
}

// rawSession is what the platform enumerator reports before enrichment.
type rawSession struct {
	pid   uint32
	state State
}

// merge folds sessions into one entry per process, keeping the most active
// state, and orders the result with active processes first.
func merge(raw []rawSession, name func(uint32) string, title func(uint32) string) []ProcessInfo {
	byPID := make(map[uint32]State, len(raw))
	for _, s := range raw {
		// The system sounds session reports pid 0.
		if s.pid == 0 {
			continue
		}
		prev, ok := byPID[s.pid]
		if !ok || rank(s.state) > rank(prev) {
			byPID[s.pid] = s.state
		}
	}

	out := make([]ProcessInfo, 0, len(byPID))
	for pid, st := range byPID {
		info := ProcessInfo{
			ProcessID:    pid,
			ProcessName:  name(pid),
			SessionState: st.String(),
			IsActive:     st == StateActive,
		}
		if title != nil {
			info.WindowTitle = title(pid)
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IsActive != out[j].IsActive {
			return out[i].IsActive
		}
		ni, nj := strings.ToLower(out[i].ProcessName), strings.ToLower(out[j].ProcessName)
		if ni != nj {
			return ni < nj
		}
		return out[i].ProcessID < out[j].ProcessID
	})
	return out
}

func rank(s State) int {
	switch s {
	case StateActive:
		return 2
	case StateInactive:
		return 1
	default:
		return 0
	}
}

// contains reports whether pid owns a non-expired session in raw.
func contains(raw []rawSession, pid uint32) bool {
	for _, s := range raw {
		if s.pid == pid && s.state != StateExpired {
			return true
		}
	}
	return false
}
