package sessions

import (
	"encoding/json"
	"strings"
	"testing"
)

func fakeNames(pid uint32) string {
	return map[uint32]string{
		100: "Discord.exe",
		200: "chrome.exe",
		300: "Spotify.exe",
	}[pid]
}

func TestMergeCollapsesSessionsPerProcess(t *testing.T) {
	raw := []rawSession{
		{pid: 200, state: StateInactive},
		{pid: 200, state: StateActive},
		{pid: 200, state: StateExpired},
		{pid: 100, state: StateInactive},
		{pid: 0, state: StateActive},
		{pid: 300, state: StateActive},
	}

	got := merge(raw, fakeNames, nil)
	if len(got) != 3 {
		t.Fatalf("merge returned %d entries, want 3: %+v", len(got), got)
	}

	// Active first, then by name.
	wantOrder := []uint32{200, 300, 100}
	for i, pid := range wantOrder {
		if got[i].ProcessID != pid {
			t.Fatalf("entry %d pid = %d, want %d (%+v)", i, got[i].ProcessID, pid, got)
		}
	}
	if !got[0].IsActive || got[0].SessionState != "active" {
		t.Fatalf("chrome should be active: %+v", got[0])
	}
	if got[2].IsActive || got[2].SessionState != "inactive" {
		t.Fatalf("discord should be inactive: %+v", got[2])
	}
}

func TestMergeWindowTitles(t *testing.T) {
	raw := []rawSession{{pid: 100, state: StateActive}}
	got := merge(raw, fakeNames, func(pid uint32) string {
		if pid == 100 {
			return "#general - Discord"
		}
		return ""
	})
	if got[0].WindowTitle != "#general - Discord" {
		t.Fatalf("WindowTitle = %q", got[0].WindowTitle)
	}
}

func TestProcessInfoJSON(t *testing.T) {
	b, err := json.Marshal(ProcessInfo{ProcessID: 42, ProcessName: "game.exe", SessionState: "active", IsActive: true})
	if err != nil {
		t.Fatal(err)
	}
	s := string(b)
	for _, want := range []string{`"processId":42`, `"processName":"game.exe"`, `"sessionState":"active"`, `"isActive":true`} {
		if !strings.Contains(s, want) {
			t.Fatalf("json %s missing %s", s, want)
		}
	}
	if strings.Contains(s, "windowTitle") {
		t.Fatalf("empty windowTitle should be omitted: %s", s)
	}
}

func TestContains(t *testing.T) {
	raw := []rawSession{
		{pid: 100, state: StateExpired},
		{pid: 200, state: StateInactive},
	}
	if contains(raw, 100) {
		t.Fatal("expired session should not count")
	}
	if !contains(raw, 200) {
		t.Fatal("inactive session should count")
	}
	if contains(raw, 300) {
		t.Fatal("unknown pid should not count")
	}
}
