package sessions

import (
	"github.com/shirou/gopsutil/v3/process"
)

// processName resolves a pid to its executable name, or "" when the
// process is gone or inaccessible.
func processName(pid uint32) string {
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return ""
	}
	name, err := p.Name()
	if err != nil {
		return ""
	}
	return name
}

// Exists reports whether a process with pid is running.
func Exists(pid uint32) bool {
	ok, err := process.PidExists(int32(pid))
	return err == nil && ok
}
