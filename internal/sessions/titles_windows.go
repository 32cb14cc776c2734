//go:build windows

package sessions

import (
	"sync"
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	moduser32 = windows.NewLazySystemDLL("user32.dll")

	procEnumWindows              = moduser32.NewProc("EnumWindows")
	procGetWindowTextW           = moduser32.NewProc("GetWindowTextW")
	procGetWindowThreadProcessID = moduser32.NewProc("GetWindowThreadProcessId")
	procIsWindowVisible          = moduser32.NewProc("IsWindowVisible")
)

// Callbacks are a finite resource, so one is shared and enumeration is
// serialized.
var (
	titlesMu     sync.Mutex
	titlesOut    map[uint32]string
	titlesCb     uintptr
	titlesCbOnce sync.Once
)

func enumWindowProc(hwnd, _ uintptr) uintptr {
	if visible, _, _ := procIsWindowVisible.Call(hwnd); visible == 0 {
		return 1
	}
	var pid uint32
	procGetWindowThreadProcessID.Call(hwnd, uintptr(unsafe.Pointer(&pid)))
	if pid == 0 || titlesOut[pid] != "" {
		return 1
	}
	var buf [256]uint16
	n, _, _ := procGetWindowTextW.Call(hwnd, uintptr(unsafe.Pointer(&buf[0])), uintptr(len(buf)))
	if n > 0 {
		titlesOut[pid] = windows.UTF16ToString(buf[:n])
	}
	return 1
}

// windowTitles maps each pid to the title of its first visible, titled
// top-level window.
func windowTitles() map[uint32]string {
	titlesCbOnce.Do(func() { titlesCb = syscall.NewCallback(enumWindowProc) })

	titlesMu.Lock()
	defer titlesMu.Unlock()
	titlesOut = make(map[uint32]string)
	procEnumWindows.Call(titlesCb, 0)
	out := titlesOut
	titlesOut = nil
	return out
}
