//go:build windows

package sessions

import (
	"fmt"
	"runtime"
	"unsafe"

	"github.com/go-ole/go-ole"
	"github.com/moutend/go-wca/pkg/wca"

	"github.com/breeze-rmm/audiocapture/internal/logging"
)

var log = logging.L("sessions")

// List returns the processes with audio sessions on the default render
// device.
func List() ([]ProcessInfo, error) {
	raw, err := enumerate()
	if err != nil {
		return nil, err
	}
	titles := windowTitles()
	return merge(raw, processName, func(pid uint32) string { return titles[pid] }), nil
}

// HasSession reports whether pid currently owns an audio session.
func HasSession(pid uint32) (bool, error) {
	raw, err := enumerate()
	if err != nil {
		return false, err
	}
	return contains(raw, pid), nil
}

func enumerate() ([]rawSession, error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if err := ole.CoInitializeEx(0, ole.COINIT_MULTITHREADED); err != nil {
		oe, ok := err.(*ole.OleError)
		if !ok || oe.Code() != 1 { // S_FALSE
			return nil, fmt.Errorf("CoInitializeEx: %w", err)
		}
	}
	defer ole.CoUninitialize()

	var mmde *wca.IMMDeviceEnumerator
	if err := wca.CoCreateInstance(wca.CLSID_MMDeviceEnumerator, 0, wca.CLSCTX_ALL, wca.IID_IMMDeviceEnumerator, &mmde); err != nil {
		return nil, fmt.Errorf("create device enumerator: %w", err)
	}
	defer mmde.Release()

	var mmd *wca.IMMDevice
	if err := mmde.GetDefaultAudioEndpoint(wca.ERender, wca.EConsole, &mmd); err != nil {
		return nil, fmt.Errorf("get default render endpoint: %w", err)
	}
	defer mmd.Release()

	var mgr *wca.IAudioSessionManager2
	if err := mmd.Activate(wca.IID_IAudioSessionManager2, wca.CLSCTX_ALL, nil, &mgr); err != nil {
		return nil, fmt.Errorf("activate session manager: %w", err)
	}
	defer mgr.Release()

	var sessions *wca.IAudioSessionEnumerator
	if err := mgr.GetSessionEnumerator(&sessions); err != nil {
		return nil, fmt.Errorf("get session enumerator: %w", err)
	}
	defer sessions.Release()

	var count int
	if err := sessions.GetCount(&count); err != nil {
		return nil, fmt.Errorf("get session count: %w", err)
	}

	raw := make([]rawSession, 0, count)
	for i := 0; i < count; i++ {
		s, err := readSession(sessions, i)
		if err != nil {
			log.Debug("skipping audio session", "index", i, "error", err)
			continue
		}
		raw = append(raw, s)
	}
	return raw, nil
}

func readSession(sessions *wca.IAudioSessionEnumerator, i int) (rawSession, error) {
	var ctl *wca.IAudioSessionControl
	if err := sessions.GetSession(i, &ctl); err != nil {
		return rawSession{}, err
	}
	defer ctl.Release()

	var state uint32
	if err := ctl.GetState(&state); err != nil {
		return rawSession{}, err
	}

	disp, err := ctl.QueryInterface(wca.IID_IAudioSessionControl2)
	if err != nil {
		return rawSession{}, err
	}
	ctl2 := (*wca.IAudioSessionControl2)(unsafe.Pointer(disp))
	defer ctl2.Release()

	var pid uint32
	if err := ctl2.GetProcessId(&pid); err != nil {
		return rawSession{}, err
	}
	return rawSession{pid: pid, state: State(state)}, nil
}
