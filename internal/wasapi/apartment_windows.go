//go:build windows

package wasapi

import (
	"errors"
	"fmt"
	"runtime"

	"github.com/go-ole/go-ole"
)

// Apartment locks the calling goroutine to its OS thread and joins the COM
// multithreaded apartment for the duration of the returned leave call.
type Apartment struct{}

func (Apartment) Enter() (func(), error) {
	runtime.LockOSThread()

	err := ole.CoInitializeEx(0, ole.COINIT_MULTITHREADED)
	if err == nil {
		return leave(true), nil
	}

	var oe *ole.OleError
	if errors.As(err, &oe) {
		switch uint32(oe.Code()) {
		case sFalse:
			// Already initialized on this thread; the call still needs balancing.
			return leave(true), nil
		case rpcEChangedMode:
			// The thread is in an STA owned by someone else. Loopback clients
			// are agile, so carry on without taking a reference.
			log.Debug("thread already in a single-threaded apartment")
			return leave(false), nil
		}
	}
	runtime.UnlockOSThread()
	return nil, fmt.Errorf("CoInitializeEx: %w", hresult(err))
}

func leave(uninit bool) func() {
	return func() {
		if uninit {
			ole.CoUninitialize()
		}
		runtime.UnlockOSThread()
	}
}
