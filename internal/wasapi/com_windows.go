//go:build windows

package wasapi

import (
	"errors"
	"syscall"
	"unsafe"

	"github.com/go-ole/go-ole"
	"golang.org/x/sys/windows"

	"github.com/breeze-rmm/audiocapture/internal/capture"
	"github.com/breeze-rmm/audiocapture/internal/logging"
)

var log = logging.L("wasapi")

var (
	modole32    = windows.NewLazySystemDLL("ole32.dll")
	modmmdevapi = windows.NewLazySystemDLL("Mmdevapi.dll")

	procCoTaskMemAlloc              = modole32.NewProc("CoTaskMemAlloc")
	procActivateAudioInterfaceAsync = modmmdevapi.NewProc("ActivateAudioInterfaceAsync")
)

// COM interface ids not exported by go-ole or go-wca.
var (
	iidActivateCompletionHandler = ole.NewGUID("{41D949AB-9862-444A-80F6-C261334DA5EB}")
	iidAgileObject               = ole.NewGUID("{94EA2B94-E9CC-49E0-C0FF-EE64CA8F5B90}")
)

const (
	// IActivateAudioInterfaceAsyncOperation::GetActivateResult
	vtblGetActivateResult = 3

	eNoInterface    = 0x80004002
	rpcEChangedMode = 0x80010106
	sFalse          = 0x1
)

// comCall invokes the COM method at vtableIdx on obj and returns its HRESULT.
func comCall(obj uintptr, vtableIdx int, args ...uintptr) capture.HRESULT {
	vtbl := *(*uintptr)(unsafe.Pointer(obj))
	fn := *(*uintptr)(unsafe.Pointer(vtbl + uintptr(vtableIdx)*unsafe.Sizeof(uintptr(0))))
	all := make([]uintptr, 0, 1+len(args))
	all = append(all, obj)
	all = append(all, args...)
	ret, _, _ := syscall.SyscallN(fn, all...)
	return capture.HRESULT(int32(ret))
}

// comRelease calls IUnknown::Release.
func comRelease(obj uintptr) {
	if obj != 0 {
		comCall(obj, 2)
	}
}

func coTaskMemAlloc(size uintptr) (uintptr, error) {
	p, _, _ := procCoTaskMemAlloc.Call(size)
	if p == 0 {
		return 0, capture.HRESULT(-0x7FF8FFF2) // E_OUTOFMEMORY
	}
	return p, nil
}

// hresult maps an error from go-ole or go-wca to a capture.HRESULT so the
// session can classify it.
func hresult(err error) error {
	if err == nil {
		return nil
	}
	var oe *ole.OleError
	if errors.As(err, &oe) {
		return capture.HRESULT(int32(uint32(oe.Code())))
	}
	return err
}
