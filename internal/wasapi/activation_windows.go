//go:build windows

package wasapi

import (
	"fmt"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/go-ole/go-ole"
	"github.com/moutend/go-wca/pkg/wca"
	"golang.org/x/sys/windows"

	"github.com/breeze-rmm/audiocapture/internal/capture"
)

const (
	vtBlob                         = 65
	activationTypeProcessLoopback  = 1
	processLoopbackModeIncludeTree = 0
	processLoopbackModeExcludeTree = 1
)

// audioClientActivationParams mirrors AUDIOCLIENT_ACTIVATION_PARAMS.
type audioClientActivationParams struct {
	ActivationType      int32
	TargetProcessID     uint32
	ProcessLoopbackMode int32
}

// blobPropVariant mirrors a PROPVARIANT holding VT_BLOB. Go's field
// alignment matches the native layout on both 386 and amd64.
type blobPropVariant struct {
	vt        uint16
	reserved  [3]uint16
	cbSize    uint32
	pBlobData uintptr
}

// paramBlock owns the CoTaskMem allocations passed to
// ActivateAudioInterfaceAsync.
type paramBlock struct {
	variant uintptr
	params  uintptr
}

func newParamBlock(target capture.Target) (*paramBlock, error) {
	params, err := coTaskMemAlloc(unsafe.Sizeof(audioClientActivationParams{}))
	if err != nil {
		return nil, err
	}
	variant, err := coTaskMemAlloc(unsafe.Sizeof(blobPropVariant{}))
	if err != nil {
		ole.CoTaskMemFree(params)
		return nil, err
	}

	mode := int32(processLoopbackModeIncludeTree)
	if target.Mode == capture.ExcludeTree {
		mode = processLoopbackModeExcludeTree
	}
	*(*audioClientActivationParams)(unsafe.Pointer(params)) = audioClientActivationParams{
		ActivationType:      activationTypeProcessLoopback,
		TargetProcessID:     target.ProcessID,
		ProcessLoopbackMode: mode,
	}
	*(*blobPropVariant)(unsafe.Pointer(variant)) = blobPropVariant{
		vt:        vtBlob,
		cbSize:    uint32(unsafe.Sizeof(audioClientActivationParams{})),
		pBlobData: params,
	}
	return &paramBlock{variant: variant, params: params}, nil
}

// Free releases both allocations. The caller guarantees a single call.
func (p *paramBlock) Free() {
	if p == nil {
		return
	}
	ole.CoTaskMemFree(p.variant)
	ole.CoTaskMemFree(p.params)
	p.variant, p.params = 0, 0
}

// handlerObject is the native layout of our
// IActivateAudioInterfaceCompletionHandler. It lives in CoTaskMem so the
// audio service can hold it without referencing Go memory.
type handlerObject struct {
	vtbl uintptr
	refs int32
	id   uint32
}

var (
	handlerVtbl struct {
		queryInterface    uintptr
		addRef            uintptr
		release           uintptr
		activateCompleted uintptr
	}
	handlerVtblOnce sync.Once

	pendingMu   sync.Mutex
	pendingNext uint32
	pending     = map[uint32]func(capture.ActivationResult){}
)

func initHandlerVtbl() {
	handlerVtbl.queryInterface = windows.NewCallback(handlerQueryInterface)
	handlerVtbl.addRef = windows.NewCallback(handlerAddRef)
	handlerVtbl.release = windows.NewCallback(handlerRelease)
	handlerVtbl.activateCompleted = windows.NewCallback(handlerActivateCompleted)
}

func newHandler(done func(capture.ActivationResult)) (uintptr, uint32, error) {
	handlerVtblOnce.Do(initHandlerVtbl)

	mem, err := coTaskMemAlloc(unsafe.Sizeof(handlerObject{}))
	if err != nil {
		return 0, 0, err
	}

	pendingMu.Lock()
	pendingNext++
	id := pendingNext
	pending[id] = done
	pendingMu.Unlock()

	*(*handlerObject)(unsafe.Pointer(mem)) = handlerObject{
		vtbl: uintptr(unsafe.Pointer(&handlerVtbl)),
		refs: 1,
		id:   id,
	}
	return mem, id, nil
}

func takePending(id uint32) func(capture.ActivationResult) {
	pendingMu.Lock()
	defer pendingMu.Unlock()
	done := pending[id]
	delete(pending, id)
	return done
}

func handlerQueryInterface(this, riid, ppv uintptr) uintptr {
	iid := (*ole.GUID)(unsafe.Pointer(riid))
	out := (*uintptr)(unsafe.Pointer(ppv))
	if ole.IsEqualGUID(iid, ole.IID_IUnknown) ||
		ole.IsEqualGUID(iid, iidActivateCompletionHandler) ||
		ole.IsEqualGUID(iid, iidAgileObject) {
		*out = this
		handlerAddRef(this)
		return 0
	}
	*out = 0
	return eNoInterface
}

func handlerAddRef(this uintptr) uintptr {
	h := (*handlerObject)(unsafe.Pointer(this))
	return uintptr(atomic.AddInt32(&h.refs, 1))
}

func handlerRelease(this uintptr) uintptr {
	h := (*handlerObject)(unsafe.Pointer(this))
	n := atomic.AddInt32(&h.refs, -1)
	if n == 0 {
		takePending(h.id)
		ole.CoTaskMemFree(this)
	}
	return uintptr(n)
}

// handlerActivateCompleted runs on an audio service worker thread.
func handlerActivateCompleted(this, op uintptr) uintptr {
	h := (*handlerObject)(unsafe.Pointer(this))
	done := takePending(h.id)
	if done == nil {
		return 0
	}

	var (
		code int32
		unk  *ole.IUnknown
	)
	if hr := comCall(op, vtblGetActivateResult,
		uintptr(unsafe.Pointer(&code)),
		uintptr(unsafe.Pointer(&unk)),
	); hr.Failed() {
		done(capture.ActivationResult{Code: hr})
		return 0
	}

	res := capture.ActivationResult{Code: capture.HRESULT(code)}
	if unk != nil {
		if !res.Code.Failed() {
			res.Client = toAudioClient(unk)
		}
		unk.Release()
	}
	done(res)
	return 0
}

// Activator issues ActivateAudioInterfaceAsync for process loopback.
type Activator struct{}

func (Activator) BeginActivate(devicePath string, target capture.Target, done func(capture.ActivationResult)) (capture.ParamBlock, error) {
	if err := procActivateAudioInterfaceAsync.Find(); err != nil {
		return nil, fmt.Errorf("%w: %w", capture.ErrUnsupported, err)
	}
	path, err := windows.UTF16PtrFromString(devicePath)
	if err != nil {
		return nil, err
	}

	params, err := newParamBlock(target)
	if err != nil {
		return nil, err
	}
	handler, id, err := newHandler(done)
	if err != nil {
		return params, err
	}

	var op uintptr
	ret, _, _ := procActivateAudioInterfaceAsync.Call(
		uintptr(unsafe.Pointer(path)),
		uintptr(unsafe.Pointer(wca.IID_IAudioClient)),
		params.variant,
		handler,
		uintptr(unsafe.Pointer(&op)),
	)
	hr := capture.HRESULT(int32(ret))
	if hr.Failed() {
		takePending(id)
	}
	// The audio service holds its own reference while the request runs.
	handlerRelease(handler)
	if hr.Failed() {
		return params, hr
	}
	comRelease(op)
	return params, nil
}
