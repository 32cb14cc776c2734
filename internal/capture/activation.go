package capture

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Activation is the outcome of a successful handshake. It keeps the native
// activation parameters alive until Release, which must be called after the
// client is no longer needed.
type Activation struct {
	Client AudioClient

	params *paramOwner
}

// Release frees the activation parameters. It is safe to call repeatedly;
// the memory is freed once.
func (a *Activation) Release() {
	if a != nil {
		a.params.free()
	}
}

// paramOwner tracks single ownership of a ParamBlock.
type paramOwner struct {
	once  sync.Once
	block ParamBlock
}

func (p *paramOwner) free() {
	if p == nil {
		return
	}
	p.once.Do(func() {
		if p.block != nil {
			p.block.Free()
		}
	})
}

// Activate runs the process loopback activation handshake: it issues the
// asynchronous request through activator and waits for the completion
// notification for at most timeout.
//
// A timed-out or cancelled handshake returns an ActivationError that still
// owns the activation parameters; callers must call its Release once they
// are done with the request, typically when the capture is torn down.
func Activate(ctx context.Context, activator ProcessActivator, target Target, timeout time.Duration) (*Activation, error) {
	if activator == nil {
		return nil, &ActivationError{Kind: ActivationNativeFailure, Code: ENotImpl, Err: ErrUnsupported}
	}
	if err := target.Validate(); err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = DefaultActivationTimeout
	}

	cell := newCompletion[ActivationResult]()
	block, err := activator.BeginActivate(ProcessLoopbackDevice, target, func(r ActivationResult) {
		cell.complete(r)
	})
	if err != nil {
		owner := &paramOwner{block: block}
		owner.free()
		return nil, &ActivationError{Kind: ActivationNativeFailure, Code: hresultOf(err), Err: err}
	}
	params := &paramOwner{block: block}

	log.Debug("waiting for activation",
		"device", ProcessLoopbackDevice,
		"pid", target.ProcessID,
		"mode", target.Mode.String(),
		"timeout", timeout)

	res, ok, waitErr := cell.wait(ctx, timeout, func(late ActivationResult) {
		if late.Client != nil {
			log.Debug("releasing client from late activation", "pid", target.ProcessID)
			if err := late.Client.Release(); err != nil {
				log.Debug("release late client", "error", err)
			}
		}
		params.free()
	})
	if !ok {
		// The request is still in flight and may read the parameters. They
		// are freed by the late completion, or by ActivationError.Release if
		// the completion never arrives.
		ae := &ActivationError{Kind: ActivationTimeout, params: params}
		if waitErr != nil && !errors.Is(waitErr, context.DeadlineExceeded) {
			ae.Err = waitErr
		}
		return nil, ae
	}

	if res.Code.Failed() {
		if res.Client != nil {
			_ = res.Client.Release()
		}
		params.free()
		return nil, &ActivationError{Kind: ActivationNativeFailure, Code: res.Code}
	}
	if res.Client == nil {
		params.free()
		return nil, &ActivationError{Kind: ActivationNoInterface}
	}

	return &Activation{Client: res.Client, params: params}, nil
}
