package capture

import (
	"bytes"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/breeze-rmm/audiocapture/internal/pcm"
)

// eventLog records native calls in order across fakes.
type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(e string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	l.events = append(l.events, e)
	l.mu.Unlock()
}

func (l *eventLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

type fakeCapture struct {
	mu        sync.Mutex
	packets   []Buffer
	nextErr   error
	getErr    error
	relErr    error
	afterRel  func()
	releasedN []uint32

	released atomic.Int32
	log      *eventLog
}

func (c *fakeCapture) push(b Buffer) {
	c.mu.Lock()
	c.packets = append(c.packets, b)
	c.mu.Unlock()
}

func (c *fakeCapture) NextPacketSize() (uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.nextErr != nil {
		return 0, c.nextErr
	}
	if len(c.packets) == 0 {
		return 0, nil
	}
	return c.packets[0].Frames, nil
}

func (c *fakeCapture) GetBuffer() (Buffer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getErr != nil {
		return Buffer{}, c.getErr
	}
	if len(c.packets) == 0 {
		return Buffer{}, nil
	}
	b := c.packets[0]
	c.packets = c.packets[1:]
	return b, nil
}

func (c *fakeCapture) ReleaseBuffer(frames uint32) error {
	c.mu.Lock()
	c.releasedN = append(c.releasedN, frames)
	hook, err := c.afterRel, c.relErr
	c.mu.Unlock()
	if hook != nil {
		hook()
	}
	return err
}

func (c *fakeCapture) Release() error {
	c.released.Add(1)
	c.log.add("capture.Release")
	return nil
}

type fakeClient struct {
	mix       pcm.Format
	mixErr    error
	initErr   error
	ccErr     error
	startErr  error
	cc        *fakeCapture
	nilCC     bool
	gotFormat pcm.Format
	gotFlags  StreamFlags
	gotDur    time.Duration

	started  atomic.Int32
	stopped  atomic.Int32
	released atomic.Int32
	log      *eventLog
}

func newFakeClient(log *eventLog) *fakeClient {
	return &fakeClient{mix: pcm.Target, cc: &fakeCapture{log: log}, log: log}
}

func (c *fakeClient) MixFormat() (pcm.Format, error) {
	if c.mixErr != nil {
		return pcm.Format{}, c.mixErr
	}
	return c.mix, nil
}

func (c *fakeClient) Initialize(f pcm.Format, flags StreamFlags, d time.Duration) error {
	c.gotFormat, c.gotFlags, c.gotDur = f, flags, d
	return c.initErr
}

func (c *fakeClient) CaptureClient() (CaptureClient, error) {
	if c.ccErr != nil {
		return nil, c.ccErr
	}
	if c.nilCC {
		return nil, nil
	}
	return c.cc, nil
}

func (c *fakeClient) Start() error {
	c.started.Add(1)
	c.log.add("client.Start")
	return c.startErr
}

func (c *fakeClient) Stop() error {
	c.stopped.Add(1)
	c.log.add("client.Stop")
	return nil
}

func (c *fakeClient) Release() error {
	c.released.Add(1)
	c.log.add("client.Release")
	return nil
}

type fakeBlock struct {
	frees atomic.Int32
}

func (b *fakeBlock) Free() { b.frees.Add(1) }

type activationBehavior int

const (
	completeNow activationBehavior = iota
	completeAfter
	completeNever
)

type fakeActivator struct {
	behavior activationBehavior
	delay    time.Duration
	result   ActivationResult
	beginErr error

	mu     sync.Mutex
	blocks []*fakeBlock
	calls  atomic.Int32
	target Target
	path   string

	// completed is closed once done has been called; freesAtDone records
	// how many times the block had been freed at that moment.
	completed   chan struct{}
	freesAtDone atomic.Int32
}

func (a *fakeActivator) BeginActivate(path string, target Target, done func(ActivationResult)) (ParamBlock, error) {
	a.calls.Add(1)
	b := &fakeBlock{}
	a.mu.Lock()
	a.blocks = append(a.blocks, b)
	a.target, a.path = target, path
	a.mu.Unlock()

	if a.beginErr != nil {
		return b, a.beginErr
	}
	switch a.behavior {
	case completeNow:
		done(a.result)
	case completeAfter:
		go func() {
			time.Sleep(a.delay)
			a.freesAtDone.Store(b.frees.Load())
			done(a.result)
			if a.completed != nil {
				close(a.completed)
			}
		}()
	}
	return b, nil
}

func (a *fakeActivator) block(t *testing.T) *fakeBlock {
	t.Helper()
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.blocks) != 1 {
		t.Fatalf("BeginActivate called %d times, want 1", len(a.blocks))
	}
	return a.blocks[0]
}

// fakeStream is a device-style stream fed by a channel.
type fakeStream struct {
	mode    Mode
	format  pcm.Format
	packets chan []byte
	pumpErr error
	// ignoreStop makes Pump hang until unblock is closed.
	ignoreStop bool
	unblock    chan struct{}

	closes atomic.Int32
}

func newFakeStream(format pcm.Format) *fakeStream {
	return &fakeStream{mode: ModeDevice, format: format, packets: make(chan []byte, 16), unblock: make(chan struct{})}
}

func (s *fakeStream) Mode() Mode         { return s.mode }
func (s *fakeStream) Format() pcm.Format { return s.format }

func (s *fakeStream) Pump(stop <-chan struct{}, deliver Deliver) error {
	if s.ignoreStop {
		<-s.unblock
		return nil
	}
	for {
		select {
		case <-stop:
			return nil
		case b, ok := <-s.packets:
			if !ok {
				return s.pumpErr
			}
			if err := deliver(b); err != nil {
				return err
			}
		}
	}
}

func (s *fakeStream) Close() error {
	s.closes.Add(1)
	return nil
}

type fakeDevices struct {
	stream *fakeStream
	err    error
	calls  atomic.Int32
}

func (d *fakeDevices) OpenDefault() (Stream, error) {
	d.calls.Add(1)
	if d.err != nil {
		return nil, d.err
	}
	return d.stream, nil
}

// syncBuffer is a goroutine-safe sink.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
	err error
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return 0, b.err
	}
	return b.buf.Write(p)
}

func (b *syncBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Len()
}

func (b *syncBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.buf.Bytes()...)
}

var errBrokenPipe = errors.New("broken pipe")

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
