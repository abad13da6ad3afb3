package msc

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ardnew/usbmsc/pkg"
)

// fakeRegistrar records RegisterLUN/UnregisterLUN calls for assertions.
type fakeRegistrar struct {
	mu        sync.Mutex
	registered   map[uint8]LUNInfo
	unregistered []uint8
	registerErr  error
}

func newFakeRegistrar() *fakeRegistrar {
	return &fakeRegistrar{registered: make(map[uint8]LUNInfo)}
}

func (r *fakeRegistrar) RegisterLUN(info LUNInfo) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.registerErr != nil {
		return r.registerErr
	}
	r.registered[info.LUN] = info
	return nil
}

func (r *fakeRegistrar) UnregisterLUN(lun uint8) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.registered, lun)
	r.unregistered = append(r.unregistered, lun)
	return nil
}

func (r *fakeRegistrar) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.registered)
}

func TestBind_ProbesAndRegistersLUN(t *testing.T) {
	ft := newFakeTransport(0x81, 0x02, basicLUNResponder)
	reg := newFakeRegistrar()

	dev, err := Bind(context.Background(), ft, 0, 0x81, 0x02, WithRegistrar(reg))
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	defer dev.Unbind(context.Background())

	if dev.MaxLUN() != 0 {
		t.Errorf("MaxLUN() = %d, want 0", dev.MaxLUN())
	}
	if reg.count() != 1 {
		t.Fatalf("registered LUNs = %d, want 1", reg.count())
	}
	info := reg.registered[0]
	if info.BlockSize != 512 || info.TotalBlocks != 2000 {
		t.Errorf("info = %+v, want blockSize=512 totalBlocks=2000", info)
	}
}

func TestBind_GetMaxLUNStallAssumesSingleLUN(t *testing.T) {
	ft := newFakeTransport(0x81, 0x02, basicLUNResponder)
	ft.getMaxLUNErr = pkg.ErrStall

	dev, err := Bind(context.Background(), ft, 0, 0x81, 0x02)
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	defer dev.Unbind(context.Background())

	if dev.MaxLUN() != 0 {
		t.Errorf("MaxLUN() = %d, want 0", dev.MaxLUN())
	}

	found := false
	for _, s := range ft.clearHaltEnd {
		if s == 0 {
			found = true
		}
	}
	if !found {
		t.Errorf("clearHaltEnd = %v, want endpoint 0 cleared after GET_MAX_LUN stall", ft.clearHaltEnd)
	}
}

func TestBind_GetMaxLUNOtherErrorFailsBind(t *testing.T) {
	ft := newFakeTransport(0x81, 0x02, basicLUNResponder)
	ft.getMaxLUNErr = context.DeadlineExceeded

	if _, err := Bind(context.Background(), ft, 0, 0x81, 0x02); err == nil {
		t.Fatal("Bind: want error for non-stall GET_MAX_LUN failure, got nil")
	}
}

func TestDevice_EnqueueReadCompletes(t *testing.T) {
	const blockSize = 512
	store := make([]byte, 2000*blockSize)
	for i := range store[:blockSize] {
		store[i] = 0x5A
	}
	respond := func(lun uint8, cdb []byte, data []byte) (uint8, uint32) {
		return storageResponder(store, blockSize)(lun, cdb, data)
	}
	full := func(lun uint8, cdb []byte, data []byte) (uint8, uint32) {
		switch cdb[0] {
		case opRead10, opWrite10, opRead12, opWrite12, opRead16, opWrite16:
			return respond(lun, cdb, data)
		default:
			return basicLUNResponder(lun, cdb, data)
		}
	}
	ft := newFakeTransport(0x81, 0x02, full)

	dev, err := Bind(context.Background(), ft, 0, 0x81, 0x02)
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	defer dev.Unbind(context.Background())

	buf := make([]byte, blockSize)
	done := make(chan Result, 1)
	if err := dev.Enqueue(Transaction{
		Op:     OpRead,
		LUN:    0,
		Offset: 0,
		Blocks: 1,
		Buffer: buf,
		Complete: func(r Result) { done <- r },
	}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	select {
	case res := <-done:
		if res != ResultOK {
			t.Fatalf("result = %v, want ResultOK", res)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for completion")
	}
	if buf[0] != 0x5A {
		t.Errorf("buf[0] = %#x, want 0x5A", buf[0])
	}
}

func TestDevice_EnqueueAfterUnbindIsNotPresent(t *testing.T) {
	ft := newFakeTransport(0x81, 0x02, basicLUNResponder)
	dev, err := Bind(context.Background(), ft, 0, 0x81, 0x02)
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}

	if err := dev.Unbind(context.Background()); err != nil {
		t.Fatalf("Unbind: %v", err)
	}

	done := make(chan Result, 1)
	err = dev.Enqueue(Transaction{
		Op:       OpFlush,
		LUN:      0,
		Complete: func(r Result) { done <- r },
	})
	if err != ErrNotPresent {
		t.Fatalf("Enqueue after Unbind: err = %v, want ErrNotPresent", err)
	}
}

func TestDevice_UnknownLUNIsInvalidArgs(t *testing.T) {
	ft := newFakeTransport(0x81, 0x02, basicLUNResponder)
	dev, err := Bind(context.Background(), ft, 0, 0x81, 0x02)
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	defer dev.Unbind(context.Background())

	done := make(chan Result, 1)
	if err := dev.Enqueue(Transaction{
		Op:       OpFlush,
		LUN:      5,
		Complete: func(r Result) { done <- r },
	}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	select {
	case res := <-done:
		if res != ResultInvalidArgs {
			t.Fatalf("result = %v, want ResultInvalidArgs", res)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for completion")
	}
}
