// Package abitest provides a recording abi.Service for tests.
package abitest

import (
	"context"
	"sync"

	"github.com/funvibe/cxbridge/internal/abi"
)

// Spy records every call and forwards it to Service. With a nil Service
// every call fails with abi.ErrUnsupported.
type Spy struct {
	Service abi.Service

	// Fail, when set, is consulted before forwarding; a non-nil result is
	// returned instead of calling Service.
	Fail func(call string) error

	mu    sync.Mutex
	calls []string
}

var _ abi.Service = (*Spy)(nil)

func (s *Spy) record(call string) error {
	s.mu.Lock()
	s.calls = append(s.calls, call)
	s.mu.Unlock()
	if s.Fail != nil {
		if err := s.Fail(call); err != nil {
			return err
		}
	}
	if s.Service == nil {
		return abi.ErrUnsupported.Wrapf("%s: no service", call)
	}
	return nil
}

// Calls returns the names of the calls made so far, in order.
func (s *Spy) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

// Count returns how many times call was made.
func (s *Spy) Count(call string) int {
	n := 0
	for _, c := range s.Calls() {
		if c == call {
			n++
		}
	}
	return n
}

// Reset forgets the recorded calls.
func (s *Spy) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = nil
}

func (s *Spy) Parse(ctx context.Context, code string) error {
	if err := s.record("Parse"); err != nil {
		return err
	}
	return s.Service.Parse(ctx, code)
}

func (s *Spy) LookupName(ctx context.Context, name string) (abi.ScopeHandle, error) {
	if err := s.record("LookupName"); err != nil {
		return 0, err
	}
	return s.Service.LookupName(ctx, name)
}

func (s *Spy) CreateObject(ctx context.Context, scope abi.ScopeHandle) (abi.Addr, error) {
	if err := s.record("CreateObject"); err != nil {
		return 0, err
	}
	return s.Service.CreateObject(ctx, scope)
}

func (s *Spy) DestroyObject(ctx context.Context, scope abi.ScopeHandle, addr abi.Addr) error {
	if err := s.record("DestroyObject"); err != nil {
		return err
	}
	return s.Service.DestroyObject(ctx, scope, addr)
}

func (s *Spy) InstantiateTemplate(ctx context.Context, scope abi.ScopeHandle, name, args string) (abi.MethodHandle, error) {
	if err := s.record("InstantiateTemplate"); err != nil {
		return 0, err
	}
	return s.Service.InstantiateTemplate(ctx, scope, name, args)
}

func (s *Spy) GetFunctionAddress(ctx context.Context, method abi.MethodHandle) (abi.FuncAddr, error) {
	if err := s.record("GetFunctionAddress"); err != nil {
		return 0, err
	}
	return s.Service.GetFunctionAddress(ctx, method)
}

func (s *Spy) Signature(ctx context.Context, method abi.MethodHandle) (abi.Signature, error) {
	if err := s.record("Signature"); err != nil {
		return abi.Signature{}, err
	}
	return s.Service.Signature(ctx, method)
}

func (s *Spy) Call(ctx context.Context, fn abi.FuncAddr, sig abi.Signature, slots []abi.Slot) (abi.Slot, error) {
	if err := s.record("Call"); err != nil {
		return abi.Slot{}, err
	}
	return s.Service.Call(ctx, fn, sig, slots)
}

func (s *Spy) Close() error {
	if err := s.record("Close"); err != nil {
		return err
	}
	return s.Service.Close()
}
