package compiler

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	"github.com/funvibe/cxbridge/internal/abi"
)

// Address space of the simulated process. Function entry points sit below
// the heap and are spaced so every method gets a distinct aligned address.
const (
	codeBase  = 0x1000
	codeAlign = 16
	heapBase  = 0x100000000
)

type block struct {
	addr  uint64
	scope int64
	data  []byte
	live  bool
}

// heap is a bump allocator. Addresses are never reused, so a freed block
// stays recognizable for the life of the session.
type heap struct {
	next   uint64
	blocks []*block // ordered by addr
}

func newHeap() *heap {
	return &heap{next: heapBase}
}

func alignUp(n, align int) int {
	if align <= 1 {
		return n
	}
	return (n + align - 1) / align * align
}

// alloc returns a zeroed block of size bytes for an instance of scope.
func (h *heap) alloc(scope int64, size, align int) uint64 {
	if size < 1 {
		size = 1
	}
	addr := uint64(alignUp(int(h.next-heapBase), align)) + heapBase
	h.next = addr + uint64(size)
	h.blocks = append(h.blocks, &block{addr: addr, scope: scope, data: make([]byte, size), live: true})
	return addr
}

// find returns the block containing addr and the offset of addr in it.
func (h *heap) find(addr uint64) (*block, int, error) {
	i := sort.Search(len(h.blocks), func(i int) bool { return h.blocks[i].addr > addr }) - 1
	if i < 0 || addr-h.blocks[i].addr >= uint64(len(h.blocks[i].data)) {
		return nil, 0, abi.ErrInvocation.Wrapf("%s is not an object address", abi.Addr(addr))
	}
	b := h.blocks[i]
	if !b.live {
		return nil, 0, abi.ErrUseAfterFree.Wrapf("object at %s was destroyed", abi.Addr(b.addr))
	}
	return b, int(addr - b.addr), nil
}

// object returns the live block starting exactly at addr.
func (h *heap) object(addr uint64) (*block, error) {
	b, off, err := h.find(addr)
	if err != nil {
		return nil, err
	}
	if off != 0 {
		return nil, abi.ErrInvocation.Wrapf("%s points inside the object at %s", abi.Addr(addr), abi.Addr(b.addr))
	}
	return b, nil
}

func (h *heap) free(addr uint64) error {
	b, err := h.object(addr)
	if err != nil {
		return err
	}
	b.live = false
	return nil
}

// load reads a scalar of the given kind and width at addr.
func (h *heap) load(addr uint64, width int, kind abi.Kind) (any, error) {
	b, off, err := h.find(addr)
	if err != nil {
		return nil, err
	}
	if off+width > len(b.data) {
		return nil, abi.ErrInvocation.Wrapf("read of %d bytes at %s overruns the object", width, abi.Addr(addr))
	}

	buf := make([]byte, 8)
	copy(buf, b.data[off:off+width])
	bits := binary.LittleEndian.Uint64(buf)

	s := abi.Slot{Mode: abi.ByValue, Width: width, Kind: kind, Bits: bits}
	switch kind {
	case abi.Pointer:
		return bits, nil
	case abi.Int:
		return s.Int(), nil
	case abi.Uint:
		return s.Uint(), nil
	case abi.Float:
		return s.Float(), nil
	case abi.Bool:
		return s.Bool(), nil
	}
	return nil, abi.ErrInvocation.Wrapf("cannot load a %s value", kind)
}

// store writes v at addr, converting it as an assignment to a scalar of the
// given kind would.
func (h *heap) store(addr uint64, width int, kind abi.Kind, v any) error {
	b, off, err := h.find(addr)
	if err != nil {
		return err
	}
	if off+width > len(b.data) {
		return abi.ErrInvocation.Wrapf("write of %d bytes at %s overruns the object", width, abi.Addr(addr))
	}

	bits, err := scalarBits(width, kind, v)
	if err != nil {
		return err
	}
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, bits)
	copy(b.data[off:off+width], buf[:width])
	return nil
}

// scalarBits converts a body value to the raw bits of a scalar.
func scalarBits(width int, kind abi.Kind, v any) (uint64, error) {
	switch kind {
	case abi.Float:
		f, err := toFloat(v)
		if err != nil {
			return 0, err
		}
		if width == 4 {
			return uint64(math.Float32bits(float32(f))), nil
		}
		return math.Float64bits(f), nil
	case abi.Bool:
		n, err := toInt(v)
		if err != nil {
			return 0, err
		}
		if n != 0 {
			return 1, nil
		}
		return 0, nil
	case abi.Int, abi.Uint, abi.Pointer:
		n, err := toInt(v)
		if err != nil {
			return 0, err
		}
		return uint64(n), nil
	}
	return 0, abi.ErrInvocation.Wrapf("cannot store a %s value", kind)
}

func toInt(v any) (int64, error) {
	switch v := v.(type) {
	case nil:
		return 0, nil
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	case int64:
		return v, nil
	case uint64:
		return int64(v), nil
	case int:
		return int64(v), nil
	case float64:
		return int64(v), nil
	case abi.Addr:
		return int64(v), nil
	}
	return 0, abi.ErrInvocation.Wrap(fmt.Errorf("%T is not a number", v))
}

func toFloat(v any) (float64, error) {
	switch v := v.(type) {
	case float64:
		return v, nil
	case int64:
		return float64(v), nil
	case uint64:
		return float64(v), nil
	case int:
		return float64(v), nil
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	}
	return 0, abi.ErrInvocation.Wrap(fmt.Errorf("%T is not a number", v))
}
