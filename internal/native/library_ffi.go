//go:build linux && cgo && libffi

package native

/*
#define _GNU_SOURCE
#cgo LDFLAGS: -ldl
#cgo pkg-config: libffi
#include <ffi.h>
#include <dlfcn.h>
#include <stdint.h>
#include <stdlib.h>

static void* cx_dlopen(const char* path) {
	return dlopen(path, RTLD_NOW | RTLD_LOCAL);
}

static const char* cx_dlerror(void) {
	return dlerror();
}

static void* cx_dlsym(void* h, const char* name, char** err) {
	dlerror();
	void* p = dlsym(h, name);
	char* e = dlerror();
	if (err) *err = e;
	return e ? NULL : p;
}

static int cx_dlclose(void* h) {
	return dlclose(h);
}

typedef void (*cx_parse_fn)(const char*);
typedef void* (*cx_lookup_fn)(const char*, void*);
typedef void* (*cx_create_fn)(void*);
typedef void (*cx_destroy_fn)(void*, void*);
typedef void* (*cx_instantiate_fn)(void*, const char*, const char*);
typedef unsigned long (*cx_address_fn)(void*);

static void cx_parse(void* fn, const char* code) {
	((cx_parse_fn)fn)(code);
}
static uintptr_t cx_lookup(void* fn, const char* name, uintptr_t ctx) {
	return (uintptr_t)((cx_lookup_fn)fn)(name, (void*)ctx);
}
static uintptr_t cx_create(void* fn, uintptr_t decl) {
	return (uintptr_t)((cx_create_fn)fn)((void*)decl);
}
static void cx_destroy(void* fn, uintptr_t decl, uintptr_t obj) {
	((cx_destroy_fn)fn)((void*)decl, (void*)obj);
}
static uintptr_t cx_instantiate(void* fn, uintptr_t decl, const char* name, const char* args) {
	return (uintptr_t)((cx_instantiate_fn)fn)((void*)decl, name, args);
}
static uintptr_t cx_address(void* fn, uintptr_t decl) {
	return (uintptr_t)((cx_address_fn)fn)((void*)decl);
}

static ffi_cif* cx_alloc_cif(void) {
	return (ffi_cif*)malloc(sizeof(ffi_cif));
}

static int cx_prep_cif(ffi_cif* cif, unsigned int nfixed, unsigned int ntotal,
	ffi_type* rtype, ffi_type** atypes, int variadic) {
	if (variadic) {
		return ffi_prep_cif_var(cif, FFI_DEFAULT_ABI, nfixed, ntotal, rtype, atypes);
	}
	return ffi_prep_cif(cif, FFI_DEFAULT_ABI, ntotal, rtype, atypes);
}

static void cx_ffi_call(ffi_cif* cif, uintptr_t fn, void* rvalue, void** avalue) {
	ffi_call(cif, (void (*)(void))fn, rvalue, avalue);
}
*/
import "C"

import (
	"fmt"
	"math"
	"unsafe"

	"github.com/funvibe/cxbridge/internal/abi"
	"github.com/funvibe/cxbridge/internal/config"
)

// ffiLibrary is a dlopen'ed interop library.
type ffiLibrary struct {
	handle      unsafe.Pointer
	parseFn     unsafe.Pointer
	lookupFn    unsafe.Pointer
	createFn    unsafe.Pointer
	destroyFn   unsafe.Pointer // optional
	instantiate unsafe.Pointer
	addressFn   unsafe.Pointer
}

func dlerr() string {
	if e := C.cx_dlerror(); e != nil {
		return C.GoString(e)
	}
	return "unknown dlerror"
}

func openLibrary(path string) (library, error) {
	cs := C.CString(path)
	defer C.free(unsafe.Pointer(cs))
	h := C.cx_dlopen(cs)
	if h == nil {
		return nil, abi.ErrUnsupported.Wrapf("dlopen(%q) failed: %s", path, dlerr())
	}

	l := &ffiLibrary{handle: h}
	for _, sym := range []struct {
		name     string
		dst      *unsafe.Pointer
		optional bool
	}{
		{config.ParseSymbol, &l.parseFn, false},
		{config.LookupNameSymbol, &l.lookupFn, false},
		{config.CreateObjectSymbol, &l.createFn, false},
		{config.DestroyObjectSymbol, &l.destroyFn, true},
		{config.InstantiateTemplateSymbol, &l.instantiate, false},
		{config.GetFunctionAddressSymbol, &l.addressFn, false},
	} {
		p, err := symbol(h, sym.name)
		if err != nil && !sym.optional {
			_ = l.close()
			return nil, abi.ErrUnsupported.Wrapf("%s: %v", path, err)
		}
		*sym.dst = p
	}
	return l, nil
}

func symbol(h unsafe.Pointer, name string) (unsafe.Pointer, error) {
	cs := C.CString(name)
	defer C.free(unsafe.Pointer(cs))
	var cerr *C.char
	p := C.cx_dlsym(h, cs, &cerr)
	if cerr != nil {
		return nil, fmt.Errorf("dlsym(%q) failed: %s", name, C.GoString(cerr))
	}
	return p, nil
}

func (l *ffiLibrary) parse(code string) {
	cs := C.CString(code)
	defer C.free(unsafe.Pointer(cs))
	C.cx_parse(l.parseFn, cs)
}

func (l *ffiLibrary) lookupName(name string, context uint64) uint64 {
	cs := C.CString(name)
	defer C.free(unsafe.Pointer(cs))
	return uint64(C.cx_lookup(l.lookupFn, cs, C.uintptr_t(context)))
}

func (l *ffiLibrary) createObject(decl uint64) uint64 {
	return uint64(C.cx_create(l.createFn, C.uintptr_t(decl)))
}

func (l *ffiLibrary) destroyObject(decl, addr uint64) bool {
	if l.destroyFn == nil {
		return false
	}
	C.cx_destroy(l.destroyFn, C.uintptr_t(decl), C.uintptr_t(addr))
	return true
}

func (l *ffiLibrary) instantiateTemplate(decl uint64, name, args string) uint64 {
	cn := C.CString(name)
	defer C.free(unsafe.Pointer(cn))
	ca := C.CString(args)
	defer C.free(unsafe.Pointer(ca))
	return uint64(C.cx_instantiate(l.instantiate, C.uintptr_t(decl), cn, ca))
}

func (l *ffiLibrary) functionAddress(decl uint64) uint64 {
	return uint64(C.cx_address(l.addressFn, C.uintptr_t(decl)))
}

func (l *ffiLibrary) close() error {
	if l.handle == nil {
		return nil
	}
	h := l.handle
	l.handle = nil
	if C.cx_dlclose(h) != 0 {
		return fmt.Errorf("dlclose failed: %s", dlerr())
	}
	return nil
}

// ffiType maps a slot to its libffi type.
func ffiType(width int, kind abi.Kind) (*C.ffi_type, error) {
	switch kind {
	case abi.Void:
		return &C.ffi_type_void, nil
	case abi.Pointer:
		return &C.ffi_type_pointer, nil
	case abi.Float:
		switch width {
		case 4:
			return &C.ffi_type_float, nil
		case 8:
			return &C.ffi_type_double, nil
		}
	case abi.Bool, abi.Uint:
		switch width {
		case 1:
			return &C.ffi_type_uint8, nil
		case 2:
			return &C.ffi_type_uint16, nil
		case 4:
			return &C.ffi_type_uint32, nil
		case 8:
			return &C.ffi_type_uint64, nil
		}
	case abi.Int:
		switch width {
		case 1:
			return &C.ffi_type_sint8, nil
		case 2:
			return &C.ffi_type_sint16, nil
		case 4:
			return &C.ffi_type_sint32, nil
		case 8:
			return &C.ffi_type_sint64, nil
		}
	}
	return nil, fmt.Errorf("no libffi type for %s/%d", kind, width)
}

// promote applies the default argument promotions to a variadic slot.
func promote(s abi.Slot) abi.Slot {
	switch {
	case s.Mode != abi.ByValue:
	case s.Kind == abi.Float && s.Width == 4:
		return abi.FloatSlot(8, s.Float())
	case (s.Kind == abi.Int || s.Kind == abi.Bool) && s.Width < 4:
		s.Bits, s.Width, s.Kind = uint64(uint32(int32(s.Int()))), 4, abi.Int
	case s.Kind == abi.Uint && s.Width < 4:
		s.Width, s.Kind = 4, abi.Int
	}
	return s
}

// call prepares a cif for the slots and calls fn. Argument cells and the
// return buffer live on the C heap for the duration of the call.
func (l *ffiLibrary) call(fn uint64, sig abi.Signature, slots []abi.Slot) (abi.Slot, error) {
	n := len(slots)
	nfixed := sig.Arity()
	word := C.size_t(unsafe.Sizeof(uintptr(0)))

	var (
		types  **C.ffi_type
		values *unsafe.Pointer
		cells  unsafe.Pointer
	)
	if n > 0 {
		types = (**C.ffi_type)(C.malloc(C.size_t(n) * word))
		values = (*unsafe.Pointer)(C.malloc(C.size_t(n) * word))
		cells = C.malloc(C.size_t(n) * 8)
		if types == nil || values == nil || cells == nil {
			C.free(unsafe.Pointer(types))
			C.free(unsafe.Pointer(values))
			C.free(cells)
			return abi.Slot{}, fmt.Errorf("%s: out of C memory", sig.Name)
		}
		defer C.free(unsafe.Pointer(types))
		defer C.free(unsafe.Pointer(values))
		defer C.free(cells)
	}

	tv := unsafe.Slice(types, n)
	vv := unsafe.Slice(values, n)
	for i, s := range slots {
		if i >= nfixed {
			s = promote(s)
		}
		t, err := ffiType(s.Width, s.Kind)
		if err != nil {
			return abi.Slot{}, fmt.Errorf("argument %d: %w", i, err)
		}
		cell := unsafe.Add(cells, i*8)
		*(*uint64)(cell) = s.Bits
		tv[i] = t
		vv[i] = cell
	}

	rtype, err := ffiType(sig.Result.Width, sig.Result.Kind)
	if err != nil {
		return abi.Slot{}, fmt.Errorf("result: %w", err)
	}

	cif := C.cx_alloc_cif()
	if cif == nil {
		return abi.Slot{}, fmt.Errorf("%s: out of C memory", sig.Name)
	}
	defer C.free(unsafe.Pointer(cif))

	variadic := C.int(0)
	if sig.Variadic {
		variadic = 1
	}
	if st := C.cx_prep_cif(cif, C.uint(nfixed), C.uint(n), rtype, types, variadic); st != C.FFI_OK {
		return abi.Slot{}, fmt.Errorf("ffi_prep_cif failed: %d", int(st))
	}

	// libffi widens integral results to a full ffi_arg.
	ret := C.malloc(16)
	if ret == nil {
		return abi.Slot{}, fmt.Errorf("%s: out of C memory", sig.Name)
	}
	defer C.free(ret)
	*(*uint64)(ret) = 0
	C.cx_ffi_call(cif, C.uintptr_t(fn), ret, values)

	r := sig.Result
	bits := *(*uint64)(ret)
	if r.Width < 8 && r.Width > 0 {
		bits &= math.MaxUint64 >> (64 - 8*uint(r.Width))
	}
	if r.Kind == abi.Void {
		bits = 0
	}
	return abi.Slot{Mode: r.Mode, Width: r.Width, Kind: r.Kind, Bits: bits}, nil
}
