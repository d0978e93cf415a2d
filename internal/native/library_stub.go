//go:build !(linux && cgo && libffi)

package native

import "github.com/funvibe/cxbridge/internal/abi"

// openLibrary is unavailable without cgo and libffi.
func openLibrary(path string) (library, error) {
	return nil, abi.ErrUnsupported.Wrapf("%s: built without libffi (build with -tags libffi)", path)
}
