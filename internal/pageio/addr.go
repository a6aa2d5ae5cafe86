package pageio

import "unsafe"

// addr returns the address of a slice's backing array, used only to check
// and compute alignment padding.
func addr(b []byte) uintptr {
	if len(b) == 0 && cap(b) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(unsafe.SliceData(b)))
}
