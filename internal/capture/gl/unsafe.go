package gl

import "unsafe"

// unsafeSlice views a raw PBO-mapped pointer as a byte slice of length
// n. The returned slice is only valid until the corresponding
// UnmapBuffer call.
func unsafeSlice(ptr unsafe.Pointer, n int) []byte {
	return unsafe.Slice((*byte)(ptr), n)
}
