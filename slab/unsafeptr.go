package slab

import "unsafe"

// addrOf returns the address of mem's backing array, used only to
// verify page alignment of a freshly mapped region.
func addrOf(mem []byte) unsafe.Pointer {
	return unsafe.Pointer(&mem[0])
}

func u32ptr(mem []byte, off int) *uint32 {
	return (*uint32)(unsafe.Pointer(&mem[off]))
}

func u64ptr(mem []byte, off int) *uint64 {
	return (*uint64)(unsafe.Pointer(&mem[off]))
}
