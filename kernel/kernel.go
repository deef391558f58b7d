package kernel

// Kernel is the oracle that really changes the address space. Every call is
// made with the exact parameters that the bookkeeping will later record.
type Kernel interface {
	Arch() Arch
	PageSize() uint64
	Mmap(addr, length uint64, prot MemProt, flags MapFlag, fd int, offset uint64) (uint64, error)
	Munmap(addr, length uint64) error
	Mprotect(addr, length uint64, prot MemProt) error
	Mremap(oldAddr, oldLen, newAddr, newLen uint64, flags RemapFlag) (uint64, error)
	Fstat(fd int) (FileInfo, error)
	FdName(fd int) (string, error)
}
