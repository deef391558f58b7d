//go:build linux && (amd64 || arm64 || riscv64 || ppc64le)

package kernel

import (
	"os"
	"strconv"

	"github.com/cockroachdb/errors"
	"golang.org/x/sys/unix"
)

type host struct {
	arch     Arch
	pageSize uint64
}

// Host returns the Kernel of the running process.
func Host() Kernel {
	return &host{arch: HostArch(), pageSize: uint64(unix.Getpagesize())}
}

func (h *host) Arch() Arch {
	return h.arch
}

func (h *host) PageSize() uint64 {
	return h.pageSize
}

func (h *host) Mmap(addr, length uint64, prot MemProt, flags MapFlag, fd int, offset uint64) (uint64, error) {
	r, _, errno := unix.Syscall6(
		unix.SYS_MMAP,
		uintptr(addr),
		uintptr(length),
		uintptr(hostProt(prot)),
		uintptr(hostFlags(flags)),
		uintptr(fd),
		uintptr(offset))
	if errno != 0 {
		return 0, errors.Wrapf(errno, "mmap %#x+%#x", addr, length)
	}
	return uint64(r), nil
}

func (h *host) Munmap(addr, length uint64) error {
	_, _, errno := unix.Syscall(unix.SYS_MUNMAP, uintptr(addr), uintptr(length), 0)
	if errno != 0 {
		return errors.Wrapf(errno, "munmap %#x+%#x", addr, length)
	}
	return nil
}

func (h *host) Mprotect(addr, length uint64, prot MemProt) error {
	_, _, errno := unix.Syscall(unix.SYS_MPROTECT, uintptr(addr), uintptr(length), uintptr(hostProt(prot)))
	if errno != 0 {
		return errors.Wrapf(errno, "mprotect %#x+%#x", addr, length)
	}
	return nil
}

func (h *host) Mremap(oldAddr, oldLen, newAddr, newLen uint64, flags RemapFlag) (uint64, error) {
	var hf uintptr
	if flags&REMAP_MAYMOVE != 0 {
		hf |= unix.MREMAP_MAYMOVE
	}
	if flags&REMAP_FIXED != 0 {
		hf |= unix.MREMAP_FIXED
	}
	r, _, errno := unix.Syscall6(
		unix.SYS_MREMAP,
		uintptr(oldAddr),
		uintptr(oldLen),
		uintptr(newLen),
		hf,
		uintptr(newAddr),
		0)
	if errno != 0 {
		return 0, errors.Wrapf(errno, "mremap %#x+%#x", oldAddr, oldLen)
	}
	return uint64(r), nil
}

func (h *host) Fstat(fd int) (FileInfo, error) {
	var stat unix.Stat_t
	if err := unix.Fstat(fd, &stat); err != nil {
		return FileInfo{}, errors.Wrapf(err, "fstat %d", fd)
	}
	return FileInfo{Dev: uint64(stat.Dev), Ino: uint64(stat.Ino), Mode: uint32(stat.Mode)}, nil
}

func (h *host) FdName(fd int) (string, error) {
	return os.Readlink("/proc/self/fd/" + strconv.Itoa(fd))
}

func hostProt(prot MemProt) int {
	var p int
	if prot&MEM_PROT_READ != 0 {
		p |= unix.PROT_READ
	}
	if prot&MEM_PROT_WRITE != 0 {
		p |= unix.PROT_WRITE
	}
	if prot&MEM_PROT_EXEC != 0 {
		p |= unix.PROT_EXEC
	}
	return p
}

func hostFlags(flags MapFlag) int {
	var f int
	for _, m := range [...]struct {
		flag MapFlag
		host int
	}{
		{MAP_SHARED, unix.MAP_SHARED},
		{MAP_PRIVATE, unix.MAP_PRIVATE},
		{MAP_FIXED, unix.MAP_FIXED},
		{MAP_ANONYMOUS, unix.MAP_ANONYMOUS},
		{MAP_NORESERVE, unix.MAP_NORESERVE},
	} {
		if flags&m.flag != 0 {
			f |= m.host
		}
	}
	return f
}
