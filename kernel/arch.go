package kernel

import "runtime"

type Arch int

const (
	ARCH_UNKNOWN Arch = iota
	ARCH_ARM
	ARCH_ARM64
	ARCH_X86
	ARCH_X86_64
	ARCH_S390X
	ARCH_MIPS32
	ARCH_MIPS64
	ARCH_PPC64
)

var archNames = map[Arch]string{
	ARCH_UNKNOWN: "unknown",
	ARCH_ARM:     "arm",
	ARCH_ARM64:   "arm64",
	ARCH_X86:     "x86",
	ARCH_X86_64:  "amd64",
	ARCH_S390X:   "s390x",
	ARCH_MIPS32:  "mips32",
	ARCH_MIPS64:  "mips64",
	ARCH_PPC64:   "ppc64",
}

func (a Arch) String() string {
	if name, ok := archNames[a]; ok {
		return name
	}
	return archNames[ARCH_UNKNOWN]
}

// HostArch maps runtime.GOARCH onto Arch.
func HostArch() Arch {
	switch runtime.GOARCH {
	case "arm":
		return ARCH_ARM
	case "arm64":
		return ARCH_ARM64
	case "386":
		return ARCH_X86
	case "amd64":
		return ARCH_X86_64
	case "s390x":
		return ARCH_S390X
	case "mips", "mipsle":
		return ARCH_MIPS32
	case "mips64", "mips64le":
		return ARCH_MIPS64
	case "ppc64", "ppc64le":
		return ARCH_PPC64
	}
	return ARCH_UNKNOWN
}
