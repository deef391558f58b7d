package mapsource

import (
	"bytes"
	"io"
	"os"
	"strconv"

	"github.com/cockroachdb/errors"

	"github.com/wnxd/aspacem/kernel"
)

// ARMCommpage is the vector page that arm-linux kernels map at 0xffff0000
// without listing it in /proc/self/maps.
var ARMCommpage = Mapping{
	Addr: 0xffff0000,
	Len:  0x1000,
	Prot: kernel.MEM_PROT_READ | kernel.MEM_PROT_EXEC,
}

type Opener func() (io.ReadCloser, error)

// Linux parses text in /proc/self/maps format. The whole text must fit in
// BufSize bytes; a full buffer is reported as ErrBufferTooSmall rather than
// grown.
type Linux struct {
	Open     Opener
	BufSize  int
	Commpage *Mapping
}

func ProcSelfMaps(bufSize int) *Linux {
	l := &Linux{
		Open: func() (io.ReadCloser, error) {
			return os.Open("/proc/self/maps")
		},
		BufSize: bufSize,
	}
	if kernel.HostArch() == kernel.ARCH_ARM {
		l.Commpage = &ARMCommpage
	}
	return l
}

// Text serves maps text produced by fn, e.g. kernel.Sim.Maps.
func Text(fn func() []byte, bufSize int) *Linux {
	return &Linux{
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(fn())), nil
		},
		BufSize: bufSize,
	}
}

func (l *Linux) Parse(mapping RecordMapping, gap RecordGap) error {
	buf, err := l.read()
	if err != nil {
		return err
	}
	w := walker{mapping: mapping, gap: gap}
	commpage := l.Commpage
	for lineNo := 1; len(buf) > 0; lineNo++ {
		var line []byte
		if i := bytes.IndexByte(buf, '\n'); i >= 0 {
			line, buf = buf[:i], buf[i+1:]
		} else {
			line, buf = buf, nil
		}
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		m, err := ParseLine(line)
		if err != nil {
			return errors.Wrapf(err, "line %d", lineNo)
		}
		if commpage != nil {
			if m.Addr >= commpage.Addr+commpage.Len {
				w.add(*commpage)
				commpage = nil
			} else if m.Addr+m.Len > commpage.Addr {
				commpage = nil
			}
		}
		w.add(m)
	}
	if commpage != nil {
		w.add(*commpage)
	}
	w.finish()
	return nil
}

func (l *Linux) read() ([]byte, error) {
	f, err := l.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	buf := make([]byte, l.BufSize)
	var n int
	for n < len(buf) {
		m, err := f.Read(buf[n:])
		n += m
		if err == io.EOF {
			return buf[:n], nil
		} else if err != nil {
			return nil, err
		}
	}
	return nil, ErrBufferTooSmall
}

// ParseLine parses "start-end perms offset maj:min inode [pathname]".
func ParseLine(line []byte) (Mapping, error) {
	var m Mapping
	fields, rest := splitFields(line, 5)
	if len(fields) < 5 {
		return m, ErrSyntax
	}
	dash := bytes.IndexByte(fields[0], '-')
	if dash < 0 {
		return m, ErrSyntax
	}
	start, err := strconv.ParseUint(string(fields[0][:dash]), 16, 64)
	if err != nil {
		return m, ErrSyntax
	}
	end, err := strconv.ParseUint(string(fields[0][dash+1:]), 16, 64)
	if err != nil || end < start {
		return m, ErrSyntax
	}
	perms := fields[1]
	if len(perms) != 4 {
		return m, ErrSyntax
	}
	for i, c := range [...]struct {
		ch  byte
		bit kernel.MemProt
	}{{'r', kernel.MEM_PROT_READ}, {'w', kernel.MEM_PROT_WRITE}, {'x', kernel.MEM_PROT_EXEC}} {
		switch perms[i] {
		case c.ch:
			m.Prot |= c.bit
		case '-':
		default:
			return m, ErrSyntax
		}
	}
	switch perms[3] {
	case 's':
		m.Shared = true
	case 'p':
	default:
		return m, ErrSyntax
	}
	if m.Offset, err = strconv.ParseUint(string(fields[2]), 16, 64); err != nil {
		return m, ErrSyntax
	}
	colon := bytes.IndexByte(fields[3], ':')
	if colon < 0 {
		return m, ErrSyntax
	}
	major, err1 := strconv.ParseUint(string(fields[3][:colon]), 16, 32)
	minor, err2 := strconv.ParseUint(string(fields[3][colon+1:]), 16, 32)
	if err1 != nil || err2 != nil {
		return m, ErrSyntax
	}
	m.Dev = kernel.Mkdev(uint32(major), uint32(minor))
	if m.Ino, err = strconv.ParseUint(string(fields[4]), 10, 64); err != nil {
		return m, ErrSyntax
	}
	m.Addr, m.Len = start, end-start
	m.Name = string(bytes.TrimSpace(rest))
	return m, nil
}

func splitFields(line []byte, n int) ([][]byte, []byte) {
	fields := make([][]byte, 0, n)
	for len(fields) < n {
		line = bytes.TrimLeft(line, " \t")
		if len(line) == 0 {
			break
		}
		i := bytes.IndexAny(line, " \t")
		if i < 0 {
			fields = append(fields, line)
			line = nil
			break
		}
		fields = append(fields, line[:i])
		line = line[i:]
	}
	return fields, line
}
