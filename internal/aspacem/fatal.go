package aspacem

import (
	"fmt"
	"path/filepath"
	"runtime"

	"github.com/wnxd/aspacem/aspacem"
)

func (sp *Space) fatal(label, msg string) {
	sp.log.Error("aspacem: fatal", "label", label, "msg", msg)
	sp.cfg.Exit(1)
	panic(&aspacem.FatalError{Label: label, Msg: msg})
}

func (sp *Space) barf(format string, args ...any) {
	sp.fatal("barf", fmt.Sprintf(format, args...))
}

func (sp *Space) barfTooLow(what string) {
	sp.fatal("barf_toolow", fmt.Sprintf("%s is too low; increase it and restart", what))
}

func (sp *Space) assertFail(expr string) {
	_, file, line, _ := runtime.Caller(2)
	sp.fatal("assert_fail", fmt.Sprintf("%s:%d: assertion '%s' failed", filepath.Base(file), line, expr))
}

func (sp *Space) assert(cond bool, expr string) {
	if !cond {
		sp.assertFail(expr)
	}
}
