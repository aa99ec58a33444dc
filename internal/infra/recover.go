package infra

import (
	"fmt"
	"runtime"
	"strings"

	log "github.com/sirupsen/logrus"
)

// GoRecoverable runs f and restarts it after a panic. A negative restart
// budget restarts forever; once the budget hits zero the process exits,
// a supervisor restart is cleaner than limping on in unknown state.
func GoRecoverable(restartBudget int, id string, f func()) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		entry := log.WithField("job", id).WithField("at", identifyPanic())
		if restartBudget == 0 {
			entry.Fatalf("panic: %v, restart budget exhausted", r)
		}
		if restartBudget > 0 {
			restartBudget--
		}
		entry.Errorf("panic: %v, restarting", r)
		go GoRecoverable(restartBudget, id, f)
	}()
	f()
}

// identifyPanic walks the stack past the runtime frames to the panic site.
func identifyPanic() string {
	var name, file string
	var line int
	var pc [16]uintptr

	n := runtime.Callers(3, pc[:])
	for _, pc := range pc[:n] {
		fn := runtime.FuncForPC(pc)
		if fn == nil {
			continue
		}
		file, line = fn.FileLine(pc)
		name = fn.Name()
		if !strings.HasPrefix(name, "runtime.") {
			break
		}
	}

	switch {
	case name != "":
		return fmt.Sprintf("%v:%v", name, line)
	case file != "":
		return fmt.Sprintf("%v:%v", file, line)
	}
	return fmt.Sprintf("pc:%x", pc)
}
