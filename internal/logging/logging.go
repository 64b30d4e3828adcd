package logging

import (
	"fmt"
	"sync"

	nuts "github.com/vaudience/go-nuts"
)

// Logger is the printf-style logger the services write to. nuts.L satisfies it.
type Logger interface {
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// Default returns the process-wide go-nuts logger.
func Default() Logger { return nuts.L }

// Nop discards everything.
type Nop struct{}

func (Nop) Infof(string, ...interface{})  {}
func (Nop) Warnf(string, ...interface{})  {}
func (Nop) Errorf(string, ...interface{}) {}

// Recorder keeps formatted lines per level. Used by tests.
type Recorder struct {
	mu     sync.Mutex
	Infos  []string
	Warns  []string
	Errors []string
}

func (r *Recorder) Infof(format string, args ...interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Infos = append(r.Infos, fmt.Sprintf(format, args...))
}

func (r *Recorder) Warnf(format string, args ...interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Warns = append(r.Warns, fmt.Sprintf(format, args...))
}

func (r *Recorder) Errorf(format string, args ...interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

// Count returns the number of lines recorded at each level.
func (r *Recorder) Count() (infos, warns, errors int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Infos), len(r.Warns), len(r.Errors)
}
