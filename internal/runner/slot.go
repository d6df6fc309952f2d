package runner

import (
	"errors"
	"io"
	"os"
	"sync"
)

// ErrNoProcess is returned by Slot operations when no script is running.
var ErrNoProcess = errors.New("no script process is running")

// Slot holds at most one steerable process: the currently running script.
// Input injection and kill requests act on whatever occupies the slot.
type Slot struct {
	mu    sync.Mutex
	proc  *os.Process
	stdin io.WriteCloser
}

// Set installs a running process into the slot, replacing any previous
// occupant's registration (not the process itself).
func (s *Slot) Set(proc *os.Process, stdin io.WriteCloser) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.proc = proc
	s.stdin = stdin
}

// Clear empties the slot. Called after the process has been reaped.
func (s *Slot) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.proc = nil
	s.stdin = nil
}

// Active reports whether a process currently occupies the slot.
func (s *Slot) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.proc != nil
}

// SendInput writes one line to the running script's stdin. A trailing
// newline is appended so the script's readline-style input sees it.
func (s *Slot) SendInput(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stdin == nil {
		return ErrNoProcess
	}
	_, err := io.WriteString(s.stdin, text+"\n")
	return err
}

// Kill force-terminates the running script. The run loop observes the
// death via Wait and emits the terminal event.
func (s *Slot) Kill() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.proc == nil {
		return ErrNoProcess
	}
	return s.proc.Kill()
}
