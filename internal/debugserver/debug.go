// Package debugserver implements the newline-delimited JSON debug
// protocol SPEC_FULL.md supplements from
// original_source/crates/dryad_runtime/src/debug.rs +
// debug_server.rs: concrete DebugCommand/DebugEvent shapes
// (SetBreakpoints/Continue/Step/Pause/GetVariables/GetHeap →
// BreakpointHit/StepComplete/Paused/Variables/Heap/Error), a
// DebugState tracking breakpoints and execution mode, and a TCP
// server speaking the protocol over plain net.Conn in place of the
// original's tokio runtime.
package debugserver

import "sync"

// ExecutionMode mirrors debug.rs's ExecutionMode enum.
type ExecutionMode int

const (
	Running ExecutionMode = iota
	Stepping
	Paused
)

// Command is the Go rendering of debug.rs's DebugCommand enum: one
// struct with every variant's fields, Type selecting which apply —
// the same flattened-enum convention internal/plugin uses for its
// wire messages.
type Command struct {
	Type  string `json:"type"`
	File  string `json:"file,omitempty"`
	Lines []int  `json:"lines,omitempty"`
}

const (
	CmdSetBreakpoints = "set_breakpoints"
	CmdContinue       = "continue"
	CmdStep           = "step"
	CmdPause          = "pause"
	CmdGetVariables   = "get_variables"
	CmdGetHeap        = "get_heap"
)

// Event is the Go rendering of debug.rs's DebugEvent enum.
type Event struct {
	Type      string            `json:"type"`
	File      string            `json:"file,omitempty"`
	Line      int               `json:"line,omitempty"`
	Variables map[string]string `json:"variables,omitempty"`
	Heap      []string          `json:"heap,omitempty"`
	Error     string            `json:"error,omitempty"`
}

const (
	EvtBreakpointHit = "breakpoint_hit"
	EvtStepComplete  = "step_complete"
	EvtPaused        = "paused"
	EvtVariables     = "variables"
	EvtHeap          = "heap"
	EvtError         = "error"
)

type location struct {
	file string
	line int
}

// State is debug.rs's DebugState, adapted from a single-threaded Rust
// struct behind an Arc<Mutex<_>> to one guarded directly by its own
// sync.Mutex — the VM's dispatch loop calls Check from whatever
// goroutine is running the script, and the TCP handler calls
// ApplyCommand/PopEvent from a connection goroutine, so every field
// access goes through mu.
type State struct {
	mu sync.Mutex

	breakpoints map[location]bool
	mode        ExecutionMode
	lastFile    string
	lastLine    int

	commands []Command
	events   []Event

	resume chan struct{}

	varsFn func() map[string]string
	heapFn func() []string
}

// NewState builds a State in Running mode. varsFn/heapFn back
// GetVariables/GetHeap — supplied by the caller (cmd/dryad) since only
// it has a live *vm.VM to introspect.
func NewState(varsFn func() map[string]string, heapFn func() []string) *State {
	return &State{
		breakpoints: make(map[location]bool),
		mode:        Running,
		resume:      make(chan struct{}, 1),
		varsFn:      varsFn,
		heapFn:      heapFn,
	}
}

func (s *State) SetBreakpoints(file string, lines []int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.breakpoints {
		if k.file == file {
			delete(s.breakpoints, k)
		}
	}
	for _, ln := range lines {
		s.breakpoints[location{file, ln}] = true
	}
}

func (s *State) shouldPause(file string, line int) bool {
	switch s.mode {
	case Paused, Stepping:
		return true
	default:
		return s.breakpoints[location{file, line}]
	}
}

// Check implements vm.DebugHook. It blocks the calling (script)
// goroutine while paused, waking only when ApplyCommand delivers
// Continue or Step — mirroring the original's should_pause poll, but
// push-driven instead of the original's 20ms sleep loop.
func (s *State) Check(file string, line int) {
	s.mu.Lock()
	s.lastFile, s.lastLine = file, line
	pause := s.shouldPause(file, line)
	if pause {
		if s.mode == Stepping {
			s.events = append(s.events, Event{Type: EvtStepComplete, File: file, Line: line})
		} else {
			s.events = append(s.events, Event{Type: EvtBreakpointHit, File: file, Line: line})
		}
		s.mode = Paused
	}
	s.mu.Unlock()

	if !pause {
		return
	}
	<-s.resume
}

// ApplyCommand executes one queued DebugCommand against the state,
// appending whatever event it produces.
func (s *State) ApplyCommand(cmd Command) {
	switch cmd.Type {
	case CmdSetBreakpoints:
		s.SetBreakpoints(cmd.File, cmd.Lines)
	case CmdContinue:
		s.mu.Lock()
		s.mode = Running
		s.mu.Unlock()
		s.wake()
	case CmdStep:
		s.mu.Lock()
		s.mode = Stepping
		s.mu.Unlock()
		s.wake()
	case CmdPause:
		s.mu.Lock()
		s.mode = Paused
		s.events = append(s.events, Event{Type: EvtPaused})
		s.mu.Unlock()
	case CmdGetVariables:
		vars := map[string]string{}
		if s.varsFn != nil {
			vars = s.varsFn()
		}
		s.mu.Lock()
		s.events = append(s.events, Event{Type: EvtVariables, Variables: vars})
		s.mu.Unlock()
	case CmdGetHeap:
		var objs []string
		if s.heapFn != nil {
			objs = s.heapFn()
		}
		s.mu.Lock()
		s.events = append(s.events, Event{Type: EvtHeap, Heap: objs})
		s.mu.Unlock()
	default:
		s.mu.Lock()
		s.events = append(s.events, Event{Type: EvtError, Error: "unknown debug command: " + cmd.Type})
		s.mu.Unlock()
	}
}

func (s *State) wake() {
	select {
	case s.resume <- struct{}{}:
	default:
	}
}

// PopEvent removes and returns the oldest queued event, if any.
func (s *State) PopEvent() (Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.events) == 0 {
		return Event{}, false
	}
	ev := s.events[0]
	s.events = s.events[1:]
	return ev, true
}
