package debugserver

import (
	"testing"
	"time"
)

func TestSetBreakpointsTriggersCheckPause(t *testing.T) {
	s := NewState(nil, nil)
	s.SetBreakpoints("main.dryad", []int{10})

	done := make(chan struct{})
	go func() {
		s.Check("main.dryad", 10)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	ev, ok := s.PopEvent()
	if !ok || ev.Type != EvtBreakpointHit || ev.Line != 10 {
		t.Fatalf("expected breakpoint_hit event at line 10, got %v ok=%v", ev, ok)
	}

	select {
	case <-done:
		t.Fatal("expected Check to still be blocked awaiting resume")
	default:
	}

	s.ApplyCommand(Command{Type: CmdContinue})
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected Continue to unblock Check")
	}
}

func TestCheckDoesNotBlockWithoutBreakpoint(t *testing.T) {
	s := NewState(nil, nil)

	done := make(chan struct{})
	go func() {
		s.Check("main.dryad", 1)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected Check to return immediately with no breakpoint set")
	}
	if _, ok := s.PopEvent(); ok {
		t.Fatal("expected no event when nothing paused")
	}
}

func TestStepModePausesOnNextLine(t *testing.T) {
	s := NewState(nil, nil)
	s.ApplyCommand(Command{Type: CmdStep})

	done := make(chan struct{})
	go func() {
		s.Check("main.dryad", 5)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	ev, ok := s.PopEvent()
	if !ok || ev.Type != EvtStepComplete || ev.Line != 5 {
		t.Fatalf("expected step_complete event, got %v ok=%v", ev, ok)
	}
	s.ApplyCommand(Command{Type: CmdContinue})
	<-done
}

func TestGetVariablesAndHeapUseInjectedFuncs(t *testing.T) {
	s := NewState(
		func() map[string]string { return map[string]string{"x": "1"} },
		func() []string { return []string{"#1 array(len=0)"} },
	)

	s.ApplyCommand(Command{Type: CmdGetVariables})
	ev, ok := s.PopEvent()
	if !ok || ev.Type != EvtVariables || ev.Variables["x"] != "1" {
		t.Fatalf("expected variables event with x=1, got %v ok=%v", ev, ok)
	}

	s.ApplyCommand(Command{Type: CmdGetHeap})
	ev, ok = s.PopEvent()
	if !ok || ev.Type != EvtHeap || len(ev.Heap) != 1 {
		t.Fatalf("expected heap event with 1 entry, got %v ok=%v", ev, ok)
	}
}

func TestUnknownCommandProducesErrorEvent(t *testing.T) {
	s := NewState(nil, nil)
	s.ApplyCommand(Command{Type: "bogus"})

	ev, ok := s.PopEvent()
	if !ok || ev.Type != EvtError {
		t.Fatalf("expected error event for unknown command, got %v ok=%v", ev, ok)
	}
}

func TestPauseCommandEmitsPausedEvent(t *testing.T) {
	s := NewState(nil, nil)
	s.ApplyCommand(Command{Type: CmdPause})

	ev, ok := s.PopEvent()
	if !ok || ev.Type != EvtPaused {
		t.Fatalf("expected paused event, got %v ok=%v", ev, ok)
	}
}

func TestSetBreakpointsReplacesPerFile(t *testing.T) {
	s := NewState(nil, nil)
	s.SetBreakpoints("a.dryad", []int{1, 2})
	s.SetBreakpoints("a.dryad", []int{3})

	if s.shouldPause("a.dryad", 1) {
		t.Fatal("expected line 1 breakpoint to have been cleared")
	}
	if !s.shouldPause("a.dryad", 3) {
		t.Fatal("expected line 3 breakpoint to be set")
	}
}
