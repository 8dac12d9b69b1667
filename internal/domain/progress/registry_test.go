package progress

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func strPtr(s string) *string { return &s }

func methodPtr(m Method) *Method { return &m }

func TestCreateSession(t *testing.T) {
	reg := NewRegistry()
	if !reg.CreateSession("s1", "cbc.pdf") {
		t.Fatal("expected first create to report a new session")
	}

	s, ok := reg.GetSession("s1")
	if !ok {
		t.Fatal("expected session to exist")
	}
	if s.Stage != StageUploading || s.Progress != 0 {
		t.Errorf("expected UPLOADING/0, got %s/%d", s.Stage, s.Progress)
	}
	if s.FileName != "cbc.pdf" {
		t.Errorf("expected file name cbc.pdf, got %s", s.FileName)
	}
	if s.Method != nil || s.Error != nil || s.EstimatedTotal != nil {
		t.Error("expected nil method, error and estimate on a new session")
	}
}

func TestCreateSession_DuplicateIsNoop(t *testing.T) {
	reg := NewRegistry()
	reg.CreateSession("s1", "first.pdf")
	reg.UpdateProgress("s1", StageValidating, 10, "Validating", nil, nil)
	if reg.CreateSession("s1", "second.pdf") {
		t.Error("expected duplicate create to report false")
	}

	s, _ := reg.GetSession("s1")
	if s.FileName != "first.pdf" || s.Stage != StageValidating {
		t.Errorf("duplicate create must not reset the session, got %+v", s)
	}
}

func TestUpdateProgress_Clamps(t *testing.T) {
	tests := []struct {
		name string
		in   int
		want int
	}{
		{"negative", -20, 0},
		{"zero", 0, 0},
		{"mid", 55, 55},
		{"hundred", 100, 100},
		{"over", 250, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := NewRegistry()
			reg.CreateSession("s", "f")
			reg.UpdateProgress("s", StageExtracting, tt.in, "x", nil, nil)
			s, _ := reg.GetSession("s")
			if s.Progress != tt.want {
				t.Errorf("expected %d, got %d", tt.want, s.Progress)
			}
		})
	}
}

func TestUpdateProgress_ErrorForcesFailed(t *testing.T) {
	stages := []Stage{StageValidating, StageExtracting, StageLLMParsing, StageSaving, StageComplete}
	for _, stage := range stages {
		t.Run(string(stage), func(t *testing.T) {
			reg := NewRegistry()
			reg.CreateSession("s", "f")
			reg.UpdateProgress("s", StageExtracting, 30, "Extracting", nil, nil)
			reg.UpdateProgress("s", stage, 80, "boom", nil, strPtr("ocr engine crashed"))

			s, _ := reg.GetSession("s")
			if s.Stage != StageFailed {
				t.Fatalf("expected FAILED, got %s", s.Stage)
			}
			if s.Error == nil || *s.Error != "ocr engine crashed" {
				t.Errorf("expected error recorded, got %v", s.Error)
			}
			if s.Progress != 0 {
				t.Errorf("expected progress reset to 0 on FAILED, got %d", s.Progress)
			}
		})
	}
}

func TestUpdateProgress_Monotonic(t *testing.T) {
	reg := NewRegistry()
	reg.CreateSession("s", "f")
	reg.UpdateProgress("s", StageLLMParsing, 50, "Parsing", nil, nil)
	reg.UpdateProgress("s", StageLLMAnalyzing, 20, "Analyzing", nil, nil)

	s, _ := reg.GetSession("s")
	if s.Progress != 50 {
		t.Errorf("expected progress to stay at 50, got %d", s.Progress)
	}
	if s.Stage != StageLLMAnalyzing {
		t.Errorf("expected stage to advance, got %s", s.Stage)
	}
}

func TestUpdateProgress_RecordsMethod(t *testing.T) {
	reg := NewRegistry()
	reg.CreateSession("s", "f")
	reg.UpdateProgress("s", StageExtracting, 30, "Extracting", methodPtr(MethodFastExtraction), nil)
	reg.UpdateProgress("s", StageSaving, 90, "Saving", nil, nil)

	s, _ := reg.GetSession("s")
	if s.Method == nil || *s.Method != MethodFastExtraction {
		t.Errorf("expected method to persist across updates, got %v", s.Method)
	}
}

func TestUpdateProgress_Estimate(t *testing.T) {
	clock := newFakeClock()
	reg := NewRegistry(WithClock(clock.Now))
	reg.CreateSession("s", "f")

	reg.UpdateProgress("s", StageValidating, 0, "Validating", nil, nil)
	s, _ := reg.GetSession("s")
	if s.EstimatedTotal != nil {
		t.Fatal("expected no estimate at 0%")
	}

	clock.Advance(10 * time.Second)
	reg.UpdateProgress("s", StageLLMParsing, 50, "Parsing", nil, nil)
	s, _ = reg.GetSession("s")
	if s.EstimatedTotal == nil || *s.EstimatedTotal != 20*time.Second {
		t.Fatalf("expected 20s estimate, got %v", s.EstimatedTotal)
	}

	clock.Advance(5 * time.Second)
	reg.FailSession("s", "boom")
	s, _ = reg.GetSession("s")
	if s.EstimatedTotal == nil || *s.EstimatedTotal != 20*time.Second {
		t.Errorf("expected prior estimate kept when progress is 0, got %v", s.EstimatedTotal)
	}
}

func TestUnknownSession_IsIgnored(t *testing.T) {
	reg := NewRegistry()
	reg.CreateSession("known", "f")
	before := reg.GetAllSessions()

	reg.UpdateProgress("ghost", StageExtracting, 30, "x", nil, nil)
	reg.UpdateProgress("ghost", StageExtracting, 30, "x", nil, strPtr("err"))
	reg.CompleteSession("ghost", map[string]any{"report_id": "r"})
	reg.FailSession("ghost", "err")
	reg.CleanupSession("ghost")

	after := reg.GetAllSessions()
	if len(after) != len(before) || reg.Len() != 1 {
		t.Fatalf("expected registry unchanged, had %d now %d", len(before), len(after))
	}
	if _, ok := reg.GetSession("ghost"); ok {
		t.Error("unknown session must not be created")
	}
	if after[0].Stage != before[0].Stage || after[0].Progress != before[0].Progress {
		t.Error("known session must not be touched")
	}
}

func TestUpdateProgress_IgnoresUnknownStageAndMethod(t *testing.T) {
	reg := NewRegistry()
	reg.CreateSession("s", "f")
	reg.UpdateProgress("s", StageExtracting, 30, "Extracting", methodPtr(MethodFastExtraction), nil)

	reg.UpdateProgress("s", Stage("PAUSED"), 60, "x", nil, nil)
	s, _ := reg.GetSession("s")
	if s.Stage != StageExtracting || s.Progress != 30 {
		t.Fatalf("expected unknown stage to be ignored, got %s at %d", s.Stage, s.Progress)
	}

	reg.UpdateProgress("s", StageSaving, 90, "Saving", methodPtr(Method("guesswork")), nil)
	s, _ = reg.GetSession("s")
	if s.Stage != StageSaving || s.Method == nil || *s.Method != MethodFastExtraction {
		t.Errorf("expected unknown method to leave fast_extraction, got %s %v", s.Stage, s.Method)
	}

	// An error still fails the session whatever stage is given.
	reg.UpdateProgress("s", Stage("PAUSED"), 0, "x", nil, strPtr("boom"))
	s, _ = reg.GetSession("s")
	if s.Stage != StageFailed {
		t.Errorf("expected FAILED, got %s", s.Stage)
	}
}

func TestSession_VisibleTo(t *testing.T) {
	reg := NewRegistry()
	reg.CreateOwnedSession("owned", "f", "pat-1")
	reg.CreateSession("open", "f")

	owned, _ := reg.GetSession("owned")
	if owned.Owner != "pat-1" {
		t.Fatalf("expected owner pat-1, got %q", owned.Owner)
	}
	if !owned.VisibleTo("pat-1", false) || !owned.VisibleTo("ops", true) {
		t.Error("expected owner and admin to see the session")
	}
	if owned.VisibleTo("pat-2", false) {
		t.Error("expected other subjects to be refused")
	}

	open, _ := reg.GetSession("open")
	if !open.VisibleTo("anyone", false) {
		t.Error("expected unowned session to be visible")
	}
}

func TestCompleteSession_MergesFinalData(t *testing.T) {
	reg := NewRegistry()
	reg.CreateSession("s", "f")
	reg.CompleteSession("s", map[string]any{
		"patient_id":            "p1",
		"report_id":             "r1",
		"tests_stored":          3,
		"llm_analysis_complete": true,
	})

	s, _ := reg.GetSession("s")
	if s.Stage != StageComplete || s.Progress != 100 {
		t.Fatalf("expected COMPLETE/100, got %s/%d", s.Stage, s.Progress)
	}
	if s.Result["report_id"] != "r1" || s.Result["tests_stored"] != 3 {
		t.Errorf("unexpected result %v", s.Result)
	}
}

func TestTerminalSessions_AcceptNoTransitions(t *testing.T) {
	reg := NewRegistry()
	reg.CreateSession("done", "f")
	reg.CompleteSession("done", map[string]any{"tests_stored": 1})
	reg.UpdateProgress("done", StageExtracting, 30, "late", nil, nil)
	reg.FailSession("done", "late failure")
	reg.CompleteSession("done", map[string]any{"tests_stored": 99})

	s, _ := reg.GetSession("done")
	if s.Stage != StageComplete || s.Progress != 100 || s.Error != nil {
		t.Errorf("completed session changed: %+v", s)
	}
	if s.Result["tests_stored"] != 1 {
		t.Errorf("result changed after completion: %v", s.Result)
	}

	reg.CreateSession("failed", "f")
	reg.FailSession("failed", "bad input")
	reg.CompleteSession("failed", nil)
	s, _ = reg.GetSession("failed")
	if s.Stage != StageFailed || *s.Error != "bad input" {
		t.Errorf("failed session changed: %+v", s)
	}

	reg.CleanupSession("failed")
	if _, ok := reg.GetSession("failed"); ok {
		t.Error("cleanup must remove terminal sessions")
	}
}

func TestCleanupSession_Idempotent(t *testing.T) {
	reg := NewRegistry()
	reg.CreateSession("s", "f")
	reg.CleanupSession("s")
	reg.CleanupSession("s")
	if reg.Len() != 0 {
		t.Errorf("expected empty registry, got %d", reg.Len())
	}
}

func TestSnapshotsAreCopies(t *testing.T) {
	reg := NewRegistry()
	reg.CreateSession("s", "f")
	reg.UpdateProgress("s", StageExtracting, 30, "x", methodPtr(MethodFastExtraction), nil)
	reg.CompleteSession("s", map[string]any{"report_id": "r1"})

	s, _ := reg.GetSession("s")
	s.Progress = 1
	*s.Method = MethodOCRLLMFallback
	s.Result["report_id"] = "tampered"

	all := reg.GetAllSessions()
	all[0].Result["report_id"] = "tampered again"

	again, _ := reg.GetSession("s")
	if again.Progress != 100 {
		t.Errorf("progress changed through copy: %d", again.Progress)
	}
	if *again.Method != MethodFastExtraction {
		t.Errorf("method changed through copy: %s", *again.Method)
	}
	if again.Result["report_id"] != "r1" {
		t.Errorf("result changed through copy: %v", again.Result)
	}
}

func TestNotifier_CalledPerAppliedMutation(t *testing.T) {
	var mu sync.Mutex
	var seen []Stage
	reg := NewRegistry(WithNotifier(NotifierFunc(func(s Session) {
		mu.Lock()
		seen = append(seen, s.Stage)
		mu.Unlock()
	})))

	reg.CreateSession("s", "f")
	reg.UpdateProgress("s", StageValidating, 10, "v", nil, nil)
	reg.UpdateProgress("ghost", StageValidating, 10, "v", nil, nil)
	reg.CompleteSession("s", nil)
	reg.FailSession("s", "ignored")

	want := []Stage{StageUploading, StageValidating, StageComplete}
	if len(seen) != len(want) {
		t.Fatalf("expected %v, got %v", want, seen)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("notification %d: expected %s, got %s", i, want[i], seen[i])
		}
	}
}

func TestNotifier_MayReadRegistry(t *testing.T) {
	var reg *Registry
	var got int
	reg = NewRegistry(WithNotifier(NotifierFunc(func(s Session) {
		// Runs outside the lock, so reading back must not deadlock.
		if cur, ok := reg.GetSession(s.ID); ok {
			got = cur.Progress
		}
	})))

	reg.CreateSession("s", "f")
	reg.UpdateProgress("s", StageExtracting, 30, "x", nil, nil)
	if got != 30 {
		t.Errorf("expected notifier to observe 30, got %d", got)
	}
}

func TestRegistry_ConcurrentSessions(t *testing.T) {
	reg := NewRegistry()
	const sessions = 40
	var wg sync.WaitGroup

	for i := 0; i < sessions; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("s-%d", i)
			reg.CreateSession(id, "f")
			for p := 0; p <= 90; p += 10 {
				reg.UpdateProgress(id, StageExtracting, p, "x", nil, nil)
			}
			if i%2 == 0 {
				reg.CompleteSession(id, map[string]any{"i": i})
			} else {
				reg.FailSession(id, "odd")
			}
		}(i)
	}

	// Concurrent reader.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			for _, s := range reg.GetAllSessions() {
				if s.Progress < 0 || s.Progress > 100 {
					t.Errorf("torn progress %d", s.Progress)
				}
			}
		}
	}()

	wg.Wait()
	<-done

	all := reg.GetAllSessions()
	if len(all) != sessions {
		t.Fatalf("expected %d sessions, got %d", sessions, len(all))
	}
	for _, s := range all {
		if !s.Stage.Terminal() {
			t.Errorf("session %s not terminal: %s", s.ID, s.Stage)
		}
	}
}

func TestSession_ToResponse(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	total := 40 * time.Second
	s := Session{
		ID:             "s",
		Stage:          StageLLMParsing,
		Progress:       50,
		StartedAt:      start,
		UpdatedAt:      start.Add(20 * time.Second),
		EstimatedTotal: &total,
	}

	resp := s.ToResponse(start.Add(30 * time.Second))
	if resp.ElapsedSeconds != 30 {
		t.Errorf("expected 30s elapsed, got %v", resp.ElapsedSeconds)
	}
	if resp.EstimatedRemainingSeconds == nil || *resp.EstimatedRemainingSeconds != 10 {
		t.Errorf("expected 10s remaining, got %v", resp.EstimatedRemainingSeconds)
	}

	s.Stage = StageComplete
	resp = s.ToResponse(start.Add(time.Hour))
	if resp.ElapsedSeconds != 20 {
		t.Errorf("terminal elapsed should stop at last update, got %v", resp.ElapsedSeconds)
	}
	if resp.EstimatedRemainingSeconds != nil {
		t.Error("terminal session has no remaining estimate")
	}
}
