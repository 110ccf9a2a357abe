package job

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

// stubQueue serves canned queue output with "id status" lines and maps
// statuses the way the SGE client does.
type stubQueue struct {
	raw   string
	err   error
	calls int
}

func (s *stubQueue) QueueRaw(ctx context.Context) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	return s.raw, nil
}

func (s *stubQueue) FindEntry(id, raw string) string {
	for _, line := range strings.Split(raw, "\n") {
		fields := strings.Fields(line)
		if len(fields) > 0 && fields[0] == id {
			return line
		}
	}
	return ""
}

func (s *stubQueue) ParseStatus(entry string) (string, bool) {
	fields := strings.Fields(entry)
	if len(fields) < 2 {
		return "", false
	}
	return fields[1], true
}

func (s *stubQueue) StateOf(status string) State {
	switch status {
	case "r":
		return StateRunning
	case "qw":
		return StateWaiting
	case "Eqw":
		return StateError
	default:
		return StateUnknown
	}
}

type stubAccountant struct {
	records []AccountingRecord
	err     error
	calls   int
}

func (s *stubAccountant) Records(ctx context.Context, id string) ([]AccountingRecord, error) {
	s.calls++
	return s.records, s.err
}

func (s *stubAccountant) FilterRecords(records []AccountingRecord, owner string, maxAgeDays int) ([]AccountingRecord, error) {
	remaining := make([]AccountingRecord, 0, len(records))
	for _, r := range records {
		if r.Owner() == owner {
			remaining = append(remaining, r)
		}
	}
	return remaining, nil
}

type stubKiller struct {
	killed [][]string
	err    error
}

func (s *stubKiller) Kill(ctx context.Context, ids []string) error {
	s.killed = append(s.killed, ids)
	return s.err
}

func TestRefresh_Snapshot(t *testing.T) {
	queue := &stubQueue{raw: "101 r\n102 qw\n103 Eqw\n104 t"}

	cases := []struct {
		id      string
		status  string
		state   State
		present bool
		running bool
		errored bool
	}{
		{"101", "r", StateRunning, true, true, false},
		{"102", "qw", StateWaiting, true, false, false},
		{"103", "Eqw", StateError, true, false, true},
		// unknown status: present but neither running nor errored
		{"104", "t", StateUnknown, true, false, false},
		{"999", "", StateUnknown, false, false, false},
	}
	for _, c := range cases {
		j := New(c.id, "align", "", queue, nil, nil)
		snap := j.Refresh(context.Background())
		if snap.Present != c.present || snap.Running != c.running || snap.Errored != c.errored {
			t.Errorf("job %s: snapshot = %+v", c.id, snap)
		}
		if snap.State != c.state {
			t.Errorf("job %s: state = %q, want %q", c.id, snap.State, c.state)
		}
		if snap.Status != c.status {
			t.Errorf("job %s: status = %q, want %q", c.id, snap.Status, c.status)
		}
	}
}

func TestRefresh_QueueFailureDegradesToAbsent(t *testing.T) {
	queue := &stubQueue{err: fmt.Errorf("qstat exploded")}
	j := New("101", "align", "", queue, nil, nil)

	snap := j.Refresh(context.Background())
	if snap.Present || snap.Running || snap.Errored {
		t.Errorf("expected an absent snapshot on queue failure, got %+v", snap)
	}
	if snap.State != StateUnknown {
		t.Errorf("state = %q, want Unknown", snap.State)
	}
}

func TestPredicates_RepollEachCall(t *testing.T) {
	queue := &stubQueue{raw: "101 r"}
	j := New("101", "align", "", queue, nil, nil)

	ctx := context.Background()
	if !j.Present(ctx) || !j.Running(ctx) || j.Errored(ctx) {
		t.Error("unexpected predicate results for a running job")
	}
	if queue.calls != 3 {
		t.Errorf("expected 3 queue polls for 3 predicate calls, got %d", queue.calls)
	}

	// the job drops out of the queue; the next call must see it
	queue.raw = ""
	if j.Present(ctx) {
		t.Error("stale presence: predicate did not re-poll")
	}
}

func TestLogPath(t *testing.T) {
	j := New("4088513", "align", t.TempDir(), &stubQueue{}, nil, nil)

	p, err := j.LogPath("stdout")
	if err != nil {
		t.Fatalf("LogPath(stdout) error: %v", err)
	}
	if !strings.HasSuffix(p, "align.o4088513") {
		t.Errorf("stdout path = %q", p)
	}

	p, err = j.LogPath("stderr")
	if err != nil {
		t.Fatalf("LogPath(stderr) error: %v", err)
	}
	if !strings.HasSuffix(p, "align.e4088513") {
		t.Errorf("stderr path = %q", p)
	}

	if _, err := j.LogPath("both"); err == nil {
		t.Error("expected error for unknown log kind")
	}

	j = New("4088513", "align", "", &stubQueue{}, nil, nil)
	if _, err := j.LogPath("stdout"); err == nil {
		t.Error("expected error when log dir is unset")
	}
}

func passingRecord(owner string) AccountingRecord {
	return AccountingRecord{
		"owner":       owner,
		"jobnumber":   "2493898",
		"failed":      "0",
		"exit_status": "0",
	}
}

func TestValidateCompletion_Pass(t *testing.T) {
	queue := &stubQueue{raw: ""}
	acct := &stubAccountant{records: []AccountingRecord{passingRecord("kellys04")}}
	j := New("2493898", "align", "", queue, acct, nil)

	ok, err := j.ValidateCompletion(context.Background(), FilterOptions{Owner: "kellys04"})
	if err != nil {
		t.Fatalf("ValidateCompletion error: %v", err)
	}
	if !ok {
		t.Fatal("expected validation to pass")
	}

	notes := j.Validations()
	if len(notes) != 5 {
		t.Fatalf("expected 5 validation notes, got %d: %+v", len(notes), notes)
	}
	for _, n := range notes {
		if !n.Passed {
			t.Errorf("criterion %q unexpectedly failed: %s", n.Criterion, n.Note)
		}
	}
}

func TestValidateCompletion_StillInQueue(t *testing.T) {
	queue := &stubQueue{raw: "2493898 r"}
	acct := &stubAccountant{records: []AccountingRecord{passingRecord("kellys04")}}
	j := New("2493898", "align", "", queue, acct, nil)

	ok, err := j.ValidateCompletion(context.Background(), FilterOptions{Owner: "kellys04"})
	if err != nil {
		t.Fatalf("ValidateCompletion error: %v", err)
	}
	if ok {
		t.Fatal("a job still in the queue must not validate")
	}
	if acct.calls != 0 {
		t.Error("accounting must not be consulted while the job is still queued")
	}

	notes := j.Validations()
	if len(notes) != 1 || notes[0].Criterion != "queue_presence" || notes[0].Passed {
		t.Errorf("unexpected notes: %+v", notes)
	}
}

func TestValidateCompletion_NoRecordsAfterFiltering(t *testing.T) {
	queue := &stubQueue{raw: ""}
	acct := &stubAccountant{records: []AccountingRecord{passingRecord("someoneelse")}}
	j := New("2493898", "align", "", queue, acct, nil)

	ok, err := j.ValidateCompletion(context.Background(), FilterOptions{Owner: "kellys04"})
	if err != nil {
		t.Fatalf("ValidateCompletion error: %v", err)
	}
	if ok {
		t.Fatal("expected validation to fail with zero candidate records")
	}
}

func TestValidateCompletion_AmbiguousRecords(t *testing.T) {
	queue := &stubQueue{raw: ""}
	acct := &stubAccountant{records: []AccountingRecord{
		passingRecord("kellys04"),
		passingRecord("kellys04"),
	}}
	j := New("2493898", "align", "", queue, acct, nil)

	ok, err := j.ValidateCompletion(context.Background(), FilterOptions{Owner: "kellys04"})
	if ok {
		t.Fatal("ambiguous accounting must not validate")
	}
	if !errors.Is(err, ErrAmbiguousAccounting) {
		t.Fatalf("expected ErrAmbiguousAccounting, got %v", err)
	}
}

func TestValidateCompletion_NonzeroOutcome(t *testing.T) {
	failed := passingRecord("kellys04")
	failed["failed"] = "100 : assumedly after job"
	failed["exit_status"] = "137"

	queue := &stubQueue{raw: ""}
	acct := &stubAccountant{records: []AccountingRecord{failed}}
	j := New("2493898", "align", "", queue, acct, nil)

	ok, err := j.ValidateCompletion(context.Background(), FilterOptions{Owner: "kellys04"})
	if err != nil {
		t.Fatalf("ValidateCompletion error: %v", err)
	}
	if ok {
		t.Fatal("nonzero failed/exit_status must not validate")
	}
}

func TestValidateCompletion_AccountingFetchedOnce(t *testing.T) {
	queue := &stubQueue{raw: ""}
	acct := &stubAccountant{records: []AccountingRecord{passingRecord("kellys04")}}
	j := New("2493898", "align", "", queue, acct, nil)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := j.ValidateCompletion(ctx, FilterOptions{Owner: "kellys04"}); err != nil {
			t.Fatalf("ValidateCompletion error: %v", err)
		}
	}
	if acct.calls != 1 {
		t.Errorf("expected 1 accounting fetch across repeated validations, got %d", acct.calls)
	}
}

func TestMonitorRun_NoJobs(t *testing.T) {
	m := NewMonitor(nil, nil)
	start := time.Now()
	_, _, err := m.Run(context.Background(), nil)
	if !errors.Is(err, ErrNoJobs) {
		t.Fatalf("expected ErrNoJobs, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Error("empty input must fail fast, not wait out an interval")
	}
}

func TestMonitorRun_DrainAndKill(t *testing.T) {
	// 103 is stuck in error state; 101 and 102 run until the queue empties
	queue := &stubQueue{raw: "101 r\n102 r\n103 Eqw"}
	killer := &stubKiller{}

	jobs := []*Job{
		New("101", "one", "", queue, nil, nil),
		New("102", "two", "", queue, nil, nil),
		New("103", "three", "", queue, nil, nil),
	}

	m := NewMonitor(killer, nil)
	m.Interval = time.Millisecond
	go func() {
		time.Sleep(20 * time.Millisecond)
		queue.raw = ""
	}()

	completed, errored, err := m.Run(context.Background(), jobs)
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if len(completed) != 2 {
		t.Errorf("completed = %d jobs, want 2", len(completed))
	}
	if len(errored) != 1 || errored[0].ID != "103" {
		t.Fatalf("unexpected errored bucket: %+v", errored)
	}
	// errored jobs are killed with one batched call
	if len(killer.killed) != 1 || len(killer.killed[0]) != 1 || killer.killed[0][0] != "103" {
		t.Errorf("unexpected kill calls: %+v", killer.killed)
	}
}

func TestMonitorRun_KillErroredOff(t *testing.T) {
	queue := &stubQueue{raw: "103 Eqw"}
	killer := &stubKiller{}

	m := NewMonitor(killer, nil)
	m.Interval = time.Millisecond
	m.KillErrored = false

	_, errored, err := m.Run(context.Background(), []*Job{New("103", "three", "", queue, nil, nil)})
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if len(errored) != 1 {
		t.Fatalf("expected 1 errored job, got %d", len(errored))
	}
	if len(killer.killed) != 0 {
		t.Errorf("kill must not run when KillErrored is off: %+v", killer.killed)
	}
}

func TestMonitorRun_ContextCancel(t *testing.T) {
	queue := &stubQueue{raw: "101 r"}
	m := NewMonitor(nil, nil)
	m.Interval = 50 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, _, err := m.Run(ctx, []*Job{New("101", "one", "", queue, nil, nil)})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context deadline error, got %v", err)
	}
}

type stubNotifier struct {
	completed, errored int
	calls              int
}

func (s *stubNotifier) Notify(ctx context.Context, completed, errored []*Job) error {
	s.calls++
	s.completed = len(completed)
	s.errored = len(errored)
	return nil
}

func TestMonitorRun_Notifier(t *testing.T) {
	queue := &stubQueue{raw: ""}
	n := &stubNotifier{}

	m := NewMonitor(nil, nil).WithNotifier(n)
	m.Interval = time.Millisecond

	_, _, err := m.Run(context.Background(), []*Job{New("101", "one", "", queue, nil, nil)})
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if n.calls != 1 || n.completed != 1 || n.errored != 0 {
		t.Errorf("unexpected notification: %+v", n)
	}
}
