package job

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/user"
	"path/filepath"
)

// Job tracks one unit of work submitted to the batch scheduler. It owns the
// scheduler-assigned identifier, the name given at submission and an optional
// log directory. Everything else is derived: each state query re-polls the
// live queue and recomputes the snapshot, nothing is cached across calls.
// Callers that need several derived fields to agree must take one Snapshot
// via Refresh and read from that.
type Job struct {
	ID     string
	Name   string
	LogDir string

	queue  QueueClient
	acct   Accountant
	logger *slog.Logger

	// accounting output is cached after the first fetch; the query is slow
	// (10-30s against a real scheduler) and historical records don't change
	acctRecords []AccountingRecord
	acctFetched bool

	// append-only audit trail of completion validation criteria, cumulative
	// across repeated ValidateCompletion calls
	validations []ValidationNote
}

// Snapshot is one self-consistent view of a job's queue state, derived from a
// single live-queue query.
type Snapshot struct {
	Entry   string `json:"entry"`
	Status  string `json:"status"`
	State   State  `json:"state"`
	Present bool   `json:"present"`
	Running bool   `json:"running"`
	Errored bool   `json:"errored"`
}

// ValidationNote records the outcome of one completion validation criterion.
type ValidationNote struct {
	Criterion string `json:"criterion"`
	Passed    bool   `json:"passed"`
	Note      string `json:"note"`
}

// FilterOptions controls accounting record filtering during completion
// validation.
type FilterOptions struct {
	// Owner is the username records must match. Empty means the current
	// process user.
	Owner string `json:"owner"`
	// MaxAgeDays is the maximum allowed age of a record's end time.
	// 0 disables age filtering.
	MaxAgeDays int `json:"max_age_days"`
}

// New creates a Job handle for an already-submitted unit of work.
func New(id, name, logDir string, queue QueueClient, acct Accountant, logger *slog.Logger) *Job {
	if logger == nil {
		logger = slog.Default()
	}
	return &Job{
		ID:     id,
		Name:   name,
		LogDir: logDir,
		queue:  queue,
		acct:   acct,
		logger: logger,
	}
}

// Refresh re-queries the live queue for this identifier and derives a fresh
// Snapshot. It never fails: a missing queue client or a failed query is
// logged and degrades to an absent/Unknown snapshot.
func (j *Job) Refresh(ctx context.Context) Snapshot {
	var snap Snapshot
	if j.queue == nil {
		j.logger.Error("no queue client configured for job, treating as absent", "jobid", j.ID)
		return snap
	}
	raw, err := j.queue.QueueRaw(ctx)
	if err != nil {
		j.logger.Error("unable to query live queue, treating job as absent", "jobid", j.ID, "err", err)
		return snap
	}
	snap.Entry = j.queue.FindEntry(j.ID, raw)
	snap.Present = snap.Entry != ""
	if status, ok := j.queue.ParseStatus(snap.Entry); ok {
		snap.Status = status
		snap.State = j.queue.StateOf(status)
	} else {
		snap.State = StateUnknown
	}
	snap.Running = snap.Present && snap.State.IsRunning()
	snap.Errored = snap.Present && snap.State.IsError()
	return snap
}

// Present reports whether the job currently has a live-queue entry.
// Each call re-polls the scheduler.
func (j *Job) Present(ctx context.Context) bool { return j.Refresh(ctx).Present }

// Running reports whether the job is currently running.
// Each call re-polls the scheduler.
func (j *Job) Running(ctx context.Context) bool { return j.Refresh(ctx).Running }

// Errored reports whether the job is stuck in an error state.
// Each call re-polls the scheduler.
func (j *Job) Errored(ctx context.Context) bool { return j.Refresh(ctx).Errored }

// LogPath returns the expected path of the job's log file. kind is "stdout"
// or "stderr". A job named "align" with id "4088513" logs stdout to
// "align.o4088513" and stderr to "align.e4088513" under LogDir.
func (j *Job) LogPath(kind string) (string, error) {
	if j.LogDir == "" {
		return "", fmt.Errorf("log dir is not set for job %s (%s)", j.ID, j.Name)
	}
	var typeChar string
	switch kind {
	case "stdout":
		typeChar = ".o"
	case "stderr":
		typeChar = ".e"
	default:
		return "", fmt.Errorf("unknown log kind %q", kind)
	}
	p := filepath.Join(j.LogDir, j.Name+typeChar+j.ID)
	if _, err := os.Stat(p); err != nil {
		j.logger.Warn("job log file does not appear to exist", "path", p)
	}
	return p, nil
}

// Validations returns a copy of the accumulated validation audit trail.
func (j *Job) Validations() []ValidationNote {
	out := make([]ValidationNote, len(j.validations))
	copy(out, j.validations)
	return out
}

func (j *Job) note(criterion string, passed bool, format string, args ...any) {
	n := ValidationNote{
		Criterion: criterion,
		Passed:    passed,
		Note:      fmt.Sprintf(format, args...),
	}
	j.validations = append(j.validations, n)
	j.logger.Debug("completion validation criterion evaluated",
		"jobid", j.ID, "criterion", n.Criterion, "passed", n.Passed, "note", n.Note)
}

// ValidateCompletion checks whether the job completed successfully, consulting
// the scheduler's accounting history. It must only be called once the job has
// left the live queue. Each criterion appends a ValidationNote to the job's
// audit trail whether it passes or fails.
//
// The outcome is true only when accounting filtering leaves exactly one
// candidate record and that record has failed == 0 and exit_status == 0.
// Zero candidates fail validation; more than one returns
// ErrAmbiguousAccounting, ties are never broken arbitrarily.
func (j *Job) ValidateCompletion(ctx context.Context, opts FilterOptions) (bool, error) {
	if j.Refresh(ctx).Present {
		j.note("queue_presence", false,
			"job %s is still present in the live queue and has not completed yet; job cannot be validated", j.ID)
		return false, nil
	}
	j.note("queue_presence", true, "job %s is not present in the live queue and has completed", j.ID)

	if j.acct == nil {
		j.note("accounting_client", false, "no accounting client configured; job cannot be validated")
		return false, fmt.Errorf("no accounting client configured for job %s", j.ID)
	}

	if !j.acctFetched {
		records, err := j.acct.Records(ctx, j.ID)
		if err != nil {
			return false, fmt.Errorf("unable to fetch accounting records for job %s: %w", j.ID, err)
		}
		j.acctRecords = records
		j.acctFetched = true
	}

	owner := opts.Owner
	if owner == "" {
		u, err := user.Current()
		if err != nil {
			return false, fmt.Errorf("unable to determine current user for accounting filter: %w", err)
		}
		owner = u.Username
	}

	remaining, err := j.acct.FilterRecords(j.acctRecords, owner, opts.MaxAgeDays)
	if err != nil {
		return false, err
	}

	if len(remaining) == 0 {
		j.note("has_accounting_entries", false,
			"no entries were left in the accounting output after filtering; job cannot be validated")
		return false, nil
	}
	j.note("has_accounting_entries", true,
		"at least one entry was left in the accounting output after filtering")

	if len(remaining) > 1 {
		j.note("single_accounting_entry", false,
			"%d entries were left in the accounting output after filtering; job cannot be validated", len(remaining))
		return false, fmt.Errorf("job %s: %w: %d candidates remain", j.ID, ErrAmbiguousAccounting, len(remaining))
	}
	j.note("single_accounting_entry", true,
		"only one entry was left in the accounting output after filtering")

	record := remaining[0]

	failed, err := record.FailedCode()
	if err != nil {
		return false, fmt.Errorf("job %s: %w", j.ID, err)
	}
	j.note("failed_is_zero", failed == 0,
		`the "failed" accounting value for the job was %d; >0 means the job failed`, failed)

	exitStatus, err := record.ExitStatus()
	if err != nil {
		return false, fmt.Errorf("job %s: %w", j.ID, err)
	}
	j.note("exit_status_is_zero", exitStatus == 0,
		`the "exit_status" accounting value for the job was %d; >0 means the job failed`, exitStatus)

	return failed == 0 && exitStatus == 0, nil
}
