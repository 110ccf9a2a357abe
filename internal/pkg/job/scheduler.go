package job

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrSchedulerNotFound 表示调度器命令行工具不可用(未安装或不在 PATH 中).
	ErrSchedulerNotFound = errors.New("scheduler command not found")
	// ErrAmbiguousAccounting is returned when accounting filtering leaves more
	// than one candidate record for an identifier. Identifiers recycle; there
	// is no safe tie-break, so the ambiguity is surfaced instead of guessed.
	ErrAmbiguousAccounting = errors.New("ambiguous accounting records")
	// ErrEndTimeParse is returned when a record's end-time field cannot be
	// parsed during accounting filtering. It is distinct from the record
	// simply being filtered out.
	ErrEndTimeParse = errors.New("unable to parse accounting end time")
	// ErrNoJobs is returned by Monitor.Run when given nothing to monitor.
	ErrNoJobs = errors.New("no jobs to monitor")
)

// DefaultMaxAgeDays is the default accounting record age cutoff used when no
// limit is configured. 0 disables age filtering entirely.
const DefaultMaxAgeDays = 7

// SubmitRequest describes one unit of work to hand to the scheduler.
type SubmitRequest struct {
	// Command is the shell payload to run inside the compute job.
	Command string
	// Name is the human-readable job name passed to the scheduler.
	Name string
	// Params are extra raw flags appended to the submit command.
	Params []string
	// StdoutLogDir/StderrLogDir hold the job's log output. Empty means the
	// scheduler default (the submission working directory).
	StdoutLogDir string
	StderrLogDir string
	// PreCommands/PostCommands wrap Command inside the job script.
	PreCommands  string
	PostCommands string
	// Settle is how long to pause after submission so a burst of submits does
	// not overwhelm the scheduler.
	Settle time.Duration
}

// Submitter submits a unit of work and reports the scheduler-echoed identity.
// A malformed submission acknowledgement is fatal to the operation: without
// the echoed identifier there is no Job to track.
type Submitter interface {
	Submit(ctx context.Context, req SubmitRequest) (id, name string, err error)
}

// QueueClient is the live-queue side of a scheduler family.
type QueueClient interface {
	// QueueRaw runs the live-queue inspection command and returns its stdout.
	QueueRaw(ctx context.Context) (string, error)
	// FindEntry locates the queue-table line whose leading field equals id
	// exactly. Returns "" if the job is not present.
	FindEntry(id, raw string) string
	// ParseStatus extracts the scheduler status token from a matched entry.
	ParseStatus(entry string) (string, bool)
	// StateOf maps a raw status token to the semantic state vocabulary.
	// Unrecognized tokens map to StateUnknown.
	StateOf(status string) State
}

// Killer issues the scheduler delete command. All identifiers go into a
// single invocation to keep process-spawn overhead and scheduler API
// pressure down.
type Killer interface {
	Kill(ctx context.Context, ids []string) error
}

// Accountant fetches and filters historical accounting records for a
// finished job. Fetching may legitimately take tens of seconds against a
// real scheduler; callers must not retry aggressively.
type Accountant interface {
	Records(ctx context.Context, id string) ([]AccountingRecord, error)
	// FilterRecords drops records whose owner does not match and, when
	// maxAgeDays > 0, records whose end time is older than the cutoff.
	// End-time parse failures are reported via ErrEndTimeParse rather than
	// silently treated as filtered out.
	FilterRecords(records []AccountingRecord, owner string, maxAgeDays int) ([]AccountingRecord, error)
}

// Scheduler bundles the per-family capabilities. Variants (SGE, SLURM) are
// selected once at startup after a capability check, never mid-run.
type Scheduler interface {
	Submitter
	QueueClient
	Killer
}

// Package-level default clients for convenience wiring.
var (
	defaultScheduler  Scheduler
	defaultAccountant Accountant
)

// SetDefaultScheduler sets the package-level default Scheduler.
func SetDefaultScheduler(s Scheduler) { defaultScheduler = s }

// DefaultScheduler returns the package-level default Scheduler.
func DefaultScheduler() Scheduler { return defaultScheduler }

// SetDefaultAccountant sets the package-level default Accountant.
func SetDefaultAccountant(a Accountant) { defaultAccountant = a }

// DefaultAccountant returns the package-level default Accountant.
func DefaultAccountant() Accountant { return defaultAccountant }
