package job

import (
	"fmt"
	"strconv"
	"strings"
)

// AccountingRecord is one parsed block of scheduler accounting output for a
// historical job: a mapping of field name to raw string value. Records for
// recycled identifiers share the same id, so a query can legitimately return
// several of them; FilterRecords narrows the set down.
//
// Every backend normalizes at least the "owner", "end_time", "failed" and
// "exit_status" fields.
type AccountingRecord map[string]string

// Owner returns the record's owner field.
func (r AccountingRecord) Owner() string { return r["owner"] }

// FailedCode parses the record's "failed" field. The value is not always a
// plain digit, e.g. "100 : assumedly after job"; only the leading integer
// token is parsed.
func (r AccountingRecord) FailedCode() (int, error) {
	fields := strings.Fields(r["failed"])
	if len(fields) == 0 {
		return 0, fmt.Errorf("accounting record has empty failed field")
	}
	v, err := strconv.Atoi(fields[0])
	if err != nil {
		return 0, fmt.Errorf("unable to parse failed field %q: %w", r["failed"], err)
	}
	return v, nil
}

// ExitStatus parses the record's "exit_status" field.
func (r AccountingRecord) ExitStatus() (int, error) {
	v, err := strconv.Atoi(strings.TrimSpace(r["exit_status"]))
	if err != nil {
		return 0, fmt.Errorf("unable to parse exit_status field %q: %w", r["exit_status"], err)
	}
	return v, nil
}
