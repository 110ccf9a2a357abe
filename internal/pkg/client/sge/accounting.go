package sge

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gridtrack/internal/pkg/job"
)

// recordDelim separates the per-job blocks in qacct output.
const recordDelim = "=============================================================="

// endTimeLayout matches the locale-dependent timestamp qacct emits for
// end_time, e.g. "Mon Sep  4 15:10:10 2017". The format is known to be
// inconsistent on some installations; parse failures surface as
// job.ErrEndTimeParse instead of being swallowed.
const endTimeLayout = time.ANSIC

// AccountingRaw 执行 qacct -j 获取作业的历史账目记录原始输出.
// 该命令非常慢, 对真实调度器可能需要 10-30 秒以上, 调用方不应激进重试.
func (c *Client) AccountingRaw(ctx context.Context, id string) (string, error) {
	cmd := c.execCommand(ctx, "qacct", "-j", id)
	out, err := cmd.CombinedOutput()
	if err != nil {
		c.logger.Error("unable to query accounting records", "jobid", id, "output", string(out), "cmd", cmd.String(), "err", err)
		return "", fmt.Errorf("failed to exec qacct command")
	}
	return string(out), nil
}

// Records fetches and parses the accounting blocks for one identifier.
// Identifiers wrap around over time, so several historical jobs can share
// one id and several records can come back.
func (c *Client) Records(ctx context.Context, id string) ([]job.AccountingRecord, error) {
	raw, err := c.AccountingRaw(ctx, id)
	if err != nil {
		return nil, err
	}
	return ParseAccounting(raw), nil
}

// ParseAccounting splits qacct output on the record delimiter and parses each
// block's "field<whitespace>value" lines. Lines that do not split into two
// parts are skipped. Records keep the order they were found in.
func ParseAccounting(raw string) []job.AccountingRecord {
	records := make([]job.AccountingRecord, 0)
	for _, block := range strings.Split(raw, recordDelim) {
		if strings.TrimSpace(block) == "" {
			continue
		}
		record := make(job.AccountingRecord)
		for _, line := range strings.Split(block, "\n") {
			field, value, ok := splitFieldLine(line)
			if !ok {
				continue
			}
			record[field] = value
		}
		if len(record) > 0 {
			records = append(records, record)
		}
	}
	return records
}

// splitFieldLine splits one accounting line on the first whitespace run into
// (field, value). Interior spacing in the value is preserved; timestamps such
// as "Mon Sep  4 15:10:10 2017" depend on it. Lines producing fewer than two
// parts carry nothing and are skipped.
func splitFieldLine(line string) (field, value string, ok bool) {
	trimmed := strings.TrimSpace(line)
	i := strings.IndexAny(trimmed, " \t")
	if i < 0 {
		return "", "", false
	}
	field = trimmed[:i]
	value = strings.TrimSpace(trimmed[i+1:])
	if value == "" {
		return "", "", false
	}
	return field, value, true
}

// FilterRecords removes records whose owner does not match and, when
// maxAgeDays > 0, records whose end_time is older than the cutoff. An
// end_time that fails to parse is an error distinct from the record being
// filtered out.
func (c *Client) FilterRecords(records []job.AccountingRecord, owner string, maxAgeDays int) ([]job.AccountingRecord, error) {
	remaining := make([]job.AccountingRecord, 0, len(records))
	for _, record := range records {
		if record.Owner() != owner {
			continue
		}
		if maxAgeDays > 0 {
			endTime, err := time.Parse(endTimeLayout, record["end_time"])
			if err != nil {
				return nil, fmt.Errorf("%w: %q: %v", job.ErrEndTimeParse, record["end_time"], err)
			}
			if time.Since(endTime) > time.Duration(maxAgeDays)*24*time.Hour {
				continue
			}
		}
		remaining = append(remaining, record)
	}
	return remaining, nil
}
