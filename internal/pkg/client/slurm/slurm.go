// Package slurm wraps the SLURM command line tools (sbatch, squeue, sinfo,
// scancel) behind the job.Scheduler interface and exposes read-only cluster
// telemetry for placement decisions.
package slurm

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"gridtrack/internal/pkg/job"
)

// ExecCommandFunc 定义 exec.CommandContext 的函数签名，方便 mock 测试.
type ExecCommandFunc func(ctx context.Context, name string, args ...string) *exec.Cmd

// Client 提供使用命令与 SLURM 调度器交互的功能.
type Client struct {
	execCommand ExecCommandFunc
	logger      *slog.Logger
}

func (c *Client) Set(exec ExecCommandFunc, logger *slog.Logger) *Client {
	c.execCommand = exec
	c.logger = logger
	return c
}

// Package-level default Client for convenience wiring.
var defaultClient *Client

// SetDefault sets the package-level default SLURM Client.
func SetDefault(c *Client) { defaultClient = c }

// Default returns the package-level default SLURM Client.
func Default() *Client { return defaultClient }

// Detect verifies the SLURM command line tools are reachable. A missing
// binary is fatal at startup rather than retried mid-run.
func Detect() error {
	for _, bin := range []string{"sbatch", "squeue", "scancel", "sinfo"} {
		if _, err := exec.LookPath(bin); err != nil {
			return fmt.Errorf("%w: %s: %v", job.ErrSchedulerNotFound, bin, err)
		}
	}
	return nil
}

// Row is one parsed line of SLURM table output, keyed by column header.
type Row map[string]string

// ParsePipeTable converts the pipe-delimited table output of
// "squeue -o %all" / "sinfo -o %all" into a list of header-keyed rows.
// Rows whose field count does not match the header are dropped, not fatal;
// well-formed rows parse regardless.
func ParsePipeTable(raw string) []Row {
	return parseTable(raw, func(line string) []string {
		parts := strings.Split(line, "|")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	})
}

// ParseFieldsTable converts whitespace-aligned table output, such as
// "sinfo -O nodeaiot,partitionname", into header-keyed rows. Mismatched rows
// are dropped like in ParsePipeTable.
func ParseFieldsTable(raw string) []Row {
	return parseTable(raw, strings.Fields)
}

func parseTable(raw string, split func(string) []string) []Row {
	scanner := bufio.NewScanner(strings.NewReader(raw))
	if !scanner.Scan() {
		return nil
	}
	header := split(scanner.Text())

	rows := make([]Row, 0)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		parts := split(line)
		if len(parts) != len(header) {
			continue
		}
		row := make(Row, len(header))
		for i, col := range header {
			row[col] = parts[i]
		}
		rows = append(rows, row)
	}
	return rows
}

// Squeue 执行 squeue -o %all 获取调度队列中全部作业信息.
func (c *Client) Squeue(ctx context.Context) ([]Row, error) {
	cmd := c.execCommand(ctx, "squeue", "-o", "%all")
	out, err := cmd.CombinedOutput()
	if err != nil {
		c.logger.Error("unable to get all jobs in scheduling queue", "output", string(out), "cmd", cmd.String(), "err", err)
		return nil, fmt.Errorf("failed to exec squeue command")
	}
	return ParsePipeTable(string(out)), nil
}

// Sinfo 执行 sinfo -o %all 获取集群节点信息.
func (c *Client) Sinfo(ctx context.Context) ([]Row, error) {
	cmd := c.execCommand(ctx, "sinfo", "-o", "%all")
	out, err := cmd.CombinedOutput()
	if err != nil {
		c.logger.Error("unable to get cluster node information", "output", string(out), "cmd", cmd.String(), "err", err)
		return nil, fmt.Errorf("failed to exec sinfo command")
	}
	return ParsePipeTable(string(out)), nil
}

// QueueRaw runs plain squeue and returns the raw fixed-column table:
//
//	JOBID PARTITION NAME USER ST TIME NODES NODELIST(REASON)
func (c *Client) QueueRaw(ctx context.Context) (string, error) {
	cmd := c.execCommand(ctx, "squeue")
	out, err := cmd.CombinedOutput()
	if err != nil {
		c.logger.Error("unable to query the live queue", "output", string(out), "cmd", cmd.String(), "err", err)
		return "", fmt.Errorf("failed to exec squeue command")
	}
	return string(out), nil
}

// FindEntry locates the squeue line whose leading field equals id exactly.
// Returns "" when the job is absent.
func (c *Client) FindEntry(id, raw string) string {
	if id == "" {
		return ""
	}
	scanner := bufio.NewScanner(strings.NewReader(raw))
	for scanner.Scan() {
		line := scanner.Text()
		fields := strings.Fields(line)
		if len(fields) > 0 && fields[0] == id {
			return line
		}
	}
	return ""
}

// ParseStatus extracts the compact status token ("R", "PD", ...) from a
// matched squeue entry; the token sits in the fixed ST column.
func (c *Client) ParseStatus(entry string) (string, bool) {
	fields := strings.Fields(entry)
	if len(fields) < 5 {
		return "", false
	}
	return fields[4], true
}

// StateOf maps a squeue status token to the semantic state vocabulary.
// Unrecognized tokens map to StateUnknown.
func (c *Client) StateOf(status string) job.State {
	switch status {
	case "R", "CG":
		return job.StateRunning
	case "PD":
		return job.StateWaiting
	case "F", "NF", "BF", "TO", "OOM":
		return job.StateError
	default:
		return job.StateUnknown
	}
}

// Submit hands req.Command to sbatch via --wrap and parses the
// acknowledgement line "Submitted batch job <id>". A malformed
// acknowledgement is fatal to the submission.
func (c *Client) Submit(ctx context.Context, req job.SubmitRequest) (string, string, error) {
	name := req.Name
	if name == "" {
		name = "gridtrack"
	}

	args := []string{"--job-name", name}
	if req.StdoutLogDir != "" {
		args = append(args, "--output", fmt.Sprintf("%s/%s.o%%j", strings.TrimRight(req.StdoutLogDir, "/"), name))
	}
	if req.StderrLogDir != "" {
		args = append(args, "--error", fmt.Sprintf("%s/%s.e%%j", strings.TrimRight(req.StderrLogDir, "/"), name))
	}
	args = append(args, req.Params...)

	payload := req.Command
	if req.PreCommands != "" {
		payload = req.PreCommands + "\n" + payload
	}
	if req.PostCommands != "" {
		payload = payload + "\n" + req.PostCommands
	}
	args = append(args, "--wrap", payload)

	cmd := c.execCommand(ctx, "sbatch", args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		c.logger.Error("unable to submit job", "output", string(out), "cmd", cmd.String(), "err", err)
		return "", "", fmt.Errorf("failed to exec sbatch command")
	}

	id, err := parseSbatchAck(string(out))
	if err != nil {
		c.logger.Error("unable to parse sbatch acknowledgement", "output", string(out), "err", err)
		return "", "", err
	}

	if req.Settle > 0 {
		select {
		case <-ctx.Done():
			return id, name, ctx.Err()
		case <-time.After(req.Settle):
		}
	}

	return id, name, nil
}

// parseSbatchAck parses "Submitted batch job 123456".
func parseSbatchAck(text string) (string, error) {
	for _, line := range strings.Split(text, "\n") {
		fields := strings.Fields(line)
		if len(fields) >= 4 && fields[0] == "Submitted" && fields[1] == "batch" && fields[2] == "job" {
			return fields[3], nil
		}
	}
	return "", fmt.Errorf("no sbatch submission acknowledgement found in output %q", text)
}

// Kill 执行 scancel 取消作业, 所有作业 ID 合并为一次调用.
func (c *Client) Kill(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		c.logger.Debug("no job ids passed to kill")
		return nil
	}
	cmd := c.execCommand(ctx, "scancel", ids...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		c.logger.Error("unable to cancel jobs", "jobids", ids, "output", string(out), "cmd", cmd.String(), "err", err)
		return fmt.Errorf("failed to exec scancel command")
	}
	c.logger.Debug("cancelled jobs", "jobids", ids, "output", string(out))
	return nil
}
