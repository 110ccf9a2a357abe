// Package sge wraps the Sun Grid Engine command line tools (qsub, qstat,
// qacct, qdel) behind the job.Scheduler and job.Accountant interfaces.
package sge

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"regexp"
	"strings"

	"gridtrack/internal/pkg/job"
)

// ExecCommandFunc 定义 exec.CommandContext 的函数签名，方便 mock 测试.
type ExecCommandFunc func(ctx context.Context, name string, args ...string) *exec.Cmd

// Client 提供使用命令与 SGE 调度器交互的功能.
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

// SetDefault sets the package-level default SGE Client.
func SetDefault(c *Client) { defaultClient = c }

// Default returns the package-level default SGE Client.
func Default() *Client { return defaultClient }

// Detect verifies the SGE command line tools are reachable. The tools are an
// external-environment precondition; a missing binary is fatal at startup
// rather than retried mid-run.
func Detect() error {
	for _, bin := range []string{"qsub", "qstat", "qdel"} {
		if _, err := exec.LookPath(bin); err != nil {
			return fmt.Errorf("%w: %s: %v", job.ErrSchedulerNotFound, bin, err)
		}
	}
	return nil
}

// QueueRaw 执行 qstat 获取当前调度队列的原始输出.
func (c *Client) QueueRaw(ctx context.Context) (string, error) {
	cmd := c.execCommand(ctx, "qstat")
	out, err := cmd.CombinedOutput()
	if err != nil {
		c.logger.Error("unable to query the live queue", "output", string(out), "cmd", cmd.String(), "err", err)
		return "", fmt.Errorf("failed to exec qstat command")
	}
	return string(out), nil
}

// FindEntry locates the qstat line whose leading whitespace-delimited field
// equals id exactly. The match is anchored at line start so "2493898" never
// matches inside "24938980". Returns "" when the job is absent.
func (c *Client) FindEntry(id, raw string) string {
	if id == "" {
		return ""
	}
	re, err := regexp.Compile(`(?m)^\s*` + regexp.QuoteMeta(id) + `\s.*$`)
	if err != nil {
		c.logger.Error("unable to build queue entry pattern", "jobid", id, "err", err)
		return ""
	}
	return re.FindString(raw)
}

// ParseStatus extracts the short status token ("r", "qw", "Eqw", ...) from a
// matched qstat entry. The token sits in the fixed state column:
//
//	job-ID  prior   name  user  state  submit/start at  queue  slots
func (c *Client) ParseStatus(entry string) (string, bool) {
	fields := strings.Fields(entry)
	if len(fields) < 5 {
		return "", false
	}
	return fields[4], true
}

// StateOf maps a qstat status token to the semantic state vocabulary.
// Tokens outside the recognized set (e.g. "t", "dr") map to StateUnknown.
func (c *Client) StateOf(status string) job.State {
	switch status {
	case "r":
		return job.StateRunning
	case "qw":
		return job.StateWaiting
	case "Eqw":
		return job.StateError
	default:
		return job.StateUnknown
	}
}

// Kill 执行 qdel 删除作业, 所有作业 ID 合并为一次调用以减少进程开销.
func (c *Client) Kill(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		c.logger.Debug("no job ids passed to kill")
		return nil
	}
	cmd := c.execCommand(ctx, "qdel", ids...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		c.logger.Error("unable to delete jobs", "jobids", ids, "output", string(out), "cmd", cmd.String(), "err", err)
		return fmt.Errorf("failed to exec qdel command")
	}
	c.logger.Debug("deleted jobs", "jobids", ids, "output", string(out))
	return nil
}
