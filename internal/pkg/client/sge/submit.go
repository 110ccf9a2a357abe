package sge

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"gridtrack/internal/pkg/job"
)

// Submission is one (identifier, name) pair echoed by qsub.
type Submission struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Submit wraps req.Command in a bash heredoc and hands it to qsub, e.g.
//
//	qsub -j y -N "align" -o :"/logs/" -e :"/logs/" <<E0F
//	set -x
//	<command>
//	set +x
//	E0F
//
// The echoed acknowledgement line is parsed for the job identifier and name.
// Malformed or nonexistent log directories are a common source of compute
// job failure, so the caller is expected to resolve them first.
func (c *Client) Submit(ctx context.Context, req job.SubmitRequest) (string, string, error) {
	stdoutDir := req.StdoutLogDir
	stderrDir := req.StderrLogDir
	if stdoutDir == "" {
		if wd, err := os.Getwd(); err == nil {
			stdoutDir = wd + string(os.PathSeparator)
		}
	}
	if stderrDir == "" {
		stderrDir = stdoutDir
	}

	name := req.Name
	if name == "" {
		name = "gridtrack"
	}

	script := fmt.Sprintf(`qsub %s -N "%s" -o :"%s" -e :"%s" <<E0F
%s
%s
%s
E0F
`, strings.Join(req.Params, " "), name, stdoutDir, stderrDir,
		req.PreCommands, req.Command, req.PostCommands)

	c.logger.Debug("qsub command assembled", "script", script)

	cmd := c.execCommand(ctx, "bash", "-c", script)
	out, err := cmd.CombinedOutput()
	if err != nil {
		c.logger.Error("unable to submit job", "output", string(out), "cmd", cmd.String(), "err", err)
		return "", "", fmt.Errorf("failed to exec qsub command")
	}

	id, jobName, err := ParseSubmission(string(out))
	if err != nil {
		c.logger.Error("unable to parse qsub acknowledgement", "output", string(out), "err", err)
		return "", "", err
	}

	// settle so a burst of submissions does not overwhelm the scheduler
	if req.Settle > 0 {
		select {
		case <-ctx.Done():
			return id, jobName, ctx.Err()
		case <-time.After(req.Settle):
		}
	}

	return id, jobName, nil
}

// ParseSubmission parses the single-line qsub acknowledgement
//
//	Your job 1245023 ("align") has been submitted
//
// into the (identifier, name) pair. A line that does not match is fatal to
// the submission: without the echoed identifier there is no job to track.
func ParseSubmission(text string) (string, string, error) {
	for _, line := range strings.Split(text, "\n") {
		if id, name, ok := parseSubmissionLine(line); ok {
			return id, name, nil
		}
	}
	return "", "", fmt.Errorf("no qsub submission acknowledgement found in output %q", text)
}

// FindAllSubmissions scans multi-line text, e.g. the stdout of an external
// program that submitted a batch of jobs, for every qsub acknowledgement
// line.
func FindAllSubmissions(text string) []Submission {
	subs := make([]Submission, 0)
	for _, line := range strings.Split(text, "\n") {
		if id, name, ok := parseSubmissionLine(line); ok {
			subs = append(subs, Submission{ID: id, Name: name})
		}
	}
	return subs
}

func parseSubmissionLine(line string) (string, string, bool) {
	// Your job 3947957 ("sns.wes.SeraCare-1to1-Positive") has been submitted
	parts := strings.Fields(line)
	if len(parts) < 7 {
		return "", "", false
	}
	if parts[0] != "Your" || parts[1] != "job" || parts[4] != "has" || parts[5] != "been" || parts[6] != "submitted" {
		return "", "", false
	}
	id := parts[2]
	name := strings.TrimPrefix(parts[3], `("`)
	name = strings.TrimSuffix(name, `")`)
	return id, name, true
}
