// Package mutt sends email notifications by shelling out to the mutt mail
// client on the submit host.
package mutt

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	"gridtrack/internal/pkg/job"
)

// ExecCommandFunc 定义 exec.CommandContext 的函数签名，方便 mock 测试.
type ExecCommandFunc func(ctx context.Context, name string, args ...string) *exec.Cmd

// Client 提供使用 mutt 命令发送邮件通知的功能.
type Client struct {
	execCommand ExecCommandFunc
	logger      *slog.Logger
}

func (c *Client) Set(exec ExecCommandFunc, logger *slog.Logger) *Client {
	c.execCommand = exec
	c.logger = logger
	return c
}

// Message is one email to send.
type Message struct {
	// Recipients is the mutt recipient list, e.g. "a@x.org, b@x.org".
	Recipients string
	// ReplyTo is exported as EMAIL so replies land somewhere useful.
	ReplyTo string
	Subject string
	Body    string
	// Attachments are file paths added with -a.
	Attachments []string
}

// Send assembles and runs a mutt command of the form
//
//	export EMAIL="me@example.org"
//	mutt -s "subject" -a "file" -- "a@x.org, b@x.org" <<E0F
//	body
//	E0F
func (c *Client) Send(ctx context.Context, msg Message) error {
	if strings.TrimSpace(msg.Recipients) == "" {
		return fmt.Errorf("no recipients given")
	}

	var attachments strings.Builder
	for _, path := range msg.Attachments {
		fmt.Fprintf(&attachments, `-a "%s" `, path)
	}

	script := fmt.Sprintf(`export EMAIL="%s"

mutt -s "%s" %s-- "%s" <<E0F
%s
E0F
`, msg.ReplyTo, msg.Subject, attachments.String(), msg.Recipients, msg.Body)

	c.logger.Debug("mutt command assembled", "script", script)

	cmd := c.execCommand(ctx, "bash", "-c", script)
	out, err := cmd.CombinedOutput()
	if err != nil {
		c.logger.Error("unable to send email", "output", string(out), "cmd", cmd.String(), "err", err)
		return fmt.Errorf("failed to exec mutt command")
	}
	return nil
}

// MonitorNotifier adapts Client to job.Notifier, mailing a short summary
// after a monitoring run drains.
type MonitorNotifier struct {
	Client     *Client
	Recipients string
	ReplyTo    string
}

// Notify implements job.Notifier.
func (n *MonitorNotifier) Notify(ctx context.Context, completed, errored []*job.Job) error {
	var body strings.Builder
	fmt.Fprintf(&body, "Job monitoring finished: %d completed, %d errored.\n\n", len(completed), len(errored))
	if len(completed) > 0 {
		body.WriteString("Completed:\n")
		for _, j := range completed {
			fmt.Fprintf(&body, "  %s (%s)\n", j.ID, j.Name)
		}
	}
	if len(errored) > 0 {
		body.WriteString("Errored (killed or stuck):\n")
		for _, j := range errored {
			fmt.Fprintf(&body, "  %s (%s)\n", j.ID, j.Name)
		}
	}

	subject := fmt.Sprintf("[gridtrack] %d jobs completed, %d errored", len(completed), len(errored))
	return n.Client.Send(ctx, Message{
		Recipients: n.Recipients,
		ReplyTo:    n.ReplyTo,
		Subject:    subject,
		Body:       body.String(),
	})
}
