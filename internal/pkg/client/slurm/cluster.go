package slurm

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// NodeUsage is a node count broken down by state, parsed from the compact
// "available/idle/other/total" form SLURM reports.
type NodeUsage struct {
	Available int `json:"available"`
	Idle      int `json:"idle"`
	Other     int `json:"other"`
	Total     int `json:"total"`
}

// PartitionUsage pairs a partition name with its node usage.
type PartitionUsage struct {
	Name  string    `json:"name"`
	Usage NodeUsage `json:"usage"`
}

// Partitions 执行 sinfo -O nodeaiot,partitionname 获取各分区节点利用率.
func (c *Client) Partitions(ctx context.Context) ([]PartitionUsage, error) {
	cmd := c.execCommand(ctx, "sinfo", "-O", "nodeaiot,partitionname")
	out, err := cmd.CombinedOutput()
	if err != nil {
		c.logger.Error("unable to get partition utilization", "output", string(out), "cmd", cmd.String(), "err", err)
		return nil, fmt.Errorf("failed to exec sinfo command")
	}

	parts := make([]PartitionUsage, 0)
	for _, row := range ParseFieldsTable(string(out)) {
		name, ok := row["PARTITION"]
		if !ok {
			continue
		}
		usage, err := parseAIOT(row["NODES(A/I/O/T)"])
		if err != nil {
			c.logger.Warn("invalid node usage field, skip", "partition", name, "err", err)
			continue
		}
		parts = append(parts, PartitionUsage{Name: name, Usage: usage})
	}
	return parts, nil
}

// parseAIOT parses the "available/idle/other/total" count form.
func parseAIOT(s string) (NodeUsage, error) {
	parts := strings.Split(strings.TrimSpace(s), "/")
	if len(parts) != 4 {
		return NodeUsage{}, fmt.Errorf("expected 4 '/'-separated counts, got %q", s)
	}
	vals := make([]int, 4)
	for i, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil {
			return NodeUsage{}, fmt.Errorf("invalid count %q in %q", p, s)
		}
		vals[i] = v
	}
	return NodeUsage{Available: vals[0], Idle: vals[1], Other: vals[2], Total: vals[3]}, nil
}

// MostIdle returns the name of the partition with the most idle nodes,
// ignoring any partition named in excluding.
func (c *Client) MostIdle(ctx context.Context, excluding []string) (string, error) {
	return c.pickPartition(ctx, excluding, func(u NodeUsage) int { return u.Idle })
}

// MostAvailable returns the name of the partition with the most available
// nodes, ignoring any partition named in excluding.
func (c *Client) MostAvailable(ctx context.Context, excluding []string) (string, error) {
	return c.pickPartition(ctx, excluding, func(u NodeUsage) int { return u.Available })
}

func (c *Client) pickPartition(ctx context.Context, excluding []string, count func(NodeUsage) int) (string, error) {
	parts, err := c.Partitions(ctx)
	if err != nil {
		return "", err
	}
	skip := make(map[string]bool, len(excluding))
	for _, name := range excluding {
		skip[name] = true
	}

	best := ""
	bestCount := -1
	for _, p := range parts {
		if skip[p.Name] {
			continue
		}
		if n := count(p.Usage); n > bestCount {
			best = p.Name
			bestCount = n
		}
	}
	if best == "" {
		return "", fmt.Errorf("no candidate partitions after exclusions")
	}
	return best, nil
}

// ExpandNodeRange expands the compact NODELIST notation from sinfo output,
// e.g. "cn-[0006,0011-0014]", into explicit hostnames:
//
//	["cn-0006", "cn-0011", "cn-0012", "cn-0013"]
//
// Range segments are expanded end-exclusive with zero-padded 4-digit
// suffixes, and malformed segments are silently skipped. Both behaviors are
// long-standing and preserved as-is; callers that need the range end
// included must list it separately.
func ExpandNodeRange(nodesStr string) []string {
	names := make([]string, 0)

	bracket := strings.Index(nodesStr, "[")
	if bracket < 0 {
		if nodesStr != "" {
			names = append(names, nodesStr)
		}
		return names
	}
	prefix := nodesStr[:bracket]
	list := strings.TrimSuffix(nodesStr[bracket+1:], "]")

	for _, segment := range strings.Split(list, ",") {
		if isAllDigits(segment) {
			names = append(names, prefix+segment)
			continue
		}
		bounds := strings.SplitN(segment, "-", 2)
		if len(bounds) < 2 || !isAllDigits(bounds[0]) || !isAllDigits(bounds[1]) {
			continue
		}
		start, _ := strconv.Atoi(bounds[0])
		stop, _ := strconv.Atoi(bounds[1])
		for i := start; i < stop; i++ {
			names = append(names, fmt.Sprintf("%s%04d", prefix, i))
		}
	}
	return names
}

func isAllDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
