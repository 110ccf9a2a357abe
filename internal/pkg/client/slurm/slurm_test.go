package slurm

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"testing"

	"gridtrack/internal/pkg/job"
)

const sampleSqueue = `             JOBID PARTITION     NAME     USER ST       TIME  NODES NODELIST(REASON)
            670001   compute    align kellys04  R       1:02      1 cn-0006
            670002   compute    align kellys04 PD       0:00      1 (Priority)
            670010   compute  cleanup kellys04 CG       5:40      1 cn-0011`

const samplePipeTable = `ACCOUNT|JOBID|NAME|USER|ST
acct1|670001|align|kellys04|R
acct1|670002|align|kellys04|PD
this row has no pipes and gets dropped
acct1|670010|cleanup|kellys04|CG`

const sampleAIOT = `NODES(A/I/O/T)      PARTITION
2/10/0/12           compute
5/3/1/9             bigmem
0/0/2/2             drain-me
bad/counts/here     broken`

// helper: build fake exec that returns output based on args
func fakeExec(outputFn func(name string, args ...string) string) ExecCommandFunc {
	return func(ctx context.Context, name string, args ...string) *exec.Cmd {
		// Use sh -c to emit prebuilt content
		script := fmt.Sprintf("cat <<'EOF'\n%s\nEOF\n", outputFn(name, args...))
		return exec.CommandContext(ctx, "sh", "-c", script)
	}
}

func newTestClient(outputFn func(name string, args ...string) string) *Client {
	return (&Client{}).Set(fakeExec(outputFn), slog.Default())
}

func TestParsePipeTable(t *testing.T) {
	rows := ParsePipeTable(samplePipeTable)
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows (mismatched row dropped), got %d", len(rows))
	}
	if rows[0]["JOBID"] != "670001" || rows[0]["ST"] != "R" {
		t.Errorf("unexpected first row: %+v", rows[0])
	}
	if rows[2]["NAME"] != "cleanup" {
		t.Errorf("unexpected last row: %+v", rows[2])
	}

	if rows := ParsePipeTable(""); rows != nil {
		t.Errorf("expected nil for empty input, got %+v", rows)
	}
}

func TestParseFieldsTable(t *testing.T) {
	rows := ParseFieldsTable(sampleAIOT)
	if len(rows) != 4 {
		t.Fatalf("expected 4 rows, got %d", len(rows))
	}
	if rows[0]["PARTITION"] != "compute" || rows[0]["NODES(A/I/O/T)"] != "2/10/0/12" {
		t.Errorf("unexpected first row: %+v", rows[0])
	}
}

func TestFindEntryAndParseStatus(t *testing.T) {
	c := newTestClient(nil)

	entry := c.FindEntry("670002", sampleSqueue)
	if entry == "" {
		t.Fatal("expected an entry for 670002")
	}
	status, ok := c.ParseStatus(entry)
	if !ok || status != "PD" {
		t.Errorf("expected PD, got %q ok=%v", status, ok)
	}

	if entry := c.FindEntry("67000", sampleSqueue); entry != "" {
		t.Errorf("prefix of an id must not match, got %q", entry)
	}
	if entry := c.FindEntry("", sampleSqueue); entry != "" {
		t.Errorf("empty id must not match, got %q", entry)
	}
}

func TestStateOf(t *testing.T) {
	c := newTestClient(nil)

	cases := map[string]job.State{
		"R":   job.StateRunning,
		"CG":  job.StateRunning,
		"PD":  job.StateWaiting,
		"F":   job.StateError,
		"NF":  job.StateError,
		"BF":  job.StateError,
		"TO":  job.StateError,
		"OOM": job.StateError,
		"S":   job.StateUnknown,
		"":    job.StateUnknown,
	}
	for status, want := range cases {
		if got := c.StateOf(status); got != want {
			t.Errorf("StateOf(%q) = %q, want %q", status, got, want)
		}
	}
}

func TestSubmit(t *testing.T) {
	var gotArgs []string
	c := newTestClient(func(name string, args ...string) string {
		if name == "sbatch" {
			gotArgs = args
			return "Submitted batch job 670123"
		}
		return ""
	})

	id, name, err := c.Submit(context.Background(), job.SubmitRequest{
		Command:      "bwa mem ref.fa sample.fq",
		Name:         "align",
		StdoutLogDir: "/logs",
		StderrLogDir: "/logs",
		PreCommands:  "set -x",
		PostCommands: "set +x",
	})
	if err != nil {
		t.Fatalf("Submit error: %v", err)
	}
	if id != "670123" || name != "align" {
		t.Errorf("got id=%q name=%q", id, name)
	}

	joined := strings.Join(gotArgs, " ")
	for _, want := range []string{
		"--job-name align",
		"--output /logs/align.o%j",
		"--error /logs/align.e%j",
		"--wrap",
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("sbatch args missing %q: %q", want, joined)
		}
	}
	wrap := gotArgs[len(gotArgs)-1]
	if wrap != "set -x\nbwa mem ref.fa sample.fq\nset +x" {
		t.Errorf("unexpected wrap payload: %q", wrap)
	}
}

func TestParseSbatchAck(t *testing.T) {
	id, err := parseSbatchAck("Submitted batch job 670123\n")
	if err != nil {
		t.Fatalf("parseSbatchAck error: %v", err)
	}
	if id != "670123" {
		t.Errorf("id = %q", id)
	}

	if _, err := parseSbatchAck("sbatch: error: invalid partition"); err == nil {
		t.Error("expected error for output without an acknowledgement")
	}
}

func TestKill_Batched(t *testing.T) {
	var gotName string
	var gotArgs []string
	c := newTestClient(func(name string, args ...string) string {
		gotName = name
		gotArgs = args
		return ""
	})

	if err := c.Kill(context.Background(), []string{"670001", "670002"}); err != nil {
		t.Fatalf("Kill error: %v", err)
	}
	if gotName != "scancel" {
		t.Errorf("expected scancel, got %q", gotName)
	}
	if len(gotArgs) != 2 || gotArgs[0] != "670001" || gotArgs[1] != "670002" {
		t.Errorf("expected one batched invocation with both ids, got %v", gotArgs)
	}
}

func TestPartitions(t *testing.T) {
	c := newTestClient(func(name string, args ...string) string {
		if name == "sinfo" && len(args) == 2 && args[0] == "-O" && args[1] == "nodeaiot,partitionname" {
			return sampleAIOT
		}
		return ""
	})

	parts, err := c.Partitions(context.Background())
	if err != nil {
		t.Fatalf("Partitions error: %v", err)
	}
	// the row with unparseable counts is skipped with a warning
	if len(parts) != 3 {
		t.Fatalf("expected 3 partitions, got %d", len(parts))
	}
	if parts[0].Name != "compute" {
		t.Errorf("unexpected first partition: %+v", parts[0])
	}
	want := NodeUsage{Available: 2, Idle: 10, Other: 0, Total: 12}
	if parts[0].Usage != want {
		t.Errorf("usage = %+v, want %+v", parts[0].Usage, want)
	}
}

func TestMostIdleAndMostAvailable(t *testing.T) {
	c := newTestClient(func(name string, args ...string) string {
		return sampleAIOT
	})

	name, err := c.MostIdle(context.Background(), nil)
	if err != nil {
		t.Fatalf("MostIdle error: %v", err)
	}
	if name != "compute" {
		t.Errorf("MostIdle = %q, want compute", name)
	}

	name, err = c.MostAvailable(context.Background(), nil)
	if err != nil {
		t.Fatalf("MostAvailable error: %v", err)
	}
	if name != "bigmem" {
		t.Errorf("MostAvailable = %q, want bigmem", name)
	}

	name, err = c.MostIdle(context.Background(), []string{"compute"})
	if err != nil {
		t.Fatalf("MostIdle(excluding compute) error: %v", err)
	}
	if name != "bigmem" {
		t.Errorf("MostIdle excluding compute = %q, want bigmem", name)
	}

	if _, err := c.MostIdle(context.Background(), []string{"compute", "bigmem", "drain-me"}); err == nil {
		t.Error("expected error when every partition is excluded")
	}
}

func TestParseAIOT(t *testing.T) {
	usage, err := parseAIOT("5/3/1/9")
	if err != nil {
		t.Fatalf("parseAIOT error: %v", err)
	}
	want := NodeUsage{Available: 5, Idle: 3, Other: 1, Total: 9}
	if usage != want {
		t.Errorf("usage = %+v, want %+v", usage, want)
	}

	for _, bad := range []string{"", "1/2/3", "1/2/3/4/5", "a/b/c/d"} {
		if _, err := parseAIOT(bad); err == nil {
			t.Errorf("expected error for %q", bad)
		}
	}
}

func TestExpandNodeRange(t *testing.T) {
	got := ExpandNodeRange("cn-[0006,0011-0014]")
	want := []string{"cn-0006", "cn-0011", "cn-0012", "cn-0013"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestExpandNodeRange_NoBrackets(t *testing.T) {
	got := ExpandNodeRange("cn-0006")
	if len(got) != 1 || got[0] != "cn-0006" {
		t.Errorf("got %v", got)
	}
	if got := ExpandNodeRange(""); len(got) != 0 {
		t.Errorf("expected nothing for empty input, got %v", got)
	}
}

func TestExpandNodeRange_MalformedSegments(t *testing.T) {
	// malformed segments are skipped, well-formed ones still expand
	got := ExpandNodeRange("cn-[0006,x-y,0011-0013,weird]")
	want := []string{"cn-0006", "cn-0011", "cn-0012"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
