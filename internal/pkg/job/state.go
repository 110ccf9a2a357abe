package job

// State 表示调度器队列中作业状态的语义分类.
// 由各调度器客户端将原始状态码(如 "r", "qw", "Eqw", "R", "PD")映射为该类型,
// 未识别的状态码一律映射为 StateUnknown.
type State string

const (
	StateUnknown State = "Unknown"
	StateWaiting State = "Waiting"
	StateRunning State = "Running"
	StateError   State = "Error"
)

// IsRunning reports whether the state counts as running.
func (s State) IsRunning() bool { return s == StateRunning }

// IsError reports whether the state counts as errored. Errored jobs are stuck
// in the queue and will not leave on their own.
func (s State) IsError() bool { return s == StateError }
