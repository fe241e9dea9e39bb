package domain

import "time"

// sort 阶段单条移动结果的状态。
const (
	MoveStatusMoved     = "moved"
	MoveStatusMovedCopy = "moved_copy" // 跨盘 rename 失败后走 copy+delete
	MoveStatusSimulated = "simulated"  // dry-run：只计数，不落盘
	MoveStatusSkipDup   = "skip_duplicate"
	MoveStatusFailed    = "failed"
)

// MoveResult 是 sort 阶段对单个 ledger 条目的执行结果。
type MoveResult struct {
	Src string `json:"src"` // 相对扫描根目录
	Dst string `json:"dst"` // 实际（或重解析后）目的地，相对扫描根目录

	Status   string `json:"status"`
	ErrorMsg string `json:"error_msg,omitempty"`
}

// SortReport 是 sort 阶段对外稳定输出（report.json / stdout JSON）的结构。
type SortReport struct {
	Path   string `json:"path"`
	DryRun bool   `json:"dry_run"`
	RunID  string `json:"run_id"` // 消费的 ledger 的 run_id

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	// Cancelled 表示运行中途被取消：items 只包含取消前完成的部分。
	Cancelled bool `json:"cancelled"`

	// Analyzed 是被消费的 ledger 的统计快照（analyze 阶段的计数原样保留：
	// 探测错误、analyze 时的重名跳过等不会因为 sort 只看 move 结果而丢失）。
	Analyzed RunStats `json:"analyzed"`

	// Stats 只统计 sort 阶段本身：moved/skipped/errors 全部来自 move 结果。
	// 两个阶段的计数分开呈现，互不覆盖。
	Stats RunStats     `json:"stats"`
	Items []MoveResult `json:"items"`
}

// Finalize 统一时间为 UTC，并由 items 重算 sort 阶段计数。
// Analyzed 不参与重算：它是 ledger 的只读快照。
func (r *SortReport) Finalize() {
	r.StartedAt = r.StartedAt.UTC()
	r.FinishedAt = r.FinishedAt.UTC()

	r.Stats.Moved = 0
	r.Stats.SkippedDuplicate = 0
	r.Stats.Errors = 0
	for _, it := range r.Items {
		switch it.Status {
		case MoveStatusMoved, MoveStatusMovedCopy, MoveStatusSimulated:
			r.Stats.Moved++
		case MoveStatusSkipDup:
			r.Stats.SkippedDuplicate++
		case MoveStatusFailed:
			r.Stats.Errors++
		}
	}
}
