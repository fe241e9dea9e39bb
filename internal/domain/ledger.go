package domain

import "time"

// DuplicateMode 的合法取值。
const (
	DupAutoRename = "auto_rename"
	DupSkip       = "skip"
	DupOverwrite  = "overwrite"
)

// LedgerKey 是 ledger 的新鲜度判定键：只包含影响目标路径计算的配置子集。
// sort 前若与当前配置不一致，ledger 视为过期，必须拒绝执行。
type LedgerKey struct {
	Path          string `json:"path"`
	Output        string `json:"output"`
	Lowercase     bool   `json:"lowercase"`
	DuplicateMode string `json:"duplicate_mode"`
}

// RunStats 是一次 analyze/sort 的聚合计数。
// 只允许执行引擎的单一聚合消费者修改；worker 只产出单条结果。
type RunStats struct {
	Found              int `json:"found"`
	Supported          int `json:"supported"`
	Portrait           int `json:"portrait"`
	Landscape          int `json:"landscape"`
	SkippedUnsupported int `json:"skipped_unsupported"`
	SkippedDuplicate   int `json:"skipped_duplicate"`
	Errors             int `json:"errors"`
	Moved              int `json:"moved"`
}

// Ledger 是 analyze 阶段的不可变快照：逐文件的分类 + 规划目的地 + 状态，
// 以及产生它的配置键。sort 阶段按原样重放。
type Ledger struct {
	RunID     string    `json:"run_id"`
	CreatedAt time.Time `json:"created_at"`

	Key       LedgerKey `json:"key"`
	Recursive bool      `json:"recursive"`

	// Cancelled 表示 analyze 在中途被取消：items 只包含取消前完成的部分。
	Cancelled bool `json:"cancelled"`

	Stats RunStats         `json:"stats"`
	Items []ClassifiedItem `json:"items"`
}

// Finalize 统一时间为 UTC 并由 items 重算 stats（found 由扫描阶段写入，保持不动）。
func (l *Ledger) Finalize() {
	l.CreatedAt = l.CreatedAt.UTC()

	found := l.Stats.Found
	var s RunStats
	s.Found = found
	for _, it := range l.Items {
		switch it.Status {
		case StatusSkipUnsupported:
			s.SkippedUnsupported++
			continue
		case StatusError:
			s.Errors++
			continue
		}

		s.Supported++
		switch it.Orientation {
		case OrientPortrait:
			s.Portrait++
		case OrientLandscape:
			s.Landscape++
		}
		if it.Status == StatusSkipDuplicate {
			s.SkippedDuplicate++
			// supported 但不可移动：保持 Sortable()==false。
		}
	}
	l.Stats = s
}

// SortableItems 返回应被 sort 阶段消费的条目（保持 ledger 原有顺序）。
func (l Ledger) SortableItems() []ClassifiedItem {
	out := make([]ClassifiedItem, 0, len(l.Items))
	for _, it := range l.Items {
		if it.Sortable() {
			out = append(out, it)
		}
	}
	return out
}
