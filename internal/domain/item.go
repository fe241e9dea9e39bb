package domain

import "strings"

// ClassifiedItem 的状态标签。
//
// sort 阶段只消费以 "ok" 开头的条目；其余条目原样保留在 ledger 里，
// 便于用户核对为什么某个文件没有被移动。
const (
	StatusOK              = "ok"
	StatusOKOverwrite     = "ok_overwrite"
	StatusSkipDuplicate   = "skip_duplicate"
	StatusSkipUnsupported = "skip_unsupported"
	StatusError           = "error"
)

// ClassifiedItem 是 analyze 阶段对单个文件的完整判定结果。
// 创建后不可变；sort 阶段只读重放，不重新探测媒体。
type ClassifiedItem struct {
	Src string `json:"src"` // 相对扫描根目录

	Kind        MediaKind   `json:"kind,omitempty"`
	Width       int         `json:"width,omitempty"`
	Height      int         `json:"height,omitempty"`
	Orientation Orientation `json:"orientation,omitempty"`

	Dst string `json:"dst,omitempty"` // 相对扫描根目录；skip/error 时为空或仅作提示

	Status   string `json:"status"`
	ErrorMsg string `json:"error_msg,omitempty"`
}

// Sortable 判断该条目是否应在 sort 阶段被移动（status 以 "ok" 开头）。
func (it ClassifiedItem) Sortable() bool {
	return strings.HasPrefix(it.Status, StatusOK)
}
