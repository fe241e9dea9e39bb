package domain

import (
	"errors"
	"fmt"
)

// RunError 的分类：决定上层如何呈现终态。
const (
	ClassPrecondition = "precondition"
	ClassIO           = "io"
	ClassCancelled    = "cancelled"
)

// RunError 的稳定机器码。
const (
	ErrCodeRootNotFound = "root_not_found"
	ErrCodeRootNotDir   = "root_not_dir"
	ErrCodeScanFailed   = "scan_failed"
	ErrCodeStaleLedger  = "stale_ledger"
	ErrCodeEmptyLedger  = "empty_ledger"
	ErrCodeLocked       = "locked"
)

// RunError 是运行级失败（precondition/io）或显式取消的结构化错误。
// 单文件失败不走这里：它们降级为各自条目的 status/error_msg。
type RunError struct {
	Class string // precondition | io | cancelled
	Code  string
	Msg   string
	Err   error
}

func (e *RunError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s（%s）：%s：%v", e.Class, e.Code, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s（%s）：%s", e.Class, e.Code, e.Msg)
}

func (e *RunError) Unwrap() error { return e.Err }

// Precondition 构造一个前置条件失败（运行未开始，不触碰任何文件）。
func Precondition(code, msg string) *RunError {
	return &RunError{Class: ClassPrecondition, Code: code, Msg: msg}
}

// IOError 构造一个运行级 IO 失败。
func IOError(code, msg string, err error) *RunError {
	return &RunError{Class: ClassIO, Code: code, Msg: msg, Err: err}
}

// ErrClass 从 error 中提取分类；若不是 *RunError 则返回空串。
func ErrClass(err error) string {
	var e *RunError
	if errors.As(err, &e) {
		return e.Class
	}
	return ""
}

// ErrCode 从 error 中提取机器码；若不是 *RunError 则返回空串。
func ErrCode(err error) string {
	var e *RunError
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
