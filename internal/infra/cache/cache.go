package cache

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/John-Robertt/ARSort/internal/domain"
	"github.com/John-Robertt/ARSort/internal/infra/fsx"
)

const (
	ledgerName = "ledger.json"
	reportName = "report.json"
	// LockName 是运行锁文件名（锁由上层管理，这里只定义位置）。
	LockName = "arsort.lock"
)

// Store 提供 <path>/cache/ 下的运行产物读写（ledger 与 report）。
//
// 约束：
// - dry-run：ledger 可写（预览本身就是 dry-run 的产物），report 只读（ReadOnly=true）
// - apply：全部可写（ReadOnly=false）
type Store struct {
	Root     string // <path>（扫描根目录）
	ReadOnly bool
}

var ErrReadOnly = errors.New("cache: read-only")

func New(root string, readOnly bool) Store {
	return Store{
		Root:     filepath.Clean(strings.TrimSpace(root)),
		ReadOnly: readOnly,
	}
}

// Dir 返回缓存目录的绝对路径（<root>/cache）。
func (s Store) Dir() string {
	return filepath.Join(s.Root, "cache")
}

// LedgerPath 返回 ledger 文件的绝对路径。
func (s Store) LedgerPath() string {
	return filepath.Join(s.Dir(), ledgerName)
}

// ReportPath 返回 report 文件的绝对路径。
func (s Store) ReportPath() string {
	return filepath.Join(s.Dir(), reportName)
}

// LockPath 返回运行锁文件的绝对路径。
func (s Store) LockPath() string {
	return filepath.Join(s.Dir(), LockName)
}

// LoadLedger 读取上一次 analyze 产出的 ledger。
// 文件不存在返回 ok=false（不算错误）；内容损坏返回错误。
func (s Store) LoadLedger() (domain.Ledger, bool, error) {
	b, err := os.ReadFile(s.LedgerPath())
	if err != nil {
		if os.IsNotExist(err) {
			return domain.Ledger{}, false, nil
		}
		return domain.Ledger{}, false, err
	}
	var l domain.Ledger
	if err := json.Unmarshal(b, &l); err != nil {
		return domain.Ledger{}, false, err
	}
	return l, true, nil
}

// SaveLedger 原子落盘 ledger（先写临时文件，再 rename 替换）。
// ledger 是 analyze 的产物，不受 ReadOnly 限制：dry-run 也要能写预览。
func (s Store) SaveLedger(l domain.Ledger) error {
	b, err := json.MarshalIndent(l, "", "  ")
	if err != nil {
		return err
	}
	return fsx.WriteFileAtomicReplace(s.Dir(), ledgerName, b)
}

// SaveReport 原子落盘 sort 的执行报告。dry-run 下拒绝写。
func (s Store) SaveReport(r domain.SortReport) error {
	if s.ReadOnly {
		return ErrReadOnly
	}
	b, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	return fsx.WriteFileAtomicReplace(s.Dir(), reportName, b)
}

// DropLedger 删除 ledger（commit 成功后调用，避免过期预览被再次使用）。
func (s Store) DropLedger() error {
	err := os.Remove(s.LedgerPath())
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
