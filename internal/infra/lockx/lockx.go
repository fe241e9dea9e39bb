// Package lockx 提供基于 flock 的单实例运行锁：同一个根目录上
// 不允许两个进程同时 analyze/sort（避免互相搬动对方正在处理的文件）。
package lockx

import (
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/John-Robertt/ARSort/internal/domain"
	"github.com/John-Robertt/ARSort/internal/infra/fsx"
)

// Lock 持有一个已获取的文件锁。
type Lock struct {
	fl *flock.Flock
}

// Acquire 以非阻塞方式获取 path 上的排它锁。
// 锁已被其他进程持有时返回 error_code=locked 的前置条件错误。
func Acquire(path string) (*Lock, error) {
	if err := fsx.EnsureDir(filepath.Dir(path)); err != nil {
		return nil, err
	}

	fl := flock.New(path)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, domain.IOError(domain.ErrCodeLocked, "获取运行锁失败", err)
	}
	if !ok {
		return nil, domain.Precondition(domain.ErrCodeLocked,
			"另一个实例正在处理同一目录："+path)
	}
	return &Lock{fl: fl}, nil
}

// Release 释放锁。重复调用安全。
func (l *Lock) Release() error {
	if l == nil || l.fl == nil {
		return nil
	}
	fl := l.fl
	l.fl = nil
	return fl.Unlock()
}
