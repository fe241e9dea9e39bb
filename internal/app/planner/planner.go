package planner

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/John-Robertt/ARSort/internal/domain"
)

// OutRoot 返回目的地根目录：未配置 output 子目录时就地分拣（root 本身）。
func OutRoot(root, output string) string {
	output = strings.TrimSpace(output)
	if output == "" {
		return filepath.Clean(root)
	}
	return filepath.Clean(filepath.Join(root, output))
}

// CategoryDir 返回某方向的目标目录（<outRoot>/portrait 或 <outRoot>/landscape）。
func CategoryDir(root, output string, o domain.Orientation) string {
	return filepath.Join(OutRoot(root, output), o.Dir())
}

// ScanExcludes 返回扫描阶段要排除的相对目录：两个分类目录。
// 只排除分类目录本身，不排除整个 output 子树——output 目录里与分拣无关的
// 文件仍然是合法输入。
func ScanExcludes(output string) []string {
	output = strings.TrimSpace(output)
	return []string{
		filepath.Join(output, domain.OrientPortrait.Dir()),
		filepath.Join(output, domain.OrientLandscape.Dir()),
	}
}

// Resolver 做确定性的目的地解析：同一次运行内，文件按枚举顺序逐个申请
// 目标名，已申请的名字与磁盘上已存在的名字同等占用。
//
// 并发约束：Resolver 不加锁，必须由单一消费者串行调用（analyze 的聚合循环）。
type Resolver struct {
	lowercase bool
	mode      string // domain.DupAutoRename | DupSkip | DupOverwrite

	// used 按目标目录缓存"已占用名字"集合（磁盘现状 + 本次运行已申请）。
	used map[string]map[string]struct{}
}

func NewResolver(lowercase bool, mode string) *Resolver {
	return &Resolver{
		lowercase: lowercase,
		mode:      mode,
		used:      make(map[string]map[string]struct{}),
	}
}

// Resolve 为 dir 下的 name 计算最终文件名与状态标签。
//
// 算法（与产品契约一一对应）：
// 1. lowercase 只作用于文件名部分，不动目录
// 2. 名字未被占用：status=ok
// 3. 已被占用：skip -> skip_duplicate；overwrite -> ok_overwrite；
//    auto_rename -> 探测 "name (1).ext"、"name (2).ext"… 取第一个空位，status=ok
func (r *Resolver) Resolve(dir, name string) (string, string, error) {
	if r.lowercase {
		name = strings.ToLower(name)
	}

	used, err := r.usedNames(dir)
	if err != nil {
		return "", "", err
	}

	taken := func(n string) bool {
		_, ok := used[n]
		return ok
	}

	if !taken(name) {
		used[name] = struct{}{}
		return name, domain.StatusOK, nil
	}

	switch r.mode {
	case domain.DupSkip:
		// 不占用：后续同名文件得到同样的 skip 判定。
		return name, domain.StatusSkipDuplicate, nil
	case domain.DupOverwrite:
		return name, domain.StatusOKOverwrite, nil
	default: // auto_rename
		cand := AllocName(name, taken)
		used[cand] = struct{}{}
		return cand, domain.StatusOK, nil
	}
}

// usedNames 懒加载 dir 的现有文件名集合（只 ReadDir，不读内容；目录不存在视为空）。
func (r *Resolver) usedNames(dir string) (map[string]struct{}, error) {
	dir = filepath.Clean(dir)
	if m, ok := r.used[dir]; ok {
		return m, nil
	}

	m := make(map[string]struct{})
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
	} else {
		for _, e := range entries {
			m[e.Name()] = struct{}{}
		}
	}
	r.used[dir] = m
	return m, nil
}

var autoSuffixRE = regexp.MustCompile(`^(.+) \([0-9]+\)$`)

// AllocName 返回第一个未被占用的 auto_rename 候选名。
//
// 输入名本身已带 " (n)" 后缀时（commit 时重解析的场景），先剥掉后缀再从
// " (1)" 重新探起：冲突后的下一个候选是 "name (2).ext"，不是 "name (1) (1).ext"。
func AllocName(name string, taken func(string) bool) string {
	if !taken(name) {
		return name
	}

	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	if m := autoSuffixRE.FindStringSubmatch(stem); m != nil {
		stem = m[1]
	}

	for n := 1; ; n++ {
		cand := fmt.Sprintf("%s (%d)%s", stem, n, ext)
		if !taken(cand) {
			return cand
		}
	}
}
