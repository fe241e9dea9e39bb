package scan

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/John-Robertt/ARSort/internal/domain"
)

// ScanMedia 扫描 root 下的候选文件，并应用目录排除规则。
//
// 规则（硬约束）：
// - 永久排除：<root>/cache/（ledger/report 落盘处，绝不能被当作输入）
// - excludeDirs：由上层传入，均视为相对 root 的路径（若是绝对路径，则按绝对路径处理）；
//   典型内容是计算得到的输出目录（portrait/、landscape/），防止一次 sort 把
//   自己刚移进输出树的文件再次处理
// - recursive=false 时只列出 root 的直接子文件（与原始行为一致）
//
// 扩展名不在这里过滤：不支持的文件也要进入 ledger（skip_unsupported），
// 由 analyze 阶段判定。扫描阶段只做 stat，不读文件内容。
func ScanMedia(root string, recursive bool, excludeDirs []string) ([]domain.MediaFile, error) {
	root = filepath.Clean(root)
	excluded := buildExcluded(root, excludeDirs)

	files := make([]domain.MediaFile, 0, 128)

	appendFile := func(path string, d fs.DirEntry) error {
		info, err := d.Info()
		if err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}

		name := d.Name()
		ext := strings.ToLower(filepath.Ext(name))
		files = append(files, domain.MediaFile{
			AbsPath: path,
			RelPath: rel,
			Base:    strings.TrimSuffix(name, filepath.Ext(name)),
			Ext:     ext,
			Size:    info.Size(),
			ModUnix: info.ModTime().Unix(),
		})
		return nil
	}

	if recursive {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}

			// 统一的排除判断：目录用 SkipDir，文件则直接跳过。
			if isExcluded(path, excluded) {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}

			if d.IsDir() {
				return nil
			}
			return appendFile(path, d)
		})
		if err != nil {
			return nil, err
		}
	} else {
		entries, err := os.ReadDir(root)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			path := filepath.Join(root, e.Name())
			if isExcluded(path, excluded) {
				continue
			}
			if err := appendFile(path, e); err != nil {
				return nil, err
			}
		}
	}

	// 强制稳定输出：ledger 的条目顺序由此决定，也是幂等性
	//（两次 analyze 结果一致）的前提。
	sort.Slice(files, func(i, j int) bool { return files[i].RelPath < files[j].RelPath })
	return files, nil
}

func buildExcluded(root string, excludeDirs []string) []string {
	cacheDir := filepath.Join(root, "cache")

	excluded := make([]string, 0, 1+len(excludeDirs))
	excluded = append(excluded, filepath.Clean(cacheDir))

	for _, x := range excludeDirs {
		x = strings.TrimSpace(x)
		if x == "" {
			continue
		}
		if filepath.IsAbs(x) {
			excluded = append(excluded, filepath.Clean(x))
			continue
		}
		// x 是相对路径：相对 root。
		excluded = append(excluded, filepath.Clean(filepath.Join(root, x)))
	}

	// 排除列表排序后，isExcluded 的行为更可预测（且便于测试）。
	sort.Strings(excluded)
	return excluded
}

func isExcluded(path string, excluded []string) bool {
	path = filepath.Clean(path)
	for _, base := range excluded {
		if isUnder(path, base) {
			return true
		}
	}
	return false
}

func isUnder(path, base string) bool {
	if path == base {
		return true
	}
	sep := string(filepath.Separator)
	return strings.HasPrefix(path, base+sep)
}
