package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/John-Robertt/ARSort/internal/domain"
)

const (
	// ErrCodeNotFound 表示无参运行但 cwd 下没有 arsort.json。
	ErrCodeNotFound = "config_not_found"
	// ErrCodeInvalid 表示配置文件无法读取/解析，或字段不合法。
	ErrCodeInvalid = "config_invalid"
	// ErrCodeMissingPath 表示无参运行但配置文件缺少 path 字段。
	ErrCodeMissingPath = "config_missing_path"
)

const (
	// DefaultDuplicateMode 是重名策略的最终默认值（CLI 与配置文件都未指定时）。
	DefaultDuplicateMode = domain.DupAutoRename
	// DefaultConcurrency 是并发的内置默认值（当配置未指定时）。
	DefaultConcurrency = 8
)

// CLIArgs 只包含 CLI 暴露的入口，并保留"是否显式指定"的信息。
// 这能保证覆盖优先级可实现：例如 --apply=false 必须能覆盖 config.apply=true。
type CLIArgs struct {
	Path string

	Output    string
	OutputSet bool

	Mode    string
	ModeSet bool

	Recursive    bool
	RecursiveSet bool

	Apply    bool
	ApplySet bool
}

// FileConfig 对应 arsort.json 的解析结构。
type FileConfig struct {
	Path          string   `json:"path"`
	Output        string   `json:"output"`
	Recursive     *bool    `json:"recursive"`
	Lowercase     *bool    `json:"lowercase"`
	Apply         *bool    `json:"apply"`
	DuplicateMode string   `json:"duplicate_mode"`
	Concurrency   int      `json:"concurrency"`
	FFprobe       string   `json:"ffprobe"`
	ExcludeDirs   []string `json:"exclude_dirs"`
}

// EffectiveConfig 是合并并做最小规范化后的最终配置
//（实现层直接消费，不再做二次默认/优先级判断）。每次运行创建一份，之后不再修改。
type EffectiveConfig struct {
	Path string

	Output    string // 空串 => 就地分拣
	Recursive bool
	Lowercase bool

	Apply         bool // false => dry-run
	DuplicateMode string

	Concurrency int
	FFprobeBin  string
	ExcludeDirs []string
}

// LedgerKey 返回影响目标路径计算的配置子集（ledger 新鲜度判定键）。
func (e EffectiveConfig) LedgerKey() domain.LedgerKey {
	return domain.LedgerKey{
		Path:          e.Path,
		Output:        e.Output,
		Lowercase:     e.Lowercase,
		DuplicateMode: e.DuplicateMode,
	}
}

// Error 是配置阶段的结构化错误（带 error_code）。
type Error struct {
	Code string
	Path string
	Err  error
}

func (e *Error) Error() string {
	switch e.Code {
	case ErrCodeNotFound:
		return fmt.Sprintf("%s：未找到配置文件 %q", e.Code, e.Path)
	case ErrCodeMissingPath:
		return fmt.Sprintf("%s：配置文件 %q 缺少必填字段 path", e.Code, e.Path)
	case ErrCodeInvalid:
		if e.Err != nil {
			return fmt.Sprintf("%s：配置文件 %q 无效：%v", e.Code, e.Path, e.Err)
		}
		return fmt.Sprintf("%s：配置文件 %q 无效", e.Code, e.Path)
	default:
		if e.Err != nil {
			return fmt.Sprintf("%s：%v", e.Code, e.Err)
		}
		return e.Code
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Code 从 error 中提取 error_code；若不是 *Error 则返回空串。
func Code(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// LoadEffective 按文档约定发现并读取配置文件，然后与 CLI 参数合并为最终配置。
//
// 发现规则（固定）：
// 1) CLI 提供 path：尝试读取 <path>/arsort.json（可选）
// 2) CLI 未提供 path：必须读取 <cwd>/arsort.json（必选），且其中必须包含 path
//
// 覆盖优先级（固定）：
// - path：CLI path > config path
// - output/recursive/apply/duplicate_mode：CLI > config > 默认
// - 其他字段：仅由 config 控制（CLI 不暴露）
func LoadEffective(cwd string, cli CLIArgs) (EffectiveConfig, error) {
	cwdAbs, err := filepath.Abs(cwd)
	if err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cwd, Err: err}
	}

	if strings.TrimSpace(cli.Path) != "" {
		// CLI 给了 path：配置文件可选，位置固定在 <path>/arsort.json。
		absPath := absCleanFrom(cwdAbs, cli.Path)
		cfgPath := filepath.Join(absPath, "arsort.json")

		fc, _, err := readFileConfig(cfgPath)
		if err != nil {
			return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
		}
		return merge(absPath, cli, fc, cfgPath)
	}

	// CLI 没给 path：必须读取 <cwd>/arsort.json，且其中必须包含 path。
	cfgPath := filepath.Join(cwdAbs, "arsort.json")
	fc, exists, err := readFileConfig(cfgPath)
	if err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
	}
	if !exists {
		return EffectiveConfig{}, &Error{Code: ErrCodeNotFound, Path: cfgPath, Err: os.ErrNotExist}
	}
	if strings.TrimSpace(fc.Path) == "" {
		return EffectiveConfig{}, &Error{Code: ErrCodeMissingPath, Path: cfgPath}
	}

	absPath := absCleanFrom(cwdAbs, fc.Path)
	return merge(absPath, cli, fc, cfgPath)
}

func merge(absPath string, cli CLIArgs, fc FileConfig, cfgPath string) (EffectiveConfig, error) {
	// duplicate_mode：CLI > config > 默认
	mode := DefaultDuplicateMode
	if cli.ModeSet {
		mode = cli.Mode
	} else if strings.TrimSpace(fc.DuplicateMode) != "" {
		mode = fc.DuplicateMode
	}
	if err := validateMode(mode); err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
	}

	// output：CLI > config > 空（就地分拣）。只接受单层相对目录名。
	output := strings.TrimSpace(fc.Output)
	if cli.OutputSet {
		output = strings.TrimSpace(cli.Output)
	}
	if err := validateOutput(output); err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
	}

	// recursive：CLI > config > 默认 false
	recursive := false
	if cli.RecursiveSet {
		recursive = cli.Recursive
	} else if fc.Recursive != nil {
		recursive = *fc.Recursive
	}

	// apply：CLI > config > 默认 false（dry-run）
	apply := false
	if cli.ApplySet {
		apply = cli.Apply
	} else if fc.Apply != nil {
		apply = *fc.Apply
	}

	// lowercase：仅 config 控制；默认 true（与原始行为一致）。
	lowercase := true
	if fc.Lowercase != nil {
		lowercase = *fc.Lowercase
	}

	concurrency := fc.Concurrency
	if concurrency == 0 {
		concurrency = DefaultConcurrency
	}
	// 文档约定：范围建议 [1, 32]；超出截断。
	if concurrency < 1 {
		concurrency = 1
	}
	if concurrency > 32 {
		concurrency = 32
	}

	return EffectiveConfig{
		Path:          absPath,
		Output:        output,
		Recursive:     recursive,
		Lowercase:     lowercase,
		Apply:         apply,
		DuplicateMode: mode,
		Concurrency:   concurrency,
		FFprobeBin:    strings.TrimSpace(fc.FFprobe),
		ExcludeDirs:   append([]string(nil), fc.ExcludeDirs...),
	}, nil
}

func validateMode(m string) error {
	switch m {
	case domain.DupAutoRename, domain.DupSkip, domain.DupOverwrite:
		return nil
	case "":
		return fmt.Errorf("duplicate_mode 不能为空")
	default:
		return fmt.Errorf("duplicate_mode 只能是 auto_rename、skip 或 overwrite，实际是 %q", m)
	}
}

func validateOutput(o string) error {
	if o == "" {
		return nil
	}
	if filepath.IsAbs(o) || strings.ContainsRune(o, filepath.Separator) || o == "." || o == ".." {
		return fmt.Errorf("output 必须是单层相对目录名，实际是 %q", o)
	}
	return nil
}

// absCleanFrom 以 base 为基准，把 p 变为 clean + absolute。
// - p 若已是绝对路径：直接 Clean
// - p 若是相对路径：Join(base, p) 后 Clean
func absCleanFrom(base, p string) string {
	p = filepath.Clean(strings.TrimSpace(p))
	if p == "" {
		return ""
	}
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Clean(filepath.Join(base, p))
}

// readFileConfig 读取并解析 JSON 配置文件。
// 返回值 exists 表示该文件是否存在（不存在不算错误）。
func readFileConfig(path string) (fc FileConfig, exists bool, err error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return FileConfig{}, false, nil
		}
		return FileConfig{}, false, err
	}
	if err := json.Unmarshal(b, &fc); err != nil {
		return FileConfig{}, true, err
	}
	return fc, true, nil
}
