package probe

import (
	"context"
	"errors"
	"fmt"

	"github.com/John-Robertt/ARSort/internal/domain"
)

// 探测失败的原因（稳定机器码）。
const (
	ReasonUnreadable        = "unreadable"
	ReasonUnsupportedFormat = "unsupported_format"
	ReasonInvalidDimensions = "invalid_dimensions"
)

// Error 是媒体探测的结构化失败。
// 上层把它降级为条目级 error，绝不中断整次运行。
type Error struct {
	Path   string
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("探测失败（%s）：%q：%v", e.Reason, e.Path, e.Err)
	}
	return fmt.Sprintf("探测失败（%s）：%q", e.Reason, e.Path)
}

func (e *Error) Unwrap() error { return e.Err }

// Reason 从 error 中提取探测失败原因；若不是 *Error 则返回空串。
func Reason(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return ""
}

// Result 是探测契约的返回值：kind + 正的像素宽高。
type Result struct {
	Kind   domain.MediaKind
	Width  int
	Height int
}

// Prober 是引擎消费的窄契约：给定路径，返回 (kind, width, height) 或失败。
// 引擎与测试都只依赖该接口，不依赖具体解码实现。
type Prober interface {
	Probe(ctx context.Context, path string) (Result, error)
}

// KindForExt 按扩展名（小写，带点）判定媒体类别。
// 返回 false 的扩展名永远不会进入 Probe：上游直接记为 skip_unsupported。
func KindForExt(ext string) (domain.MediaKind, bool) {
	switch ext {
	case ".jpg", ".jpeg", ".png":
		return domain.KindImage, true
	case ".mp4", ".mov":
		return domain.KindVideo, true
	default:
		return "", false
	}
}

// MediaProber 是默认实现：图片走 stdlib 解码头 + EXIF 方向，视频走 ffprobe。
type MediaProber struct {
	// FFprobeBin 是 ffprobe 可执行文件路径；空串表示用 PATH 里的 "ffprobe"。
	FFprobeBin string
}

func New(ffprobeBin string) *MediaProber {
	return &MediaProber{FFprobeBin: ffprobeBin}
}

func (p *MediaProber) Probe(ctx context.Context, path string) (Result, error) {
	kind, ok := KindForExt(extOf(path))
	if !ok {
		// 正常流程不会走到这里：扩展名过滤在 analyze 上游完成。
		return Result{}, &Error{Path: path, Reason: ReasonUnsupportedFormat}
	}

	switch kind {
	case domain.KindVideo:
		return probeVideo(ctx, p.FFprobeBin, path)
	default:
		return probeImage(path)
	}
}
