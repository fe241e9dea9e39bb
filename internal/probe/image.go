package probe

import (
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/bep/imagemeta"

	"github.com/John-Robertt/ARSort/internal/domain"
)

// probeImage 只读取图片头部取得像素宽高（DecodeConfig，不做全量解码），
// 然后用 EXIF Orientation 修正旋转：值 5–8 表示图片应旋转 90°/270°，
// 语义宽高与存储宽高互换。查看器都按 EXIF 旋转后展示，
// 不修正的话竖拍的 JPEG 会被归错方向。
func probeImage(path string) (Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return Result{}, &Error{Path: path, Reason: ReasonUnreadable, Err: err}
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return Result{}, &Error{Path: path, Reason: ReasonUnsupportedFormat, Err: err}
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return Result{}, &Error{Path: path, Reason: ReasonInvalidDimensions}
	}

	w, h := cfg.Width, cfg.Height
	if orientationSwaps(f) {
		w, h = h, w
	}
	return Result{Kind: domain.KindImage, Width: w, Height: h}, nil
}

// orientationSwaps 读取 EXIF Orientation 并判断是否需要互换宽高。
// 元数据缺失或解析失败一律按“不互换”处理（graceful degradation：
// 方向修正是锦上添花，绝不让它弄失败一次探测）。
func orientationSwaps(f *os.File) bool {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return false
	}

	swap := false
	err := imagemeta.Decode(imagemeta.Options{
		R:       f,
		Sources: imagemeta.EXIF,
		ShouldHandleTag: func(ti imagemeta.TagInfo) bool {
			return ti.Tag == "Orientation"
		},
		HandleTag: func(ti imagemeta.TagInfo) error {
			if v, ok := tagUint(ti.Value); ok && v >= 5 && v <= 8 {
				swap = true
			}
			return nil
		},
	})
	if err != nil {
		return false
	}
	return swap
}

func tagUint(v any) (uint64, bool) {
	switch x := v.(type) {
	case uint8:
		return uint64(x), true
	case uint16:
		return uint64(x), true
	case uint32:
		return uint64(x), true
	case uint64:
		return x, true
	case int:
		if x < 0 {
			return 0, false
		}
		return uint64(x), true
	case int64:
		if x < 0 {
			return 0, false
		}
		return uint64(x), true
	default:
		return 0, false
	}
}

func extOf(path string) string {
	return strings.ToLower(filepath.Ext(path))
}
