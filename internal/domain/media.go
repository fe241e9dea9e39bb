package domain

// MediaKind 表示被探测文件的媒体类别。
type MediaKind string

const (
	KindImage MediaKind = "image"
	KindVideo MediaKind = "video"
)

// Orientation 表示按宽高比得到的方向分类。
type Orientation string

const (
	OrientPortrait  Orientation = "portrait"
	OrientLandscape Orientation = "landscape"
)

// Classify 是纯函数：width/height -> 方向。
//
// 约束（与产品契约一致，测试锁定）：
// - portrait 当且仅当 width < height（即 w/h < 1.0）
// - 正方形（width == height，比值恰为 1.0）归入 landscape
// - 调用方必须保证 width > 0 且 height > 0（probe 契约负责兜底）
func Classify(width, height int) Orientation {
	if width < height {
		return OrientPortrait
	}
	return OrientLandscape
}

// Dir 返回该方向对应的目标子目录名（"portrait" / "landscape"）。
func (o Orientation) Dir() string { return string(o) }
