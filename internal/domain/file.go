package domain

// MediaFile 描述一次扫描得到的候选文件（只做 stat，不读内容）。
//
// 不变量（实现必须遵守）：
// - AbsPath 必须是 clean + absolute
// - 扫描阶段只做 stat，不读文件内容；尺寸探测发生在 analyze 阶段
type MediaFile struct {
	AbsPath string
	RelPath string
	Base    string // filename without ext
	Ext     string // ".jpg"（小写）
	Size    int64
	ModUnix int64
}
