package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/John-Robertt/ARSort/internal/domain"
)

// ffprobe 的 JSON 输出只取我们关心的最小子集。
type ffprobeOutput struct {
	Streams []ffprobeStream `json:"streams"`
}

type ffprobeStream struct {
	CodecType string `json:"codec_type"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
}

// probeVideo 调起 ffprobe 读取视频流的像素宽高。
//
// 约束：
// - 不读全文件：ffprobe 只解析容器头
// - 不设额外超时：慢探测只占住自己的 worker 槽位，取消由 ctx 负责
func probeVideo(ctx context.Context, binary, path string) (Result, error) {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		binary = "ffprobe"
	}

	// 文件本身打不开时给出更准确的 unreadable（而不是 ffprobe 的笼统报错）。
	if _, err := os.Stat(path); err != nil {
		return Result{}, &Error{Path: path, Reason: ReasonUnreadable, Err: err}
	}

	cmd := exec.CommandContext(ctx, binary, "-v", "error", "-hide_banner", "-show_streams", "-of", "json", "--", path)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return Result{}, &Error{
			Path:   path,
			Reason: ReasonUnreadable,
			Err:    fmt.Errorf("ffprobe：%w：%s", err, strings.TrimSpace(string(out))),
		}
	}

	var parsed ffprobeOutput
	if err := json.Unmarshal(out, &parsed); err != nil {
		return Result{}, &Error{Path: path, Reason: ReasonUnsupportedFormat, Err: fmt.Errorf("ffprobe 输出解析：%w", err)}
	}

	return pickVideoStream(path, parsed.Streams)
}

// pickVideoStream 从流列表里取第一条视频流的宽高（多流容器以首条视频流为准）。
func pickVideoStream(path string, streams []ffprobeStream) (Result, error) {
	for _, s := range streams {
		if !strings.EqualFold(s.CodecType, "video") {
			continue
		}
		if s.Width <= 0 || s.Height <= 0 {
			return Result{}, &Error{
				Path:   path,
				Reason: ReasonInvalidDimensions,
				Err:    fmt.Errorf("视频流宽高非法：%dx%d", s.Width, s.Height),
			}
		}
		return Result{Kind: domain.KindVideo, Width: s.Width, Height: s.Height}, nil
	}
	return Result{}, &Error{Path: path, Reason: ReasonUnsupportedFormat, Err: fmt.Errorf("没有视频流")}
}
