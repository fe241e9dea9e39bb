package domain

import (
	"testing"
	"time"
)

func TestSortReportFinalize_CountsAndUTC(t *testing.T) {
	loc := time.FixedZone("UTC+8", 8*3600)
	r := SortReport{
		StartedAt:  time.Date(2026, 3, 1, 10, 0, 0, 0, loc),
		FinishedAt: time.Date(2026, 3, 1, 10, 0, 5, 0, loc),
		Analyzed:   RunStats{Found: 7, Supported: 5, Errors: 2, SkippedDuplicate: 1},
		Items: []MoveResult{
			{Src: "a.jpg", Dst: "landscape/a.jpg", Status: MoveStatusMoved},
			{Src: "b.png", Dst: "portrait/b.png", Status: MoveStatusMovedCopy},
			{Src: "c.mp4", Dst: "landscape/c.mp4", Status: MoveStatusSimulated},
			{Src: "d.jpg", Dst: "landscape/d.jpg", Status: MoveStatusSkipDup},
			{Src: "e.jpg", Dst: "", Status: MoveStatusFailed, ErrorMsg: "x"},
		},
	}
	r.Finalize()

	if r.Stats.Moved != 3 || r.Stats.SkippedDuplicate != 1 || r.Stats.Errors != 1 {
		t.Fatalf("计数不符合预期：%+v", r.Stats)
	}
	// analyze 阶段的快照不参与重算：探测错误与 analyze 时的重名跳过必须原样保留。
	want := RunStats{Found: 7, Supported: 5, Errors: 2, SkippedDuplicate: 1}
	if r.Analyzed != want {
		t.Fatalf("analyze 快照被改写：%+v", r.Analyzed)
	}
	if r.StartedAt.Location() != time.UTC || r.FinishedAt.Location() != time.UTC {
		t.Fatalf("时间必须统一为 UTC")
	}
}
