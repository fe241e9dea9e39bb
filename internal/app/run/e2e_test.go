package run

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sync/atomic"
	"testing"

	"github.com/John-Robertt/ARSort/internal/config"
	"github.com/John-Robertt/ARSort/internal/domain"
	"github.com/John-Robertt/ARSort/internal/probe"
)

// fakeProber 按文件名返回固定的宽高，免去真实解码。
type fakeProber struct {
	dims map[string]probe.Result // key: filepath.Base(path)
	errs map[string]error
}

func (p *fakeProber) Probe(_ context.Context, path string) (probe.Result, error) {
	base := filepath.Base(path)
	if err, ok := p.errs[base]; ok {
		return probe.Result{}, err
	}
	if r, ok := p.dims[base]; ok {
		return r, nil
	}
	return probe.Result{}, &probe.Error{Path: path, Reason: probe.ReasonUnsupportedFormat}
}

func writeFile(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("创建目录失败：%v", err)
	}
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("写入文件失败：%v", err)
	}
}

func defaultEff(root string) config.EffectiveConfig {
	return config.EffectiveConfig{
		Path:          root,
		Lowercase:     true,
		DuplicateMode: domain.DupAutoRename,
		Concurrency:   2,
	}
}

func defaultProber() *fakeProber {
	return &fakeProber{dims: map[string]probe.Result{
		"a.jpg":      {Kind: domain.KindImage, Width: 800, Height: 600},
		"b.png":      {Kind: domain.KindImage, Width: 600, Height: 800},
		"square.jpg": {Kind: domain.KindImage, Width: 500, Height: 500},
		"v.mp4":      {Kind: domain.KindVideo, Width: 1080, Height: 1920},
	}}
}

func TestAnalyze_ClassifiesAndResolves(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.jpg"))
	writeFile(t, filepath.Join(root, "b.png"))
	writeFile(t, filepath.Join(root, "square.jpg"))
	writeFile(t, filepath.Join(root, "v.mp4"))
	writeFile(t, filepath.Join(root, "c.txt"))

	ledger, err := Analyze(context.Background(), defaultEff(root), defaultProber(), nil)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}

	if ledger.RunID == "" {
		t.Fatalf("run_id 不能为空")
	}
	if ledger.Cancelled {
		t.Fatalf("不应标记取消")
	}
	if len(ledger.Items) != 5 {
		t.Fatalf("期望 5 条，实际 %d：%+v", len(ledger.Items), ledger.Items)
	}

	byRel := make(map[string]domain.ClassifiedItem, len(ledger.Items))
	for _, it := range ledger.Items {
		byRel[it.Src] = it
	}

	if it := byRel["a.jpg"]; it.Orientation != domain.OrientLandscape || it.Dst != filepath.Join("landscape", "a.jpg") {
		t.Fatalf("a.jpg 判定错误：%+v", it)
	}
	if it := byRel["b.png"]; it.Orientation != domain.OrientPortrait || it.Dst != filepath.Join("portrait", "b.png") {
		t.Fatalf("b.png 判定错误：%+v", it)
	}
	// 正方形归横屏。
	if it := byRel["square.jpg"]; it.Orientation != domain.OrientLandscape {
		t.Fatalf("正方形应判横屏：%+v", it)
	}
	if it := byRel["v.mp4"]; it.Kind != domain.KindVideo || it.Orientation != domain.OrientPortrait {
		t.Fatalf("v.mp4 判定错误：%+v", it)
	}
	if it := byRel["c.txt"]; it.Status != domain.StatusSkipUnsupported {
		t.Fatalf("c.txt 应为 skip_unsupported：%+v", it)
	}

	s := ledger.Stats
	if s.Found != 5 || s.Supported != 4 || s.Portrait != 2 || s.Landscape != 2 || s.SkippedUnsupported != 1 {
		t.Fatalf("统计不符合预期：%+v", s)
	}
}

func TestAnalyze_ProbeFailureIsItemLevel(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.jpg"))
	writeFile(t, filepath.Join(root, "bad.jpg"))

	p := defaultProber()
	p.errs = map[string]error{
		"bad.jpg": &probe.Error{Path: "bad.jpg", Reason: probe.ReasonUnreadable, Err: errors.New("boom")},
	}

	ledger, err := Analyze(context.Background(), defaultEff(root), p, nil)
	if err != nil {
		t.Fatalf("单文件失败不应中断运行：%v", err)
	}
	if ledger.Stats.Errors != 1 || ledger.Stats.Supported != 1 {
		t.Fatalf("统计不符合预期：%+v", ledger.Stats)
	}
	for _, it := range ledger.Items {
		if it.Src == "bad.jpg" {
			if it.Status != domain.StatusError || it.ErrorMsg == "" {
				t.Fatalf("bad.jpg 应为 error：%+v", it)
			}
		}
	}
}

func TestAnalyze_RootMissing(t *testing.T) {
	eff := defaultEff(filepath.Join(t.TempDir(), "nope"))
	_, err := Analyze(context.Background(), eff, defaultProber(), nil)
	if domain.ErrCode(err) != domain.ErrCodeRootNotFound {
		t.Fatalf("期望 %s，实际：%v", domain.ErrCodeRootNotFound, err)
	}
}

func TestAnalyze_Idempotent(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.jpg"))
	writeFile(t, filepath.Join(root, "b.png"))

	eff := defaultEff(root)
	first, err := Analyze(context.Background(), eff, defaultProber(), nil)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	second, err := Analyze(context.Background(), eff, defaultProber(), nil)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}

	// run_id/时间之外完全一致：尤其是不允许出现 "a (1).jpg" 漂移。
	if !reflect.DeepEqual(first.Items, second.Items) {
		t.Fatalf("两次 analyze 结果不一致：\n1=%+v\n2=%+v", first.Items, second.Items)
	}
}

func TestAnalyze_SameBasenameGetsAutoRename(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.jpg"))
	writeFile(t, filepath.Join(root, "sub", "a.jpg"))

	eff := defaultEff(root)
	eff.Recursive = true

	ledger, err := Analyze(context.Background(), eff, defaultProber(), nil)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}

	// 枚举顺序（RelPath 排序）：a.jpg 在 sub/a.jpg 之前。
	dsts := make(map[string]string)
	for _, it := range ledger.Items {
		dsts[it.Src] = it.Dst
	}
	if dsts["a.jpg"] != filepath.Join("landscape", "a.jpg") {
		t.Fatalf("第一个 a.jpg 目的地错误：%q", dsts["a.jpg"])
	}
	if dsts[filepath.Join("sub", "a.jpg")] != filepath.Join("landscape", "a (1).jpg") {
		t.Fatalf("第二个 a.jpg 应改名：%q", dsts[filepath.Join("sub", "a.jpg")])
	}
}

// allLandscapeProber 对任何文件都返回同一横屏尺寸，用于大批量文件的流程测试。
type allLandscapeProber struct{}

func (allLandscapeProber) Probe(_ context.Context, _ string) (probe.Result, error) {
	return probe.Result{Kind: domain.KindImage, Width: 800, Height: 600}, nil
}

// cancellingProber 在第 after 次探测时触发取消，模拟运行中途收到中断。
type cancellingProber struct {
	allLandscapeProber
	cancel context.CancelFunc
	after  int32
	n      int32
}

func (p *cancellingProber) Probe(ctx context.Context, path string) (probe.Result, error) {
	if atomic.AddInt32(&p.n, 1) == p.after {
		p.cancel()
	}
	return p.allLandscapeProber.Probe(ctx, path)
}

func writeManyJPGs(t *testing.T, root string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		writeFile(t, filepath.Join(root, fmt.Sprintf("f%02d.jpg", i)))
	}
}

func TestAnalyze_CancelMidRunKeepsPartialLedger(t *testing.T) {
	root := t.TempDir()
	const total = 30
	writeManyJPGs(t, root, total)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eff := defaultEff(root)
	eff.Concurrency = 1

	ledger, err := Analyze(ctx, eff, &cancellingProber{cancel: cancel, after: 3}, nil)
	if err != nil {
		t.Fatalf("取消不应返回 error：%v", err)
	}
	if !ledger.Cancelled {
		t.Fatalf("应标记 cancelled")
	}
	// 取消前完成的条目保留；未派发的条目不进 ledger。
	if n := len(ledger.Items); n < 3 || n >= total {
		t.Fatalf("期望部分结果（3..%d 条），实际 %d", total-1, n)
	}
	if ledger.Stats.Found != total {
		t.Fatalf("found 应为全部扫描到的文件数：%+v", ledger.Stats)
	}
	if ledger.Stats.Supported != len(ledger.Items) || ledger.Stats.Landscape != len(ledger.Items) {
		t.Fatalf("统计必须与完成的条目一致：%+v", ledger.Stats)
	}
	for _, it := range ledger.Items {
		if it.Status != domain.StatusOK {
			t.Fatalf("完成的条目应为 ok：%+v", it)
		}
	}
}

func TestSort_CancelMidRunKeepsPartialReport(t *testing.T) {
	root := t.TempDir()
	const total = 30
	writeManyJPGs(t, root, total)

	eff := defaultEff(root)
	eff.Concurrency = 1
	ledger, err := Analyze(context.Background(), eff, allLandscapeProber{}, nil)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var moves int32
	orig := moveFunc
	moveFunc = func(src, dst string) (bool, error) {
		if atomic.AddInt32(&moves, 1) == 3 {
			cancel()
		}
		return orig(src, dst)
	}
	defer func() { moveFunc = orig }()

	eff.Apply = true
	report, err := Sort(ctx, eff, ledger, nil)
	if err != nil {
		t.Fatalf("取消不应返回 error：%v", err)
	}
	if !report.Cancelled {
		t.Fatalf("应标记 cancelled")
	}
	done := len(report.Items)
	if done < 3 || done >= total {
		t.Fatalf("期望部分结果（3..%d 条），实际 %d", total-1, done)
	}
	if report.Stats.Moved != done || report.Stats.Errors != 0 {
		t.Fatalf("统计必须与完成的条目一致：%+v", report.Stats)
	}
	// 已报告的条目确实落盘；未派发的源文件原地保留。
	movedSrc := make(map[string]bool, done)
	for _, it := range report.Items {
		if it.Status != domain.MoveStatusMoved {
			t.Fatalf("完成的条目应为 moved：%+v", it)
		}
		if _, err := os.Stat(filepath.Join(root, it.Dst)); err != nil {
			t.Fatalf("目的地应存在：%v", err)
		}
		movedSrc[it.Src] = true
	}
	for _, it := range ledger.Items {
		if movedSrc[it.Src] {
			continue
		}
		if _, err := os.Stat(filepath.Join(root, it.Src)); err != nil {
			t.Fatalf("未处理的源文件应保留：%v", err)
		}
	}
}

func TestAnalyze_Cancelled(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.jpg"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ledger, err := Analyze(ctx, defaultEff(root), defaultProber(), nil)
	if err != nil {
		t.Fatalf("取消不应返回 error：%v", err)
	}
	if !ledger.Cancelled {
		t.Fatalf("应标记 cancelled")
	}
}

func TestSort_DryRunDoesNotTouchDisk(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.jpg"))
	writeFile(t, filepath.Join(root, "b.png"))

	eff := defaultEff(root)
	ledger, err := Analyze(context.Background(), eff, defaultProber(), nil)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}

	report, err := Sort(context.Background(), eff, ledger, nil)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if !report.DryRun {
		t.Fatalf("默认必须是 dry-run")
	}
	if report.Stats.Moved != 2 {
		t.Fatalf("期望模拟移动 2 条，实际 %+v", report.Stats)
	}
	for _, it := range report.Items {
		if it.Status != domain.MoveStatusSimulated {
			t.Fatalf("dry-run 条目应为 simulated：%+v", it)
		}
	}
	// 源文件原地不动。
	if _, err := os.Stat(filepath.Join(root, "a.jpg")); err != nil {
		t.Fatalf("dry-run 不应移动文件：%v", err)
	}
}

func TestSort_ApplyMovesFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.jpg"))
	writeFile(t, filepath.Join(root, "b.png"))

	eff := defaultEff(root)
	ledger, err := Analyze(context.Background(), eff, defaultProber(), nil)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}

	eff.Apply = true
	report, err := Sort(context.Background(), eff, ledger, nil)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if report.Stats.Moved != 2 || report.Stats.Errors != 0 {
		t.Fatalf("统计不符合预期：%+v items=%+v", report.Stats, report.Items)
	}
	if _, err := os.Stat(filepath.Join(root, "landscape", "a.jpg")); err != nil {
		t.Fatalf("a.jpg 应已移入 landscape：%v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "portrait", "b.png")); err != nil {
		t.Fatalf("b.png 应已移入 portrait：%v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "a.jpg")); !os.IsNotExist(err) {
		t.Fatalf("源文件应已消失：%v", err)
	}
}

func TestSort_StaleLedgerRejected(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.jpg"))

	eff := defaultEff(root)
	ledger, err := Analyze(context.Background(), eff, defaultProber(), nil)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}

	// 改变参与 key 的配置：必须拒绝。
	eff.DuplicateMode = domain.DupSkip
	_, err = Sort(context.Background(), eff, ledger, nil)
	if domain.ErrCode(err) != domain.ErrCodeStaleLedger {
		t.Fatalf("期望 %s，实际：%v", domain.ErrCodeStaleLedger, err)
	}
}

func TestSort_EmptyLedgerRejected(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "c.txt"))

	eff := defaultEff(root)
	ledger, err := Analyze(context.Background(), eff, defaultProber(), nil)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}

	_, err = Sort(context.Background(), eff, ledger, nil)
	if domain.ErrCode(err) != domain.ErrCodeEmptyLedger {
		t.Fatalf("期望 %s，实际：%v", domain.ErrCodeEmptyLedger, err)
	}
}

func TestSort_CommitTimeConflict_AutoRename(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.jpg"))

	eff := defaultEff(root)
	ledger, err := Analyze(context.Background(), eff, defaultProber(), nil)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}

	// analyze 与 sort 之间，目的地被外部占走。
	writeFile(t, filepath.Join(root, "landscape", "a.jpg"))

	eff.Apply = true
	report, err := Sort(context.Background(), eff, ledger, nil)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if len(report.Items) != 1 {
		t.Fatalf("期望 1 条，实际 %+v", report.Items)
	}
	it := report.Items[0]
	if it.Status != domain.MoveStatusMoved || it.Dst != filepath.Join("landscape", "a (1).jpg") {
		t.Fatalf("应重解析为 a (1).jpg：%+v", it)
	}
	if _, err := os.Stat(filepath.Join(root, "landscape", "a (1).jpg")); err != nil {
		t.Fatalf("重解析目的地应存在：%v", err)
	}
}

func TestSort_CommitTimeConflict_SkipMode(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.jpg"))

	eff := defaultEff(root)
	eff.DuplicateMode = domain.DupSkip
	ledger, err := Analyze(context.Background(), eff, defaultProber(), nil)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}

	writeFile(t, filepath.Join(root, "landscape", "a.jpg"))

	eff.Apply = true
	report, err := Sort(context.Background(), eff, ledger, nil)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if report.Items[0].Status != domain.MoveStatusSkipDup {
		t.Fatalf("skip 模式下冲突应跳过：%+v", report.Items[0])
	}
	// 源文件原地不动，目的地不被覆盖。
	if _, err := os.Stat(filepath.Join(root, "a.jpg")); err != nil {
		t.Fatalf("源文件应保留：%v", err)
	}
}

func TestSort_ReportKeepsAnalyzeCounters(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.jpg"))
	writeFile(t, filepath.Join(root, "bad.jpg"))

	p := defaultProber()
	p.errs = map[string]error{
		"bad.jpg": &probe.Error{Path: "bad.jpg", Reason: probe.ReasonUnreadable, Err: errors.New("boom")},
	}

	eff := defaultEff(root)
	ledger, err := Analyze(context.Background(), eff, p, nil)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}

	report, err := Sort(context.Background(), eff, ledger, nil)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	// analyze 阶段的计数以快照进入报告，不被 move 结果覆盖。
	if report.Analyzed != ledger.Stats {
		t.Fatalf("期望 analyze 快照 %+v，实际 %+v", ledger.Stats, report.Analyzed)
	}
	if report.Analyzed.Errors != 1 {
		t.Fatalf("analyze 阶段的探测错误不应丢失：%+v", report.Analyzed)
	}
	// sort 阶段本身没有失败。
	if report.Stats.Errors != 0 || report.Stats.Moved != 1 {
		t.Fatalf("sort 阶段计数不符合预期：%+v", report.Stats)
	}
}

func TestSort_MissingSourceIsItemLevelFailure(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.jpg"))
	writeFile(t, filepath.Join(root, "b.png"))

	eff := defaultEff(root)
	ledger, err := Analyze(context.Background(), eff, defaultProber(), nil)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}

	// analyze 与 sort 之间，一个源文件被外部删除。
	if err := os.Remove(filepath.Join(root, "a.jpg")); err != nil {
		t.Fatalf("删除失败：%v", err)
	}

	eff.Apply = true
	report, err := Sort(context.Background(), eff, ledger, nil)
	if err != nil {
		t.Fatalf("单条失败不应中断运行：%v", err)
	}
	if report.Stats.Errors != 1 || report.Stats.Moved != 1 {
		t.Fatalf("统计不符合预期：%+v items=%+v", report.Stats, report.Items)
	}
}
