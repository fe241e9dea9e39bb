package run

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/John-Robertt/ARSort/internal/app/planner"
	"github.com/John-Robertt/ARSort/internal/config"
	"github.com/John-Robertt/ARSort/internal/domain"
	"github.com/John-Robertt/ARSort/internal/infra/fsx"
	"github.com/John-Robertt/ARSort/internal/probe"
	"github.com/John-Robertt/ARSort/internal/scan"
)

// Analyze 执行分析阶段：扫描 -> 并发探测 -> 串行解析目的地 -> ledger。
//
// 运行级失败（根目录不存在、扫描失败）返回 error；单文件失败一律降级为
// 条目级 status=error，绝不中断整次运行。取消时返回已完成部分的 ledger
//（Cancelled=true），不返回 error。
func Analyze(ctx context.Context, eff config.EffectiveConfig, prober probe.Prober, obs Observer) (domain.Ledger, error) {
	started := time.Now().UTC()

	if obs != nil {
		obs.OnStart(eff)
	}

	if err := ValidateRoot(eff.Path); err != nil {
		return domain.Ledger{}, err
	}

	// 分类目录提前建好：解析器要把目录现状纳入占用集合，
	// 且首次运行就能让用户看到最终的目录形状。
	for _, o := range []domain.Orientation{domain.OrientPortrait, domain.OrientLandscape} {
		if err := fsx.EnsureDir(planner.CategoryDir(eff.Path, eff.Output, o)); err != nil {
			return domain.Ledger{}, domain.IOError(domain.ErrCodeScanFailed, "创建分类目录失败", err)
		}
	}

	scanStarted := time.Now()
	excludes := append(planner.ScanExcludes(eff.Output), eff.ExcludeDirs...)
	files, err := scan.ScanMedia(eff.Path, eff.Recursive, excludes)
	if err != nil {
		return domain.Ledger{}, domain.IOError(domain.ErrCodeScanFailed, "扫描失败", err)
	}
	if obs != nil {
		obs.OnPhaseDone("scan", map[string]any{"files": len(files)}, time.Since(scanStarted))
	}

	// 探测阶段：按文件并发（worker pool），结果按枚举顺序回填。
	workers := eff.Concurrency
	if workers < 1 {
		workers = 1
	}
	if obs != nil {
		obs.OnPhaseDone("probe", map[string]any{
			"workers":     workers,
			"total_files": len(files),
		}, 0)
	}

	type probeOut struct {
		idx         int
		unsupported bool
		res         probe.Result
		err         error
		dur         time.Duration
	}

	jobs := make(chan int)
	results := make(chan probeOut, len(files))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				f := files[idx]
				oneStarted := time.Now()

				out := probeOut{idx: idx}
				if _, ok := probe.KindForExt(f.Ext); !ok {
					out.unsupported = true
				} else {
					out.res, out.err = prober.Probe(ctx, f.AbsPath)
				}
				out.dur = time.Since(oneStarted)
				results <- out
			}
		}()
	}

	go func() {
		defer close(jobs)
		for i := range files {
			select {
			case <-ctx.Done():
				// 取消：不再派发新任务；在途任务自然结束。
				return
			case jobs <- i:
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	// 单一聚合消费者：回填结果 + 发进度事件。
	outs := make([]*probeOut, len(files))
	done := 0
	for r := range results {
		r := r
		outs[r.idx] = &r
		done++
		if obs != nil {
			obs.OnItemDone(done, len(files), files[r.idx].RelPath, probeStatus(r.unsupported, r.err), r.dur)
		}
	}

	// 目的地解析：严格按枚举顺序串行执行。这是两次 analyze 产出
	// 一致（幂等）的前提——并发探测的完成顺序不允许影响改名结果。
	resolveStarted := time.Now()
	resolver := planner.NewResolver(eff.Lowercase, eff.DuplicateMode)

	ledger := domain.Ledger{
		RunID:     uuid.NewString(),
		CreatedAt: started,
		Key:       eff.LedgerKey(),
		Recursive: eff.Recursive,
		Cancelled: ctx.Err() != nil,
		Items:     make([]domain.ClassifiedItem, 0, len(files)),
	}
	ledger.Stats.Found = len(files)

	for i := range files {
		out := outs[i]
		if out == nil {
			// 取消前未被派发：不进入 ledger。
			continue
		}
		f := files[i]

		it := domain.ClassifiedItem{Src: f.RelPath}
		switch {
		case out.unsupported:
			it.Status = domain.StatusSkipUnsupported
		case out.err != nil:
			it.Status = domain.StatusError
			it.ErrorMsg = out.err.Error()
		default:
			it.Kind = out.res.Kind
			it.Width = out.res.Width
			it.Height = out.res.Height
			it.Orientation = domain.Classify(out.res.Width, out.res.Height)

			dir := planner.CategoryDir(eff.Path, eff.Output, it.Orientation)
			name, status, err := resolver.Resolve(dir, f.Base+f.Ext)
			if err != nil {
				it.Status = domain.StatusError
				it.ErrorMsg = fmt.Sprintf("解析目的地失败：%v", err)
				break
			}
			it.Status = status

			rel, err := filepath.Rel(eff.Path, filepath.Join(dir, name))
			if err != nil {
				it.Status = domain.StatusError
				it.ErrorMsg = fmt.Sprintf("解析目的地失败：%v", err)
				break
			}
			it.Dst = rel
		}
		ledger.Items = append(ledger.Items, it)
	}

	ledger.Finalize()
	if obs != nil {
		obs.OnPhaseDone("resolve", map[string]any{
			"portrait":  ledger.Stats.Portrait,
			"landscape": ledger.Stats.Landscape,
			"errors":    ledger.Stats.Errors,
		}, time.Since(resolveStarted))
	}
	return ledger, nil
}

// Sort 执行提交阶段：校验 ledger 新鲜度 -> 并发移动（或 dry-run 模拟）。
//
// ledger 的配置键与当前配置不一致时拒绝执行（stale_ledger）；没有可移动
// 条目时拒绝执行（empty_ledger）。单条移动失败降级为条目级 failed。
func Sort(ctx context.Context, eff config.EffectiveConfig, ledger domain.Ledger, obs Observer) (domain.SortReport, error) {
	started := time.Now().UTC()

	if obs != nil {
		obs.OnStart(eff)
	}

	if ledger.Key != eff.LedgerKey() {
		return domain.SortReport{}, domain.Precondition(domain.ErrCodeStaleLedger,
			"预览结果与当前配置不一致，请重新 analyze")
	}

	sortable := ledger.SortableItems()
	if len(sortable) == 0 {
		return domain.SortReport{}, domain.Precondition(domain.ErrCodeEmptyLedger,
			"预览结果里没有可移动的文件")
	}

	report := domain.SortReport{
		Path:      eff.Path,
		DryRun:    !eff.Apply,
		RunID:     ledger.RunID,
		StartedAt: started,
		Analyzed:  ledger.Stats,
		Items:     make([]domain.MoveResult, 0, len(sortable)),
	}

	if eff.Apply {
		for _, o := range []domain.Orientation{domain.OrientPortrait, domain.OrientLandscape} {
			if err := fsx.EnsureDir(planner.CategoryDir(eff.Path, eff.Output, o)); err != nil {
				return domain.SortReport{}, domain.IOError(domain.ErrCodeScanFailed, "创建分类目录失败", err)
			}
		}
	}

	workers := eff.Concurrency
	if workers < 1 {
		workers = 1
	}
	if obs != nil {
		obs.OnPhaseDone("move", map[string]any{
			"workers":     workers,
			"total_items": len(sortable),
			"dry_run":     !eff.Apply,
		}, 0)
	}

	type moveOut struct {
		idx int
		res domain.MoveResult
		dur time.Duration
	}

	mv := &mover{
		root:    eff.Path,
		mode:    eff.DuplicateMode,
		apply:   eff.Apply,
		claimed: make(map[string]struct{}),
	}

	jobs := make(chan int)
	results := make(chan moveOut, len(sortable))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				oneStarted := time.Now()
				res := mv.moveOne(sortable[idx])
				results <- moveOut{idx: idx, res: res, dur: time.Since(oneStarted)}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for i := range sortable {
			select {
			case <-ctx.Done():
				return
			case jobs <- i:
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	outs := make([]*domain.MoveResult, len(sortable))
	done := 0
	for r := range results {
		res := r.res
		outs[r.idx] = &res
		done++
		if obs != nil {
			obs.OnItemDone(done, len(sortable), res.Src, res.Status, r.dur)
		}
	}

	// 报告按 ledger 顺序输出（与完成顺序无关）。
	for _, res := range outs {
		if res == nil {
			continue
		}
		report.Items = append(report.Items, *res)
	}

	report.Cancelled = ctx.Err() != nil
	report.FinishedAt = time.Now().UTC()
	report.Finalize()
	return report, nil
}

// ValidateRoot 校验扫描根目录存在且是目录。
// CLI 在拿运行锁之前也要调用它：锁文件放在 <root>/cache/ 下，
// 不能因为建锁目录而把不存在的根目录"顺手"创建出来。
func ValidateRoot(root string) error {
	fi, err := os.Stat(root)
	if err != nil {
		if os.IsNotExist(err) {
			return domain.Precondition(domain.ErrCodeRootNotFound, "扫描根目录不存在："+root)
		}
		return domain.IOError(domain.ErrCodeScanFailed, "无法访问扫描根目录", err)
	}
	if !fi.IsDir() {
		return domain.Precondition(domain.ErrCodeRootNotDir, "扫描根目录不是目录："+root)
	}
	return nil
}

func probeStatus(unsupported bool, err error) string {
	switch {
	case unsupported:
		return domain.StatusSkipUnsupported
	case err != nil:
		return domain.StatusError
	default:
		return domain.StatusOK
	}
}

// 通过可替换的函数指针，让测试能稳定模拟移动期间的错误与取消时序。
var moveFunc = fsx.Move

// mover 负责 sort 阶段的单条移动，并在提交时刻重新校验目的地占用。
//
// analyze 与 sort 之间磁盘可能被外部改动：目的地被占走时，按 duplicate_mode
// 重新决策（auto_rename 重新探测空位；skip 跳过）。claimed 记录本次运行
// 已经分配出去的目的地，保证并发 worker 不会把两个源文件分给同一个名字。
type mover struct {
	root  string
	mode  string
	apply bool

	mu      sync.Mutex
	claimed map[string]struct{}
}

func (m *mover) moveOne(it domain.ClassifiedItem) domain.MoveResult {
	res := domain.MoveResult{Src: it.Src, Dst: it.Dst}

	srcAbs := filepath.Join(m.root, it.Src)
	dstAbs := filepath.Join(m.root, it.Dst)

	if !m.apply {
		// dry-run：只计数，不触碰磁盘、不占名（ledger 已经保证了名字互斥）。
		res.Status = domain.MoveStatusSimulated
		return res
	}

	if _, err := os.Lstat(srcAbs); err != nil {
		res.Status = domain.MoveStatusFailed
		res.ErrorMsg = fmt.Sprintf("源文件不可用：%v", err)
		return res
	}

	finalAbs, skip := m.claimDst(dstAbs, it.Status)
	if skip {
		res.Status = domain.MoveStatusSkipDup
		return res
	}
	if finalAbs != dstAbs {
		rel, err := filepath.Rel(m.root, finalAbs)
		if err != nil {
			res.Status = domain.MoveStatusFailed
			res.ErrorMsg = fmt.Sprintf("解析目的地失败：%v", err)
			return res
		}
		res.Dst = rel
	}

	copied, err := moveFunc(srcAbs, finalAbs)
	if err != nil {
		res.Status = domain.MoveStatusFailed
		res.ErrorMsg = err.Error()
		return res
	}
	if copied {
		res.Status = domain.MoveStatusMovedCopy
	} else {
		res.Status = domain.MoveStatusMoved
	}
	return res
}

// claimDst 在提交时刻为条目占下最终目的地。
// 返回 skip=true 表示按 skip 策略放弃该条目。
func (m *mover) claimDst(dstAbs, itemStatus string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	dir := filepath.Dir(dstAbs)
	taken := func(name string) bool {
		p := filepath.Join(dir, name)
		if _, ok := m.claimed[p]; ok {
			return true
		}
		_, err := os.Lstat(p)
		return err == nil
	}

	// overwrite 判定在 analyze 已经做出：提交时按原样覆盖。
	if itemStatus == domain.StatusOKOverwrite {
		m.claimed[dstAbs] = struct{}{}
		return dstAbs, false
	}

	name := filepath.Base(dstAbs)
	if !taken(name) {
		m.claimed[dstAbs] = struct{}{}
		return dstAbs, false
	}

	// 目的地在 analyze 之后被占走：按策略重新决策。
	switch m.mode {
	case domain.DupSkip:
		return "", true
	case domain.DupOverwrite:
		m.claimed[dstAbs] = struct{}{}
		return dstAbs, false
	default: // auto_rename
		cand := planner.AllocName(name, taken)
		p := filepath.Join(dir, cand)
		m.claimed[p] = struct{}{}
		return p, false
	}
}
