package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/John-Robertt/ARSort/internal/app/run"
	"github.com/John-Robertt/ARSort/internal/config"
	"github.com/John-Robertt/ARSort/internal/domain"
	"github.com/John-Robertt/ARSort/internal/infra/cache"
	"github.com/John-Robertt/ARSort/internal/infra/lockx"
	"github.com/John-Robertt/ARSort/internal/probe"
)

// 退出码约定：0 成功；1 运行失败（含条目级失败）；2 参数/用法错误。
var (
	errUsage        = errors.New("用法错误")
	errItemFailures = errors.New("存在失败条目（详见输出）")
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := execute(ctx)
	stop()
	os.Exit(code)
}

func execute(ctx context.Context) int {
	root := newRootCmd()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if errors.Is(err, errUsage) {
			return 2
		}
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "arsort",
		Short:         "按宽高比把图片/视频分拣进 portrait/ 与 landscape/",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return fmt.Errorf("%w：%v", errUsage, err)
	})
	root.AddCommand(newAnalyzeCmd(), newSortCmd())
	return root
}

// cliFlags 收集两个子命令共享的入口参数；Changed 判定留到 RunE 里做。
type cliFlags struct {
	output    string
	recursive bool
	mode      string
	apply     bool
}

func (f *cliFlags) register(cmd *cobra.Command, withApply bool) {
	cmd.Flags().StringVar(&f.output, "output", "", "输出子目录（默认就地分拣）")
	cmd.Flags().BoolVar(&f.recursive, "recursive", false, "递归扫描子目录")
	cmd.Flags().StringVar(&f.mode, "mode", "", "重名策略：auto_rename|skip|overwrite（默认 auto_rename）")
	if withApply {
		cmd.Flags().BoolVar(&f.apply, "apply", false, "真正移动文件（默认 dry-run）")
	}
}

func (f *cliFlags) toCLIArgs(cmd *cobra.Command, args []string) config.CLIArgs {
	cli := config.CLIArgs{
		Output:    f.output,
		OutputSet: cmd.Flags().Changed("output"),

		Mode:    f.mode,
		ModeSet: cmd.Flags().Changed("mode"),

		Recursive:    f.recursive,
		RecursiveSet: cmd.Flags().Changed("recursive"),

		Apply:    f.apply,
		ApplySet: cmd.Flags().Changed("apply"),
	}
	if len(args) == 1 {
		cli.Path = args[0]
	}
	return cli
}

func newAnalyzeCmd() *cobra.Command {
	f := &cliFlags{}
	cmd := &cobra.Command{
		Use:   "analyze [path]",
		Short: "扫描并分类，生成可核对的预览（不移动文件）",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return analyzeRun(cmd.Context(), f.toCLIArgs(cmd, args))
		},
	}
	f.register(cmd, false)
	return cmd
}

func newSortCmd() *cobra.Command {
	f := &cliFlags{}
	cmd := &cobra.Command{
		Use:   "sort [path]",
		Short: "按上一次 analyze 的预览执行移动（默认 dry-run）",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return sortRun(cmd.Context(), f.toCLIArgs(cmd, args))
		},
	}
	f.register(cmd, true)
	return cmd
}

func analyzeRun(ctx context.Context, cli config.CLIArgs) error {
	eff, store, lock, err := setup(cli)
	if err != nil {
		return err
	}
	defer lock.Release()

	progressW, interactive := pickProgressWriter()
	var obs run.Observer
	if interactive {
		obs = newProgressUI(progressW)
	}

	ledger, err := run.Analyze(ctx, eff, probe.New(eff.FFprobeBin), obs)
	if err != nil {
		return err
	}

	if err := store.SaveLedger(ledger); err != nil {
		return fmt.Errorf("写入 ledger.json 失败：%w", err)
	}

	emitLedger(ledger, store.LedgerPath())
	if ledger.Stats.Errors > 0 {
		return errItemFailures
	}
	return nil
}

func sortRun(ctx context.Context, cli config.CLIArgs) error {
	eff, store, lock, err := setup(cli)
	if err != nil {
		return err
	}
	defer lock.Release()

	ledger, ok, err := store.LoadLedger()
	if err != nil {
		return fmt.Errorf("读取 ledger.json 失败：%w", err)
	}
	if !ok {
		return domain.Precondition(domain.ErrCodeEmptyLedger,
			"没有可用的预览结果，请先运行 arsort analyze")
	}

	progressW, interactive := pickProgressWriter()
	var obs run.Observer
	if interactive {
		obs = newProgressUI(progressW)
	}

	report, err := run.Sort(ctx, eff, ledger, obs)
	if err != nil {
		return err
	}

	if eff.Apply {
		if err := store.SaveReport(report); err != nil {
			return fmt.Errorf("写入 report.json 失败：%w", err)
		}
		// 已执行的预览作废：防止同一份 ledger 被重放第二次。
		if !report.Cancelled {
			if err := store.DropLedger(); err != nil {
				fmt.Fprintf(os.Stderr, "清理 ledger.json 失败：%v\n", err)
			}
		}
	}

	emitReport(report, eff, store)
	if report.Stats.Errors > 0 {
		return errItemFailures
	}
	return nil
}

// setup 做两个子命令共同的准备：配置合并、根目录校验、运行锁。
func setup(cli config.CLIArgs) (config.EffectiveConfig, cache.Store, *lockx.Lock, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return config.EffectiveConfig{}, cache.Store{}, nil, fmt.Errorf("读取当前目录失败：%w", err)
	}

	eff, err := config.LoadEffective(cwd, cli)
	if err != nil {
		return config.EffectiveConfig{}, cache.Store{}, nil, err
	}

	// 锁文件放在 <root>/cache/ 下：先校验根目录，避免建锁目录时顺手创建它。
	if err := run.ValidateRoot(eff.Path); err != nil {
		return config.EffectiveConfig{}, cache.Store{}, nil, err
	}

	store := cache.New(eff.Path, !eff.Apply)
	lock, err := lockx.Acquire(store.LockPath())
	if err != nil {
		return config.EffectiveConfig{}, cache.Store{}, nil, err
	}
	return eff, store, lock, nil
}

func emitLedger(ledger domain.Ledger, ledgerPath string) {
	if isTTY(os.Stdout) {
		fmt.Fprint(os.Stdout, ledgerTable(ledger))
		fmt.Fprintf(os.Stdout, "预览：found=%d supported=%d portrait=%d landscape=%d unsupported=%d duplicate=%d errors=%d\n",
			ledger.Stats.Found, ledger.Stats.Supported, ledger.Stats.Portrait, ledger.Stats.Landscape,
			ledger.Stats.SkippedUnsupported, ledger.Stats.SkippedDuplicate, ledger.Stats.Errors,
		)
		if ledger.Cancelled {
			fmt.Fprintln(os.Stdout, "注意：analyze 中途被取消，预览只包含已完成部分")
		}
		fmt.Fprintf(os.Stdout, "ledger: %s\n", ledgerPath)
		fmt.Fprintln(os.Stdout, "确认无误后运行 arsort sort --apply 执行移动")
		return
	}

	// stdout 非 TTY：stdout 必须且仅输出一个 Ledger JSON（摘要走 stderr）。
	enc := json.NewEncoder(os.Stdout)
	_ = enc.Encode(ledger)
	fmt.Fprintf(os.Stderr, "预览：found=%d supported=%d errors=%d\n",
		ledger.Stats.Found, ledger.Stats.Supported, ledger.Stats.Errors,
	)
}

func emitReport(report domain.SortReport, eff config.EffectiveConfig, store cache.Store) {
	if isTTY(os.Stdout) {
		mode := "dry-run"
		if !report.DryRun {
			mode = "apply"
		}
		fmt.Fprintf(os.Stdout, "完成（%s）：moved=%d skipped=%d errors=%d\n",
			mode, report.Stats.Moved, report.Stats.SkippedDuplicate, report.Stats.Errors,
		)
		for _, it := range report.Items {
			if it.Status != domain.MoveStatusFailed {
				continue
			}
			fmt.Fprintf(os.Stderr, "%s: %s\n", it.Src, it.ErrorMsg)
		}
		if report.Cancelled {
			fmt.Fprintln(os.Stdout, "注意：运行中途被取消，已完成的移动不会回滚")
		}
		if eff.Apply {
			fmt.Fprintf(os.Stdout, "report: %s\n", store.ReportPath())
		}
		return
	}

	enc := json.NewEncoder(os.Stdout)
	_ = enc.Encode(report)
	fmt.Fprintf(os.Stderr, "完成：moved=%d skipped=%d errors=%d\n",
		report.Stats.Moved, report.Stats.SkippedDuplicate, report.Stats.Errors,
	)
}

func isTTY(f *os.File) bool {
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func pickProgressWriter() (io.Writer, bool) {
	// 进度输出只在交互终端启用；默认走 stderr（不污染 stdout JSON）。
	if isTTY(os.Stderr) {
		return os.Stderr, true
	}
	// 某些环境（例如仅重定向 stderr）下，stdout 仍是 TTY：退化输出到 stdout。
	if isTTY(os.Stdout) {
		return os.Stdout, true
	}
	return nil, false
}
