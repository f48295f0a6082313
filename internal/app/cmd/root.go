// Package cmd 提供 sessionmux 的命令行入口
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime/debug"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"sessionmux-core/internal/app/server"
	"sessionmux-core/internal/config/loader"
	"sessionmux-core/internal/config/schema"
	corelog "sessionmux-core/internal/core/log"
	"sessionmux-core/internal/version"
)

// app 命令共享的全局选项
type app struct {
	configFile string
	noColor    bool
	verbose    bool

	// prepare 在组件初始化前调整 Builder，测试用来注入依赖
	prepare func(*server.Builder)
}

// NewRootCommand 创建根命令
func NewRootCommand() *cobra.Command {
	return newRootCommand(&app{})
}

func newRootCommand(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "sessionmux",
		Short: "Long-lived messaging session manager with dual-tier persistence",
		Long: `sessionmux keeps one live connection per (owner, device) session, restarts
it after recoverable disconnects, and persists session state in a local
Redis cache mirrored to PostgreSQL.`,
		Version:       version.GetVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			color.NoColor = a.noColor || !isTerminal(cmd.OutOrStdout())
		},
	}

	root.PersistentFlags().StringVarP(&a.configFile, "config", "c", "", "Config file path")
	root.PersistentFlags().BoolVar(&a.noColor, "no-color", false, "Disable colored output")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Show server logs for one-shot commands")

	root.AddCommand(newServeCommand(a))
	root.AddCommand(newSyncCommand(a))
	root.AddCommand(newSessionsCommand(a))
	root.AddCommand(newVersionCommand())
	return root
}

// Execute 执行根命令
func Execute() {
	defer func() {
		if r := recover(); r != nil {
			corelog.Errorf("FATAL: main goroutine panic recovered: %v", r)
			fmt.Fprintf(os.Stderr, "\nPANIC: %v\nStack trace:\n%s\n", r, debug.Stack())
			os.Exit(2)
		}
	}()

	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, colorError("Error:"), err)
		os.Exit(1)
	}
}

// loadConfig 按 defaults → YAML → 环境变量 加载并校验
func (a *app) loadConfig() (*schema.Root, error) {
	return loader.Load(a.configFile)
}

// build 构建服务器；一次性命令的日志只保留 warn 以上并写到 stderr
func (a *app) build(ctx context.Context, cfg *schema.Root, quiet bool) (*server.Server, error) {
	if quiet && !a.verbose {
		cfg.Log.Level = "warn"
		if cfg.Log.Output != "file" {
			cfg.Log.Output = "stderr"
		}
	}
	b := server.NewBuilder(cfg)
	if a.prepare != nil {
		a.prepare(b)
	}
	return b.WithDefaults().Build(ctx)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "sessionmux", version.GetVersion())
		},
	}
}
