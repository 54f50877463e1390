package main

import (
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"github.com/shuakami/procman/internal/watch"
)

// parentCheckInterval 是监控进程检查父进程是否还在的间隔
const parentCheckInterval = time.Second

// newWatchCmd 是 start --watch 启动的辅助进程：文件变化时向父进程发送 SIGHUP
func (a *app) newWatchCmd() *cobra.Command {
	var wf watchFlags
	cmd := &cobra.Command{
		Use:    "watch [flags] -- PATTERN...",
		Short:  "Signal the parent process with SIGHUP when watched files change",
		Hidden: true,
		Args:   cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, err := watch.ParseMode(wf.mode)
			if err != nil {
				return err
			}
			ppid := os.Getppid()

			ctx, stop := signal.NotifyContext(cmd.Context(), unix.SIGINT, unix.SIGTERM)
			defer stop()
			ctx, cancel := watch.WithParent(ctx, parentCheckInterval)
			defer cancel()

			cfg := watch.Config{
				Patterns:       args,
				Mode:           mode,
				Match:          wf.match,
				IgnorePatterns: wf.ignore,
				Debounce:       wf.debounce,
				PollInterval:   wf.pollInterval,
				Logger:         a.logger,
			}
			a.logger.Debug("watcher started", "patterns", args, "mode", mode, "parent", ppid)
			return watch.Run(ctx, cfg, func(c watch.Change) {
				a.logger.Info("change detected, restarting", "paths", c.Paths)
				if err := watch.SignalParent(ppid); err != nil {
					a.logger.Warn("cannot signal parent", "pid", ppid, "err", err)
				}
			})
		},
	}
	wf.register(cmd)
	return cmd
}
