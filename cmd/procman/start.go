package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/shuakami/procman/internal/child"
	"github.com/shuakami/procman/internal/config"
	"github.com/shuakami/procman/internal/output"
	"github.com/shuakami/procman/internal/procfile"
	"github.com/shuakami/procman/internal/supervisor"
	"github.com/shuakami/procman/internal/watch"
)

// watchFlags 是 start 和 watch 共用的文件监控参数
type watchFlags struct {
	patterns     []string
	mode         string
	match        string
	ignore       []string
	debounce     time.Duration
	pollInterval time.Duration
}

func (w *watchFlags) register(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&w.mode, "mode", string(watch.ModeNotify), "change detection: notify (kernel events) or poll (snapshot diff)")
	f.StringVar(&w.match, "match", watch.DefaultMatch, "file name pattern inside watched directories")
	f.StringSliceVar(&w.ignore, "ignore", watch.DefaultIgnorePatterns, "file and directory names to ignore")
	f.DurationVar(&w.debounce, "debounce", watch.DefaultDebounce, "quiet period before a burst of changes triggers a restart (0 disables)")
	f.DurationVar(&w.pollInterval, "poll-interval", watch.DefaultPollInterval, "interval between snapshots in poll mode (minimum 1s)")
}

// apply 用显式给出的参数覆盖配置文件中的 [watch]
func (w *watchFlags) apply(cmd *cobra.Command, wc *config.WatchConfig) {
	flags := cmd.Flags()
	if flags.Changed("watch") {
		wc.Patterns = w.patterns
	}
	if flags.Changed("mode") {
		wc.Mode = w.mode
	}
	if flags.Changed("match") {
		wc.Match = w.match
	}
	if flags.Changed("ignore") {
		wc.Ignore = w.ignore
	}
	if flags.Changed("debounce") {
		wc.Debounce = config.Duration(w.debounce)
	}
	if flags.Changed("poll-interval") {
		wc.PollInterval = config.Duration(w.pollInterval)
	}
}

// watcherArgs 构造监控子进程的参数向量，它重新执行本程序的 watch 子命令
func watcherArgs(exe string, wc config.WatchConfig, logLevel string) []string {
	mode := wc.Mode
	if mode == "" {
		mode = string(watch.ModeNotify)
	}
	args := []string{
		exe, "watch",
		"--mode", mode,
		"--debounce", wc.Debounce.String(),
		"--poll-interval", wc.PollInterval.String(),
		"--ignore", strings.Join(wc.Ignore, ","),
	}
	if wc.Match != "" {
		args = append(args, "--match", wc.Match)
	}
	if logLevel != "" {
		args = append(args, "--log-level", logLevel)
	}
	args = append(args, "--")
	return append(args, wc.Patterns...)
}

func (a *app) newStartCmd() *cobra.Command {
	var (
		concurrency string
		wf          watchFlags
	)
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start every process in the process list",
		Long: `Start every process in the process list and supervise them until
interrupted. Crashed processes are restarted after one second; SIGHUP
restarts all processes; the first SIGINT/SIGTERM stops them gracefully
and a second one kills them.

With --watch, a helper process restarts all processes whenever a
matching file changes. Crashed processes are then only restarted by
that restart cycle.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("concurrency") {
				conc, err := procfile.ParseConcurrency(concurrency)
				if err != nil {
					return err
				}
				a.cfg.Concurrency = conc
			}
			wf.apply(cmd, &a.cfg.Watch)
			if err := a.cfg.Validate(); err != nil {
				return err
			}
			return a.start(cmd)
		},
	}
	cmd.Flags().StringVarP(&concurrency, "concurrency", "c", "", "instances per process type, e.g. web=2,worker=3")
	cmd.Flags().StringArrayVarP(&wf.patterns, "watch", "w", nil, "restart all processes when files matching this pattern change (repeatable; ** matches any depth)")
	wf.register(cmd)
	return cmd
}

func (a *app) start(cmd *cobra.Command) error {
	specs, err := a.specs()
	if err != nil {
		return err
	}

	mode, err := output.ParseColorMode(a.cfg.Color)
	if err != nil {
		return err
	}
	out := output.New(cmd.OutOrStdout(), mode)

	s, err := supervisor.New(specs, supervisor.Options{
		Output: out,
		Logger: a.logger,
	})
	if err != nil {
		return err
	}
	defer s.Close()

	if len(a.cfg.Watch.Patterns) > 0 {
		exe, err := os.Executable()
		if err != nil {
			return fmt.Errorf("locate executable for watcher: %w", err)
		}
		s.AttachWatcher(child.Spec{
			Name: "watch",
			Args: watcherArgs(exe, a.cfg.Watch, a.cfg.LogLevel),
		})
		a.logger.Debug("watching", "patterns", a.cfg.Watch.Patterns, "mode", a.cfg.Watch.Mode)
	}

	return s.Run(cmd.Context())
}

// specs 读取进程列表和环境文件，展开成子进程描述
func (a *app) specs() ([]child.Spec, error) {
	entries, err := procfile.Load(a.cfg.Procfile)
	if err != nil {
		return nil, err
	}
	dir, err := a.workDir()
	if err != nil {
		return nil, err
	}

	envFiles := a.cfg.Env
	if len(envFiles) == 0 {
		if def := filepath.Join(dir, ".env"); fileExists(def) {
			envFiles = []string{def}
		}
	}
	env, err := procfile.LoadEnv(envFiles...)
	if err != nil {
		return nil, err
	}
	if err := procfile.ApplyEnv(env); err != nil {
		return nil, err
	}

	return procfile.Specs(entries, procfile.Concurrency(a.cfg.Concurrency), dir)
}

func fileExists(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.Mode().IsRegular()
}

func (a *app) newCheckCmd() *cobra.Command {
	var concurrency string
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate the process list without starting anything",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("concurrency") {
				conc, err := procfile.ParseConcurrency(concurrency)
				if err != nil {
					return err
				}
				a.cfg.Concurrency = conc
			}
			entries, err := procfile.Load(a.cfg.Procfile)
			if err != nil {
				return err
			}
			specs, err := procfile.Specs(entries, procfile.Concurrency(a.cfg.Concurrency), "")
			if err != nil {
				return err
			}
			names := make([]string, 0, len(specs))
			for _, s := range specs {
				if _, err := child.Argv(s.Command, func(string) string { return "x" }); err != nil {
					return fmt.Errorf("%s: %w", s.Name, err)
				}
				names = append(names, s.Name)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "valid process list detected (%s)\n", strings.Join(names, ", "))
			return nil
		},
	}
	cmd.Flags().StringVarP(&concurrency, "concurrency", "c", "", "instances per process type, e.g. web=2,worker=3")
	return cmd
}
