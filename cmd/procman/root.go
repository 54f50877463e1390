package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/shuakami/procman/internal/config"
	"github.com/shuakami/procman/internal/procfile"
)

// 构建信息，由 ldflags 设置
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// app 持有命令行解析后的状态，所有子命令共享
type app struct {
	cfgFile  string
	procfile string
	env      []string
	root     string
	color    string
	logLevel string

	cfg    *config.Config
	logger *log.Logger
}

func newApp() *app {
	return &app{
		logger: log.NewWithOptions(os.Stderr, log.Options{Prefix: "procman"}),
	}
}

func (a *app) command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "procman",
		Short: "Run and supervise the processes declared in a Procfile",
		Long: `procman starts every process in a Procfile, prefixes their output with
a colored name tag, restarts processes that crash, and can restart
everything when watched source files change.

  procman start                         # run ./Procfile
  procman start -c web=2 -e .env,.env.local
  procman start -w 'src/**/*.go'        # restart on source changes
  kill -HUP <pid>                       # restart all processes`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.prepare,
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&a.cfgFile, "config", "", "config file (default ./procman.toml, ./procman.yaml or ./procman.yml)")
	pf.StringVarP(&a.procfile, "procfile", "f", "Procfile", "process list file; its directory is the default working directory")
	pf.StringSliceVarP(&a.env, "env", "e", nil, "environment files, comma separated; later files override earlier ones")
	pf.StringVarP(&a.root, "root", "d", "", "working directory for all processes")
	pf.StringVar(&a.color, "color", "auto", "colorize output: auto, always or never")
	pf.StringVar(&a.logLevel, "log-level", "info", "diagnostic log level: debug, info, warn or error")

	cmd.AddCommand(
		a.newStartCmd(),
		a.newCheckCmd(),
		a.newWatchCmd(),
		newVersionCmd(),
	)
	return cmd
}

// prepare 读取配置文件并用显式给出的参数覆盖
func (a *app) prepare(cmd *cobra.Command, args []string) error {
	if cmd.Name() == "version" {
		return nil
	}

	cfg := config.Default()
	if cmd.Name() != "watch" {
		path := a.cfgFile
		if path == "" {
			if wd, err := os.Getwd(); err == nil {
				path = config.Find(wd)
			}
		}
		if path != "" {
			loaded, err := config.Load(path)
			if err != nil {
				return err
			}
			cfg = loaded
			a.logger.Debug("loaded config", "path", path)
		}
	}

	flags := cmd.Flags()
	if flags.Changed("procfile") {
		cfg.Procfile = a.procfile
	}
	if flags.Changed("env") {
		cfg.Env = a.env
	}
	if flags.Changed("root") {
		cfg.Root = a.root
	}
	if flags.Changed("color") {
		cfg.Color = a.color
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = a.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
	}
	a.logger.SetLevel(level)
	a.cfg = cfg
	return nil
}

// workDir 返回子进程的工作目录：--root，否则是进程列表所在目录
func (a *app) workDir() (string, error) {
	if a.cfg.Root != "" {
		return filepath.Abs(a.cfg.Root)
	}
	return procfile.Dir(a.cfg.Procfile)
}

func newVersionCmd() *cobra.Command {
	var short bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			if short {
				fmt.Fprintln(out, Version)
				return
			}
			fmt.Fprintf(out, "procman version %s\n", Version)
			fmt.Fprintf(out, "  commit: %s\n", Commit)
			fmt.Fprintf(out, "  built:  %s\n", Date)
		},
	}
	cmd.Flags().BoolVarP(&short, "short", "s", false, "Print only version number")
	return cmd
}
