// Package supervisor 实现进程监管的事件循环。
//
// Supervisor 持有全部 Child 和延迟任务队列，只在一个 goroutine 上运行控制逻辑：
//
//  1. 执行到期的延迟任务
//  2. 在子进程输出管道和唤醒管道上等待可读(最多 1 秒)
//  3. 读取就绪子进程的输出
//
// 操作系统信号经 signal.Notify 进入一个 relay goroutine，后者只把信号编号写进
// 唤醒管道。控制 goroutine 读出信号后调用对应的处理函数，处理函数只会投递延迟
// 任务或修改 shutdown 标记，因此名单和队列都不需要加锁。
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sys/unix"

	"github.com/shuakami/procman/internal/child"
	"github.com/shuakami/procman/internal/deferq"
	"github.com/shuakami/procman/internal/output"
)

const (
	// DefaultRespawnDelay 是崩溃后重新启动前的等待时间
	DefaultRespawnDelay = time.Second
	// DefaultWaitTimeout 是单次就绪等待的上限
	DefaultWaitTimeout = time.Second

	systemName = "system"
)

// Sink 接收带标签的输出行，*output.Logger 实现了它
type Sink = child.Sink

// Options 配置 Supervisor
type Options struct {
	Output       Sink
	Logger       *log.Logger         // 诊断日志，nil 时丢弃
	Clock        func() time.Time    // nil 时使用 time.Now
	Lookup       func(string) string // 展开命令变量，nil 时使用 os.Getenv
	RespawnDelay time.Duration
	WaitTimeout  time.Duration
}

// Supervisor 管理一组子进程
type Supervisor struct {
	opts  Options
	out   Sink
	log   *log.Logger
	queue *deferq.Queue

	children []*child.Child
	devNull  *os.File

	shutdown    bool
	autoRespawn bool

	sigCh chan os.Signal
	wake  [2]int
	rbuf  []byte
}

// New 根据进程描述创建 Supervisor，此时不会启动任何进程。
//
// 返回的 Supervisor 持有 /dev/null 和唤醒管道，用完后需要调用 Close。
func New(specs []child.Spec, opts Options) (*Supervisor, error) {
	if opts.RespawnDelay <= 0 {
		opts.RespawnDelay = DefaultRespawnDelay
	}
	if opts.WaitTimeout <= 0 {
		opts.WaitTimeout = DefaultWaitTimeout
	}
	if opts.Output == nil {
		opts.Output = discard{}
	}
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard)
	}

	seen := make(map[string]bool, len(specs))
	for _, spec := range specs {
		if seen[spec.Name] {
			return nil, fmt.Errorf("duplicate process name %q", spec.Name)
		}
		seen[spec.Name] = true
	}

	devNull, err := os.Open(os.DevNull)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", os.DevNull, err)
	}

	s := &Supervisor{
		opts:        opts,
		out:         opts.Output,
		log:         opts.Logger,
		queue:       deferq.New(opts.Clock),
		devNull:     devNull,
		autoRespawn: true,
		sigCh:       make(chan os.Signal, 32),
		wake:        [2]int{-1, -1},
		rbuf:        make([]byte, 64),
	}
	if err := unix.Pipe2(s.wake[:], unix.O_CLOEXEC|unix.O_NONBLOCK); err != nil {
		_ = devNull.Close()
		return nil, fmt.Errorf("create wake pipe: %w", err)
	}

	for _, spec := range specs {
		s.children = append(s.children, s.newChild(spec))
	}
	return s, nil
}

// AttachWatcher 把文件变更监控进程加入名单，并关闭崩溃自动重启。
//
// 之后只有被 supervisor 主动发信号的进程才会在退出后重新启动，
// 文件变更触发的重启统一走 SIGHUP 路径。
func (s *Supervisor) AttachWatcher(spec child.Spec) {
	spec.Kind = child.Watcher
	if spec.Name == "" {
		spec.Name = "watch"
	}
	spec.Color = output.SystemColor
	s.children = append(s.children, s.newChild(spec))
	s.autoRespawn = false
}

// AutoRespawn 报告崩溃的普通进程是否会被自动重启
func (s *Supervisor) AutoRespawn() bool {
	return s.autoRespawn
}

// ShuttingDown 报告是否已开始关闭
func (s *Supervisor) ShuttingDown() bool {
	return s.shutdown
}

// Notify 像操作系统信号一样投递 sig，可以在任意 goroutine 调用
func (s *Supervisor) Notify(sig os.Signal) {
	select {
	case s.sigCh <- sig:
	default:
		s.log.Warn("signal queue full, dropping", "signal", sig)
	}
}

// Close 释放 Supervisor 持有的资源
func (s *Supervisor) Close() error {
	var errs []error
	for i, fd := range s.wake {
		if fd >= 0 {
			errs = append(errs, unix.Close(fd))
			s.wake[i] = -1
		}
	}
	if s.devNull != nil {
		errs = append(errs, s.devNull.Close())
		s.devNull = nil
	}
	return errors.Join(errs...)
}

// Run 启动全部进程并运行事件循环，直到关闭流程结束、名单为空。
//
// ctx 结束等价于收到一次 SIGTERM。只有初始启动失败时返回错误。
func (s *Supervisor) Run(ctx context.Context) error {
	s.installSignals()
	defer s.uninstallSignals()

	stop := make(chan struct{})
	relayDone := make(chan struct{})
	go func() {
		defer close(relayDone)
		s.relay(ctx, stop)
	}()
	defer func() {
		close(stop)
		<-relayDone
	}()

	// 兜底：无论如何退出，都不留下子进程
	defer s.killAll()

	if err := s.startAll(); err != nil {
		return err
	}
	for len(s.children) > 0 {
		s.tick()
	}
	return nil
}

func (s *Supervisor) newChild(spec child.Spec) *child.Child {
	return child.New(spec, child.Options{
		Sink:   s.out,
		Stdin:  s.devNull,
		Lookup: s.opts.Lookup,
	})
}

func (s *Supervisor) system(format string, args ...any) {
	s.out.Line(systemName, output.SystemColor, fmt.Sprintf(format, args...))
}

type discard struct{}

func (discard) Line(string, int, string) {}
