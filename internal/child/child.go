// Package child 封装一个受监管的子进程的完整生命周期。
//
// 每个 Child 对应进程列表中的一项，在整个 supervisor 运行期间存在：
//   - Spawn 在新的进程组中启动命令，stdout/stderr 合并到同一个非阻塞管道
//   - Alive 通过 WNOHANG 的 wait4 探测进程是否仍在运行
//   - Drain 从管道非阻塞地读取最多 8KiB，按行输出，保留不完整的行
//   - Reap 收集退出状态、做最后一次 Drain 并记录退出原因
//
// Child 不是并发安全的，只应在 supervisor 的控制 goroutine 上使用。
package child

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"
)

// ChunkSize 是单次 Drain 读取的最大字节数
const ChunkSize = 8192

// maxPending 是未遇到换行时缓冲的上限，超过后强制作为一行输出
const maxPending = 64 * 1024

// maxFlushBytes 是回收时最多再读取的输出量；后台的孙进程可能一直持有写端
const maxFlushBytes = 4 << 20

// Kind 区分用户声明的进程和内部管理的辅助进程
type Kind int

const (
	Regular Kind = iota // 进程列表中的普通进程
	Daemon              // 内部守护进程，退出时不打印 "exited normally"
	Watcher             // 文件变更监控进程
)

func (k Kind) String() string {
	switch k {
	case Regular:
		return "regular"
	case Daemon:
		return "daemon"
	case Watcher:
		return "watcher"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Quiet 报告该类进程是否省略启动和正常退出的日志
func (k Kind) Quiet() bool {
	return k != Regular
}

// Spec 描述一个子进程，创建后不再修改
type Spec struct {
	Name    string
	Command string   // shell 风格命令，启动时展开环境变量
	Args    []string // 非空时直接作为参数向量使用，忽略 Command
	Color   int
	Kind    Kind
	Dir     string // 工作目录，空表示继承
}

// Sink 接收带标签的输出行
type Sink interface {
	Line(name string, color int, message string)
}

// Options 是 Child 运行时依赖的外部资源，由 supervisor 持有
type Options struct {
	Sink   Sink
	Stdin  *os.File           // 子进程的标准输入，通常是 /dev/null
	Lookup func(string) string // 展开命令中变量用，nil 表示 os.Getenv
}

// Child 跟踪一个子进程
type Child struct {
	Spec

	opts Options

	cmd    *exec.Cmd
	pid    int
	fd     int // 输出管道读端，-1 表示没有
	exited  bool
	unknown bool // 进程已被别处回收，退出状态未知
	status  unix.WaitStatus

	eof       bool
	pending   []byte
	buf       []byte
	signalled bool
}

// New 创建一个尚未启动的 Child
func New(spec Spec, opts Options) *Child {
	return &Child{Spec: spec, opts: opts, fd: -1, buf: make([]byte, ChunkSize)}
}

// Pid 返回当前进程号，没有进程时为 0
func (c *Child) Pid() int {
	if c.cmd == nil {
		return 0
	}
	return c.pid
}

// Running 报告是否持有一个尚未被 Reap 的进程(可能已退出)
func (c *Child) Running() bool {
	return c.cmd != nil
}

// EOF 报告输出管道是否已读到结尾
func (c *Child) EOF() bool {
	return c.eof
}

// Signalled 报告自上次启动以来 supervisor 是否向它发送过信号
func (c *Child) Signalled() bool {
	return c.signalled
}

// Spawn 启动子进程；已在运行时什么也不做
func (c *Child) Spawn() error {
	if c.Alive() {
		return nil
	}
	if c.cmd != nil {
		// 已退出但尚未回收，先回收旧实例
		c.Reap()
	}

	argv := c.Args
	if len(argv) == 0 {
		var err error
		argv, err = Argv(c.Command, c.opts.Lookup)
		if err != nil {
			return fmt.Errorf("%s: %w", c.Name, err)
		}
	}

	var p [2]int
	if err := unix.Pipe2(p[:], unix.O_CLOEXEC); err != nil {
		return fmt.Errorf("%s: create output pipe: %w", c.Name, err)
	}
	w := os.NewFile(uintptr(p[1]), c.Name+"-output")

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = c.Dir
	cmd.Stdin = c.opts.Stdin
	cmd.Stdout = w
	cmd.Stderr = w
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		_ = w.Close()
		_ = unix.Close(p[0])
		return fmt.Errorf("%s: start %q: %w", c.Name, argv[0], err)
	}
	// 写端只留给子进程
	_ = w.Close()
	if err := unix.SetNonblock(p[0], true); err != nil {
		_ = unix.Close(p[0])
		_ = unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
		return fmt.Errorf("%s: set output non-blocking: %w", c.Name, err)
	}

	c.cmd = cmd
	c.pid = cmd.Process.Pid
	c.fd = p[0]
	c.exited = false
	c.unknown = false
	c.status = 0
	c.eof = false
	c.pending = c.pending[:0]
	c.signalled = false

	if !c.Kind.Quiet() {
		c.logf("started with pid %d", c.pid)
	}
	return nil
}

// Signal 向整个进程组发送信号，并标记为被 supervisor 主动终止
func (c *Child) Signal(sig unix.Signal) error {
	c.signalled = true
	if !c.Alive() {
		return nil
	}
	err := unix.Kill(-c.pid, sig)
	if errors.Is(err, unix.ESRCH) {
		return nil
	}
	return err
}

// Alive 报告进程是否存在且尚未退出
func (c *Child) Alive() bool {
	if c.cmd == nil || c.exited {
		return false
	}
	for {
		var ws unix.WaitStatus
		pid, err := unix.Wait4(c.pid, &ws, unix.WNOHANG, nil)
		switch {
		case errors.Is(err, unix.EINTR):
			continue
		case err != nil:
			// ECHILD: 已被别处回收，状态未知
			c.exited = true
			c.unknown = true
			return false
		case pid == c.pid:
			c.exited = true
			c.status = ws
			return false
		default:
			return true
		}
	}
}

// Reap 回收已退出的进程并记录退出原因。进程仍在运行时返回 false。
func (c *Child) Reap() bool {
	return c.reap(true)
}

// ReapQuietly 和 Reap 一样回收进程、读完剩余输出，但不记录退出原因。
// 用于退出时兜底的强制清理。
func (c *Child) ReapQuietly() bool {
	return c.reap(false)
}

func (c *Child) reap(report bool) bool {
	if c.Alive() {
		return false
	}
	if c.cmd == nil {
		return true
	}

	c.flush()
	c.flushPartial()
	switch {
	case !report:
	case c.unknown:
		c.logf("exit status unknown")
	case c.status.Signaled():
		c.logf("killed by signal %d", int(c.status.Signal()))
	case c.status.ExitStatus() > 0:
		c.logf("exited with code %d", c.status.ExitStatus())
	case !c.Kind.Quiet():
		c.logf("exited normally")
	}

	c.closeOutput()
	_ = c.cmd.Process.Release()
	c.cmd = nil
	c.pid = 0
	return true
}

// ExitStatus 返回最近一次退出的状态；仍在运行或状态未知时 ok 为 false
func (c *Child) ExitStatus() (status unix.WaitStatus, ok bool) {
	if !c.exited || c.unknown {
		return 0, false
	}
	return c.status, true
}

// Descriptor 返回输出管道的读端，没有运行或已读到结尾时为 -1
func (c *Child) Descriptor() int {
	if c.cmd == nil || c.eof {
		return -1
	}
	return c.fd
}

// Drain 非阻塞地读取一次输出并按行记录，返回记录的行数
func (c *Child) Drain() int {
	lines, _ := c.read()
	return lines
}

// read 做一次非阻塞读取。more 表示这次读到了数据，管道中可能还有；
// 暂无数据或已到结尾时为 false。
func (c *Child) read() (lines int, more bool) {
	if c.cmd == nil || c.fd < 0 || c.eof {
		return 0, false
	}

	n, err := unix.Read(c.fd, c.buf)
	switch {
	case errors.Is(err, unix.EINTR):
		return 0, true
	case errors.Is(err, unix.EAGAIN):
		return 0, false
	case err != nil:
		c.logf("read output: %v", err)
		c.eof = true
		return c.flushPartial(), false
	case n == 0:
		c.eof = true
		return c.flushPartial(), false
	}

	c.pending = append(c.pending, c.buf[:n]...)
	for {
		i := bytes.IndexByte(c.pending, '\n')
		if i < 0 {
			break
		}
		lines += c.emit(c.pending[:i])
		c.pending = c.pending[i+1:]
	}
	if len(c.pending) > maxPending {
		lines += c.flushPartial()
	}
	// 把剩余的半行搬到缓冲区开头，避免底层数组无限增长
	c.pending = append([]byte(nil), c.pending...)
	return lines, true
}

// flush 读完管道中剩余的数据，直到暂无数据、到达结尾或超过 maxFlushBytes
func (c *Child) flush() {
	for total := 0; total < maxFlushBytes; total += ChunkSize {
		if _, more := c.read(); !more {
			return
		}
	}
}

func (c *Child) flushPartial() int {
	if len(c.pending) == 0 {
		return 0
	}
	n := c.emit(c.pending)
	c.pending = c.pending[:0]
	return n
}

func (c *Child) emit(line []byte) int {
	text := strings.TrimRight(string(line), "\r")
	if strings.TrimSpace(text) == "" {
		return 0
	}
	c.log(text)
	return 1
}

func (c *Child) closeOutput() {
	if c.fd >= 0 {
		_ = unix.Close(c.fd)
		c.fd = -1
	}
}

func (c *Child) log(message string) {
	if c.opts.Sink != nil {
		c.opts.Sink.Line(c.Name, c.Color, message)
	}
}

func (c *Child) logf(format string, args ...any) {
	c.log(fmt.Sprintf(format, args...))
}
