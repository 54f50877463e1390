package supervisor

import (
	"errors"
	"time"

	"golang.org/x/sys/unix"

	"github.com/shuakami/procman/internal/child"
)

// spawnAll 启动所有未运行的子进程；对仍在运行的进程是空操作
func (s *Supervisor) spawnAll() error {
	var errs []error
	for _, c := range s.children {
		if err := c.Spawn(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// startAll 是初始启动：遇到第一个失败就停止，之前已启动的进程由 killAll 清理
func (s *Supervisor) startAll() error {
	for _, c := range s.children {
		if err := c.Spawn(); err != nil {
			return err
		}
	}
	return nil
}

// reapZombies 回收所有已退出的子进程，并按策略安排重启或移出名单
func (s *Supervisor) reapZombies() {
	for _, c := range s.children {
		if !c.Running() || !c.Reap() {
			continue
		}
		if s.shutdown {
			continue
		}
		if s.shouldRespawn(c) {
			s.scheduleSpawn(c)
		}
	}

	if s.shutdown {
		alive := s.children[:0]
		for _, c := range s.children {
			if c.Running() {
				alive = append(alive, c)
			}
		}
		for i := len(alive); i < len(s.children); i++ {
			s.children[i] = nil
		}
		s.children = alive
	}
}

// shouldRespawn 决定退出的子进程是否重新启动。
//
// 普通进程在 autoRespawn 打开时总是重启；关闭时(挂了文件监控)只有被
// supervisor 主动发过信号的进程才重启。守护和监控进程不参与重启广播，
// 崩溃后总是重启。
func (s *Supervisor) shouldRespawn(c *child.Child) bool {
	if c.Kind != child.Regular {
		return true
	}
	return s.autoRespawn || c.Signalled()
}

func (s *Supervisor) scheduleSpawn(c *child.Child) {
	s.log.Debug("respawn scheduled", "name", c.Name, "delay", s.opts.RespawnDelay)
	s.queue.Defer(s.opts.RespawnDelay, func() {
		if s.shutdown {
			return
		}
		if err := c.Spawn(); err != nil {
			s.system("%v", err)
		}
	})
}

// restartAll 让所有普通进程优雅退出，并立即补启动已经停下的进程
func (s *Supervisor) restartAll() {
	if s.shutdown {
		return
	}
	s.signalAll(unix.SIGTERM, false, func(c *child.Child) bool { return c.Kind == child.Regular })
	if err := s.spawnAll(); err != nil {
		s.system("%v", err)
	}
}

// terminate 处理 SIGINT/SIGTERM：第一次优雅退出，之后强制杀死
func (s *Supervisor) terminate() {
	if s.shutdown {
		s.signalAll(unix.SIGKILL, false, nil)
	} else {
		s.signalAll(unix.SIGTERM, false, nil)
		s.shutdown = true
	}
	// 清掉本来就没在运行的进程，否则名单永远不会变空
	s.queue.Defer(0, s.reapZombies)
}

// signalAll 向满足 match 的子进程发送信号，match 为 nil 表示全部
func (s *Supervisor) signalAll(sig unix.Signal, silent bool, match func(*child.Child) bool) {
	if !silent {
		s.system("sending signal %d to all children", int(sig))
	}
	for _, c := range s.children {
		if match != nil && !match(c) {
			continue
		}
		if err := c.Signal(sig); err != nil {
			s.log.Warn("signal failed", "name", c.Name, "signal", sig, "err", err)
		}
	}
}

// killAll 是退出时的兜底：强制杀死并尽量回收剩下的子进程
func (s *Supervisor) killAll() {
	if len(s.children) == 0 {
		return
	}
	s.signalAll(unix.SIGKILL, true, nil)
	deadline := time.Now().Add(time.Second)
	for {
		pending := 0
		for _, c := range s.children {
			if c.Running() && !c.ReapQuietly() {
				pending++
			}
		}
		if pending == 0 || time.Now().After(deadline) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
}
