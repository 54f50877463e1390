package supervisor

import (
	"errors"
	"time"

	"golang.org/x/sys/unix"

	"github.com/shuakami/procman/internal/child"
)

const readyEvents = unix.POLLIN | unix.POLLHUP | unix.POLLERR

// tick 执行一轮循环：到期任务、就绪等待、读取输出
func (s *Supervisor) tick() {
	s.queue.RunDue(s.queue.Now())
	for _, c := range s.wait() {
		c.Drain()
	}
}

// wait 等待子进程输出或信号，返回可读的子进程。
//
// 唤醒管道始终在等待集合中，所以没有子进程输出可等时，这里只按下一个延迟
// 任务的时间睡眠，而不是空转。被中断的等待视为没有就绪。
func (s *Supervisor) wait() []*child.Child {
	fds := []unix.PollFd{{Fd: int32(s.wake[0]), Events: unix.POLLIN}}
	owners := []*child.Child{nil}
	for _, c := range s.children {
		fd := c.Descriptor()
		if fd < 0 || !c.Alive() {
			continue
		}
		fds = append(fds, unix.PollFd{Fd: int32(fd), Events: unix.POLLIN})
		owners = append(owners, c)
	}

	n, err := unix.Poll(fds, pollTimeout(s.timeout()))
	if err != nil {
		if !errors.Is(err, unix.EINTR) {
			s.log.Warn("poll failed", "err", err)
		}
		return nil
	}
	if n == 0 {
		return nil
	}

	var ready []*child.Child
	for i, p := range fds {
		if p.Revents&readyEvents == 0 {
			continue
		}
		if i == 0 {
			s.readWake()
			continue
		}
		ready = append(ready, owners[i])
	}
	return ready
}

// timeout 返回本轮等待时长：不超过 WaitTimeout，也不晚于下一个延迟任务
func (s *Supervisor) timeout() time.Duration {
	d := s.opts.WaitTimeout
	if next, ok := s.queue.Next(); ok {
		until := next.Sub(s.queue.Now())
		if until < 0 {
			until = 0
		}
		if until < d {
			d = until
		}
	}
	return d
}

// pollTimeout 把时长向上取整为毫秒
func pollTimeout(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int((d + time.Millisecond - 1) / time.Millisecond)
}
