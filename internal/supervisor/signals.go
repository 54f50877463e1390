package supervisor

import (
	"context"
	"errors"
	"os"
	"os/signal"

	"golang.org/x/sys/unix"
)

// handledSignals 是 supervisor 进程自己处理的信号
var handledSignals = []os.Signal{unix.SIGINT, unix.SIGTERM, unix.SIGHUP, unix.SIGCHLD}

func (s *Supervisor) installSignals() {
	signal.Notify(s.sigCh, handledSignals...)
}

func (s *Supervisor) uninstallSignals() {
	signal.Stop(s.sigCh)
}

// relay 把信号编号写进唤醒管道，控制 goroutine 在下一次等待时读到它
func (s *Supervisor) relay(ctx context.Context, stop <-chan struct{}) {
	done := ctx.Done()
	for {
		select {
		case sig := <-s.sigCh:
			if n, ok := sig.(unix.Signal); ok {
				s.wakeWith(n)
			}
		case <-done:
			done = nil
			s.wakeWith(unix.SIGTERM)
		case <-stop:
			return
		}
	}
}

func (s *Supervisor) wakeWith(sig unix.Signal) {
	for {
		_, err := unix.Write(s.wake[1], []byte{byte(sig)})
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			s.log.Warn("wake pipe write failed", "signal", sig, "err", err)
		}
		return
	}
}

// readWake 读出唤醒管道中所有待处理的信号
func (s *Supervisor) readWake() {
	for {
		n, err := unix.Read(s.wake[0], s.rbuf)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil || n <= 0 {
			return
		}
		for _, b := range s.rbuf[:n] {
			s.handleSignal(unix.Signal(b))
		}
	}
}

// handleSignal 是信号处理函数，只投递延迟任务或修改标记
func (s *Supervisor) handleSignal(sig unix.Signal) {
	s.log.Debug("signal", "signal", sig)
	switch sig {
	case unix.SIGCHLD:
		s.queue.Defer(0, s.reapZombies)
	case unix.SIGHUP:
		s.queue.Defer(0, s.restartAll)
	case unix.SIGINT, unix.SIGTERM:
		s.terminate()
	}
}
