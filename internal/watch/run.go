package watch

import (
	"context"
	"errors"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// Run 开始监控并在每次合并后的变更时调用 onChange，直到 ctx 结束
func Run(ctx context.Context, cfg Config, onChange func(Change)) error {
	w, err := NewWatcher(cfg)
	if err != nil {
		return err
	}
	if err := w.Start(); err != nil {
		w.Stop()
		return err
	}
	defer w.Stop()

	for {
		select {
		case change, ok := <-w.EventChan:
			if !ok {
				return nil
			}
			onChange(change)
		case <-ctx.Done():
			return nil
		}
	}
}

// SignalParent 向父进程发送 SIGHUP，请求重启所有普通进程
func SignalParent(ppid int) error {
	if ppid <= 1 {
		return errors.New("no parent process to signal")
	}
	return unix.Kill(ppid, unix.SIGHUP)
}

// WithParent 返回一个在父进程退出(本进程被重新托管)时结束的 context
func WithParent(ctx context.Context, interval time.Duration) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	ppid := os.Getppid()
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if os.Getppid() != ppid {
					cancel()
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return ctx, cancel
}
