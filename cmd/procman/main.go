// Command procman 按进程列表启动并监管一组进程，合并输出，崩溃后重启，
// 并可以在源文件变化时重启所有进程。
package main

import (
	"context"
	"os"
)

func main() {
	a := newApp()
	if err := a.command().ExecuteContext(context.Background()); err != nil {
		a.logger.Error("procman failed", "err", err)
		os.Exit(1)
	}
}
