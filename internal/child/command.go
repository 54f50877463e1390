package child

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/mattn/go-shellwords"
)

// ErrEmptyCommand 表示展开后命令为空
var ErrEmptyCommand = errors.New("empty command")

// shellMeta 中的字符出现在命令里时需要交给 shell 执行(管道、重定向、后台等)
const shellMeta = "|&;<>()`"

// Shell 是需要 shell 语义时使用的解释器
var Shell = "/bin/sh"

// needsShell 判断命令是否依赖 shell 语义。单引号中的元字符不算。
func needsShell(command string) bool {
	quoted := byte(0)
	for i := 0; i < len(command); i++ {
		ch := command[i]
		switch {
		case quoted != 0:
			if ch == quoted {
				quoted = 0
			} else if ch == '\\' && quoted == '"' {
				i++
			}
		case ch == '\'' || ch == '"':
			quoted = ch
		case ch == '\\':
			i++
		case strings.IndexByte(shellMeta, ch) >= 0:
			return true
		}
	}
	return false
}

// Argv 把命令字符串转换为参数向量。
//
// 普通命令先按 lookup 展开 $VAR / ${VAR}，再按 shell 引号规则切分；
// 包含管道、重定向等元字符的命令整体交给 Shell -c 执行，变量由 shell 展开。
// 两条路径对未设置的变量行为一致：和 sh 一样展开为空字符串，而不是保留原样。
func Argv(command string, lookup func(string) string) ([]string, error) {
	if lookup == nil {
		lookup = os.Getenv
	}
	if strings.TrimSpace(command) == "" {
		return nil, ErrEmptyCommand
	}
	if needsShell(command) {
		return []string{Shell, "-c", command}, nil
	}

	expanded := os.Expand(command, lookup)
	args, err := shellwords.Parse(expanded)
	if err != nil {
		return nil, fmt.Errorf("parse command %q: %w", command, err)
	}
	if len(args) == 0 {
		return nil, ErrEmptyCommand
	}
	return args, nil
}
