// Package procfile 读取进程列表和环境变量覆盖文件。
//
// 进程列表每行一项 "name: command"，第一个冒号之前是名字，之后是命令，两边空白去掉。
// 空行和以 # 开头的行被忽略。任何格式错误都在启动前返回 ErrMalformed。
package procfile

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/shuakami/procman/internal/child"
	"github.com/shuakami/procman/internal/output"
)

// DefaultName 是未指定时读取的进程列表文件名
const DefaultName = "Procfile"

// ErrMalformed 表示进程列表中有无法解析的行
var ErrMalformed = errors.New("malformed process list")

var validName = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Entry 是进程列表中的一项
type Entry struct {
	Name    string
	Command string
	Line    int
}

// Parse 解析进程列表，保持文件中的顺序
func Parse(r io.Reader) ([]Entry, error) {
	var entries []Entry
	seen := make(map[string]int)

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	n := 0
	for sc.Scan() {
		n++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		name, command, ok := strings.Cut(line, ":")
		if !ok {
			return nil, malformed(n, "missing ':' separator")
		}
		name, command = strings.TrimSpace(name), strings.TrimSpace(command)
		switch {
		case !validName.MatchString(name):
			return nil, malformed(n, fmt.Sprintf("invalid process name %q", name))
		case command == "":
			return nil, malformed(n, fmt.Sprintf("empty command for %q", name))
		}
		if prev, dup := seen[name]; dup {
			return nil, malformed(n, fmt.Sprintf("duplicate process name %q (first on line %d)", name, prev))
		}
		seen[name] = n
		entries = append(entries, Entry{Name: name, Command: command, Line: n})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read process list: %w", err)
	}
	return entries, nil
}

func malformed(line int, reason string) error {
	return fmt.Errorf("%w: line %d: %s", ErrMalformed, line, reason)
}

// Load 打开并解析 path 指向的进程列表
func Load(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	entries, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%s: %w: no processes defined", path, ErrMalformed)
	}
	return entries, nil
}

// Dir 返回进程列表所在目录的绝对路径，子进程默认在这里运行
func Dir(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	if real, err := filepath.EvalSymlinks(abs); err == nil {
		abs = real
	}
	return filepath.Dir(abs), nil
}

// Concurrency 是每个进程类型要运行的实例数
type Concurrency map[string]int

// ParseConcurrency 解析 "web=2,worker=3" 形式的参数
func ParseConcurrency(s string) (Concurrency, error) {
	c := make(Concurrency)
	for _, kv := range strings.Split(s, ",") {
		kv = strings.TrimSpace(kv)
		if kv == "" {
			continue
		}
		name, num, ok := strings.Cut(kv, "=")
		if !ok {
			return nil, fmt.Errorf("bad concurrency %q (want name=num)", kv)
		}
		n, err := strconv.Atoi(strings.TrimSpace(num))
		if err != nil || n < 0 {
			return nil, fmt.Errorf("bad concurrency count for %q: %q", name, num)
		}
		c[strings.TrimSpace(name)] = n
	}
	return c, nil
}

// Specs 把进程列表展开成子进程描述
//
// 实例数为 1 时名字不变；大于 1 时依次命名为 name.1、name.2 ...；为 0 时跳过。
// 颜色按展开后的顺序循环分配。
func Specs(entries []Entry, conc Concurrency, dir string) ([]child.Spec, error) {
	known := make(map[string]bool, len(entries))
	for _, e := range entries {
		known[e.Name] = true
	}
	for name := range conc {
		if !known[name] {
			return nil, fmt.Errorf("concurrency given for unknown process %q", name)
		}
	}

	var specs []child.Spec
	for _, e := range entries {
		n, ok := conc[e.Name]
		if !ok {
			n = 1
		}
		for i := 1; i <= n; i++ {
			name := e.Name
			if n > 1 {
				name = fmt.Sprintf("%s.%d", e.Name, i)
			}
			specs = append(specs, child.Spec{
				Name:    name,
				Command: e.Command,
				Color:   output.Color(len(specs)),
				Kind:    child.Regular,
				Dir:     dir,
			})
		}
	}
	return specs, nil
}

// LoadEnv 读取一个或多个 KEY=value 文件，后面的文件覆盖前面的
func LoadEnv(paths ...string) (map[string]string, error) {
	if len(paths) == 0 {
		return map[string]string{}, nil
	}
	env, err := godotenv.Read(paths...)
	if err != nil {
		return nil, fmt.Errorf("read env file: %w", err)
	}
	return env, nil
}

// ApplyEnv 把覆盖写入当前进程环境，之后启动的子进程都会继承
func ApplyEnv(env map[string]string) error {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := os.Setenv(k, env[k]); err != nil {
			return fmt.Errorf("set %s: %w", k, err)
		}
	}
	return nil
}
