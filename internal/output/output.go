// Package output 把多个子进程的输出合并成一条带时间戳、名字和颜色的日志流。
package output

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"github.com/muesli/termenv"
)

// SystemColor 是 supervisor 自身以及守护类子进程使用的颜色槽
const SystemColor = 7

// paletteSize 是普通进程循环使用的颜色数
const paletteSize = 6

// Color 根据进程在列表中的序号返回颜色槽(1..6)
func Color(index int) int {
	if index < 0 {
		index = -index
	}
	return 1 + index%paletteSize
}

// ColorMode 控制是否输出 ANSI 颜色
type ColorMode string

const (
	ColorAuto   ColorMode = "auto"
	ColorAlways ColorMode = "always"
	ColorNever  ColorMode = "never"
)

// ParseColorMode 解析 --color 参数
func ParseColorMode(s string) (ColorMode, error) {
	switch m := ColorMode(strings.ToLower(strings.TrimSpace(s))); m {
	case "", ColorAuto:
		return ColorAuto, nil
	case ColorAlways, ColorNever:
		return m, nil
	default:
		return "", fmt.Errorf("invalid color mode %q (want auto, always or never)", s)
	}
}

// Logger 写出形如 "15:04:05     web | message" 的行。
//
// 多个 goroutine 并发调用 Line 是安全的。
type Logger struct {
	mu       sync.Mutex
	w        io.Writer
	renderer *lipgloss.Renderer
	now      func() time.Time
}

// New 创建 Logger；mode 为 auto 时仅在 w 是终端时着色
func New(w io.Writer, mode ColorMode) *Logger {
	r := lipgloss.NewRenderer(w)
	switch mode {
	case ColorAlways:
		r.SetColorProfile(termenv.ANSI)
	case ColorNever:
		r.SetColorProfile(termenv.Ascii)
	default:
		if !isTerminal(w) {
			r.SetColorProfile(termenv.Ascii)
		} else {
			r.SetColorProfile(termenv.ANSI)
		}
	}
	return &Logger{w: w, renderer: r, now: time.Now}
}

// SetClock 替换时间来源，测试用
func (l *Logger) SetClock(now func() time.Time) {
	l.mu.Lock()
	l.now = now
	l.mu.Unlock()
}

// Line 输出一行，message 中的换行符会被拆成多行
func (l *Logger) Line(name string, color int, message string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	prefix := l.renderer.NewStyle().
		Foreground(brightColor(color)).
		Render(fmt.Sprintf("%s%8s |", l.now().Format("15:04:05"), name))
	for _, line := range strings.Split(message, "\n") {
		fmt.Fprintf(l.w, "%s %s\n", prefix, line)
	}
}

// Printf 以 format 格式化后输出一行
func (l *Logger) Printf(name string, color int, format string, args ...any) {
	l.Line(name, color, fmt.Sprintf(format, args...))
}

// brightColor 将颜色槽映射为高亮 ANSI 色(9..15)
func brightColor(slot int) lipgloss.ANSIColor {
	if slot < 1 || slot > SystemColor {
		slot = SystemColor
	}
	return lipgloss.ANSIColor(8 + slot)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
