package watch

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
)

// Mode 选择检测变更的方式
type Mode string

const (
	ModeNotify Mode = "notify" // 内核文件事件(fsnotify)
	ModePoll   Mode = "poll"   // 定期快照对比
)

const (
	DefaultDebounce     = 250 * time.Millisecond
	DefaultPollInterval = time.Second
	DefaultMatch        = "*.go"
)

// DefaultIgnorePatterns 默认忽略隐藏文件/目录和 node_modules
var DefaultIgnorePatterns = []string{".*", "node_modules"}

// ParseMode 解析 --mode 参数
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "", ModeNotify:
		return ModeNotify, nil
	case ModePoll:
		return m, nil
	default:
		return "", fmt.Errorf("invalid watch mode %q (want notify or poll)", s)
	}
}

// Config 用于配置 Watcher
//
// Patterns：要监控的模式。已存在的目录表示"该目录下递归所有符合 Match 的文件"，
// 其它模式按 filepath.Match 解析，路径段 ** 表示本目录及所有子孙目录
// Match：目录模式下文件名需要匹配的通配符，默认 *.go
// IgnorePatterns：需要忽略的文件或目录名通配符
// Debounce：事件合并窗口，每个新事件都会重新计时，默认 250ms；为 0 时立即通知
// PollInterval：轮询间隔，最小 1s
type Config struct {
	Patterns       []string
	Mode           Mode
	Match          string
	IgnorePatterns []string
	Debounce       time.Duration
	PollInterval   time.Duration
	Logger         *log.Logger
}

// Change 是一次合并后的变更通知
type Change struct {
	Paths []string // 排序后的变更路径
	At    time.Time
}

// Watcher 监控文件变化，合并一段时间内的事件后通过 EventChan 通知
//
// mu：保护 current 快照(轮询模式)
// fsWatcher：通知模式下的 fsnotify.Watcher，轮询模式为 nil
// stopChan：停止所有后台 goroutine
// EventChan：向外部暴露的变更通知通道
type Watcher struct {
	mu        sync.Mutex
	cfg       Config
	patterns  []pattern
	fsWatcher *fsnotify.Watcher
	log       *log.Logger

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	current *Snapshot
	deb     *debouncer

	EventChan chan Change
}

// NewWatcher 根据配置创建 Watcher，此时尚未开始监控
func NewWatcher(cfg Config) (*Watcher, error) {
	if len(cfg.Patterns) == 0 {
		return nil, errors.New("no watch patterns")
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeNotify
	}
	if cfg.Match == "" {
		cfg.Match = DefaultMatch
	}
	if _, err := filepath.Match(cfg.Match, ""); err != nil {
		return nil, fmt.Errorf("bad match pattern %q: %w", cfg.Match, err)
	}
	if cfg.IgnorePatterns == nil {
		cfg.IgnorePatterns = DefaultIgnorePatterns
	}
	if cfg.Debounce < 0 {
		cfg.Debounce = 0
	}
	if cfg.PollInterval < DefaultPollInterval {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(io.Discard)
	}

	w := &Watcher{
		cfg:       cfg,
		log:       cfg.Logger,
		stopChan:  make(chan struct{}),
		EventChan: make(chan Change, 64),
	}
	for _, raw := range cfg.Patterns {
		w.patterns = append(w.patterns, parsePattern(raw))
	}
	w.deb = newDebouncer(cfg.Debounce, w.emit)

	if cfg.Mode == ModeNotify {
		fsw, err := fsnotify.NewWatcher()
		if err != nil {
			return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
		}
		w.fsWatcher = fsw
	}
	return w, nil
}

// Start 开始监控
//
// 通知模式：递归地把每个模式的根目录加入 fsnotify，启动事件读取 goroutine
// 轮询模式：生成初始快照，启动定时对比 goroutine
func (w *Watcher) Start() error {
	switch w.cfg.Mode {
	case ModeNotify:
		for _, p := range w.patterns {
			if err := w.addRecursive(p.root()); err != nil {
				return err
			}
		}
		w.wg.Add(1)
		go w.runFsNotify()
	case ModePoll:
		snap, err := w.TakeSnapshot()
		if err != nil {
			return err
		}
		w.mu.Lock()
		w.current = snap
		w.mu.Unlock()
		w.wg.Add(1)
		go w.runPoller()
	default:
		return fmt.Errorf("unknown watch mode %q", w.cfg.Mode)
	}
	return nil
}

// Stop 停止监控
//
// 关闭 stopChan 并等待后台 goroutine 退出，丢弃还在合并窗口中的变更，最后关闭 EventChan
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopChan)
		if w.fsWatcher != nil {
			_ = w.fsWatcher.Close()
		}
		w.wg.Wait()
		w.deb.Stop()
		close(w.EventChan)
	})
}

// addRecursive 把 root 及其所有未被忽略的子目录加入 fsnotify
func (w *Watcher) addRecursive(root string) error {
	err := w.walkDirs(root, func(dir string) error {
		if e := w.fsWatcher.Add(dir); e != nil {
			w.log.Warn("cannot watch dir", "dir", dir, "err", e)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to walk watch path %s: %w", root, err)
	}
	return nil
}

// runFsNotify 不断读取 fsnotify 事件，筛选后交给合并器
func (w *Watcher) runFsNotify() {
	defer w.wg.Done()
	for {
		select {
		case ev, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.log.Warn("fsnotify error", "err", err)

		case <-w.stopChan:
			return
		}
	}
}

// handleEvent 处理单个 fsnotify 事件。
//
// 新建的目录加入监听(包括其中已经存在的子目录)；只有创建、写入的文件
// 且命中某个模式时才算一次变更。移入的文件在 fsnotify 中表现为 Create。
func (w *Watcher) handleEvent(ev fsnotify.Event) {
	if w.isIgnored(filepath.Base(ev.Name)) {
		return
	}
	if ev.Has(fsnotify.Create) {
		if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
			_ = w.addRecursive(ev.Name)
			return
		}
	}
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return
	}
	for _, p := range w.patterns {
		if w.matches(p, ev.Name) {
			w.log.Debug("change", "path", ev.Name, "op", ev.Op.String())
			w.deb.Add(ev.Name)
			return
		}
	}
}

// runPoller 按固定间隔对比快照
func (w *Watcher) runPoller() {
	defer w.wg.Done()
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			changed, err := w.Poll()
			if err != nil {
				w.log.Warn("poll failed", "err", err)
				continue
			}
			if len(changed) > 0 {
				w.deb.Add(changed...)
			}
		case <-w.stopChan:
			return
		}
	}
}

// Poll 生成新快照并与上一次对比，返回变更的路径。第一次调用只建立基准。
func (w *Watcher) Poll() ([]string, error) {
	next, err := w.TakeSnapshot()
	if err != nil {
		return nil, err
	}
	w.mu.Lock()
	prev := w.current
	w.current = next
	w.mu.Unlock()
	if prev == nil {
		return nil, nil
	}
	return Diff(prev, next), nil
}

// emit 向外部发送变更，通道满时丢弃并记录
func (w *Watcher) emit(paths []string) {
	change := Change{Paths: paths, At: time.Now()}
	select {
	case w.EventChan <- change:
	default:
		w.log.Warn("change channel full, dropping", "paths", len(paths))
	}
}

// isIgnored 判断文件或目录名是否匹配 cfg.IgnorePatterns
func (w *Watcher) isIgnored(name string) bool {
	if name == "." || name == ".." || name == string(filepath.Separator) {
		return false
	}
	for _, pat := range w.cfg.IgnorePatterns {
		if matched, _ := filepath.Match(pat, name); matched {
			return true
		}
	}
	return false
}

// debouncer 合并一段时间内的变更，每次 Add 都会重新计时
type debouncer struct {
	mu      sync.Mutex
	delay   time.Duration
	timer   *time.Timer
	pending map[string]struct{}
	stopped bool
	fire    func([]string)
}

func newDebouncer(delay time.Duration, fire func([]string)) *debouncer {
	return &debouncer{delay: delay, pending: make(map[string]struct{}), fire: fire}
}

func (d *debouncer) Add(paths ...string) {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	for _, p := range paths {
		d.pending[p] = struct{}{}
	}
	if d.delay <= 0 {
		d.mu.Unlock()
		d.flush()
		return
	}
	if d.timer == nil {
		d.timer = time.AfterFunc(d.delay, d.flush)
	} else {
		d.timer.Reset(d.delay)
	}
	d.mu.Unlock()
}

func (d *debouncer) flush() {
	d.mu.Lock()
	if d.stopped || len(d.pending) == 0 {
		d.mu.Unlock()
		return
	}
	defer d.mu.Unlock()
	paths := make([]string, 0, len(d.pending))
	for p := range d.pending {
		paths = append(paths, p)
	}
	d.pending = make(map[string]struct{})
	sort.Strings(paths)
	// 持锁调用，Stop 返回后不会再有通知
	d.fire(paths)
}

func (d *debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
}
