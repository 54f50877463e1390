package watch

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeFile 创建文件及其父目录
func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// touch 把文件的修改时间设置为 base+offset
func touch(t *testing.T, path string, offset time.Duration) {
	t.Helper()
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).Add(offset)
	require.NoError(t, os.Chtimes(path, ts, ts))
}

// tree 创建测试用的目录结构
//
//	root/a.go
//	root/notes.txt
//	root/sub/b.go
//	root/sub/deep/c.go
//	root/.git/d.go
//	root/node_modules/e.go
func tree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	for _, p := range []string{"a.go", "notes.txt", "sub/b.go", "sub/deep/c.go", ".git/d.go", "node_modules/e.go"} {
		writeFile(t, filepath.Join(root, p), "package x\n")
	}
	return root
}

func newTestWatcher(t *testing.T, cfg Config) *Watcher {
	t.Helper()
	w, err := NewWatcher(cfg)
	require.NoError(t, err)
	t.Cleanup(w.Stop)
	return w
}

func rel(t *testing.T, root string, paths []string) []string {
	t.Helper()
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		r, err := filepath.Rel(root, p)
		require.NoError(t, err)
		out = append(out, filepath.ToSlash(r))
	}
	sort.Strings(out)
	return out
}

// TestIsIgnored 测试 isIgnored 函数
func TestIsIgnored(t *testing.T) {
	w := Watcher{
		cfg: Config{
			IgnorePatterns: []string{"*.tmp", ".git"},
		},
	}

	cases := []struct {
		name   string
		ignore bool
	}{
		{"file.tmp", true},
		{"file.log", false},
		{"main.git", false},
		{".git", true},
		{".", false},
	}

	for _, c := range cases {
		got := w.isIgnored(c.name)
		if got != c.ignore {
			t.Errorf("isIgnored(%s) = %v; want %v", c.name, got, c.ignore)
		}
	}
}

func TestParsePattern(t *testing.T) {
	root := tree(t)

	p := parsePattern(root)
	assert.True(t, p.dir)
	assert.Equal(t, root, p.root())

	p = parsePattern(filepath.Join(root, "**", "*.go"))
	assert.True(t, p.deep)
	assert.Equal(t, root, p.base)
	assert.Equal(t, "*.go", p.rest)
	assert.Equal(t, root, p.root())

	p = parsePattern(filepath.Join(root, "sub", "**"))
	assert.True(t, p.deep)
	assert.Equal(t, "*", p.rest)

	p = parsePattern(filepath.Join(root, "sub", "*", "*.go"))
	assert.False(t, p.deep)
	assert.Equal(t, filepath.Join(root, "sub"), p.root())

	p = parsePattern("**/*.go")
	assert.Equal(t, ".", p.base)
}

func TestResolveDescendantPattern(t *testing.T) {
	root := tree(t)
	w := newTestWatcher(t, Config{Patterns: []string{root}, Mode: ModePoll})

	files, err := w.resolve(parsePattern(filepath.Join(root, "**", "*.go")))
	require.NoError(t, err)
	assert.Equal(t, []string{"a.go", "sub/b.go", "sub/deep/c.go"}, rel(t, root, files))

	files, err = w.resolve(parsePattern(filepath.Join(root, "sub", "**", "*.go")))
	require.NoError(t, err)
	assert.Equal(t, []string{"sub/b.go", "sub/deep/c.go"}, rel(t, root, files))

	files, err = w.resolve(parsePattern(filepath.Join(root, "*.go")))
	require.NoError(t, err)
	assert.Equal(t, []string{"a.go"}, rel(t, root, files))

	files, err = w.resolve(parsePattern(root))
	require.NoError(t, err)
	assert.Equal(t, []string{"a.go", "sub/b.go", "sub/deep/c.go"}, rel(t, root, files))

	files, err = w.resolve(parsePattern(filepath.Join(root, "missing", "**", "*.go")))
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestMatchesAgreesWithResolve(t *testing.T) {
	root := tree(t)
	w := newTestWatcher(t, Config{Patterns: []string{root}, Mode: ModePoll})

	cases := []struct {
		pattern string
		path    string
		want    bool
	}{
		{root, "a.go", true},
		{root, "sub/deep/c.go", true},
		{root, "notes.txt", false},
		{root, ".git/d.go", false},
		{root, "node_modules/e.go", false},
		{filepath.Join(root, "**", "*.go"), "a.go", true},
		{filepath.Join(root, "**", "*.go"), "sub/deep/c.go", true},
		{filepath.Join(root, "**", "*.go"), ".git/d.go", false},
		{filepath.Join(root, "**", "deep", "*.go"), "sub/deep/c.go", true},
		{filepath.Join(root, "**", "deep", "*.go"), "sub/b.go", false},
		{filepath.Join(root, "*.go"), "a.go", true},
		{filepath.Join(root, "*.go"), "sub/b.go", false},
	}
	for _, c := range cases {
		got := w.matches(parsePattern(c.pattern), filepath.Join(root, c.path))
		assert.Equal(t, c.want, got, "matches(%s, %s)", c.pattern, c.path)
	}
}

func TestPollReportsOnlyModifiedFile(t *testing.T) {
	root := t.TempDir()
	a, b := filepath.Join(root, "a.go"), filepath.Join(root, "b.go")
	writeFile(t, a, "a")
	writeFile(t, b, "b")
	touch(t, a, 0)
	touch(t, b, 0)

	w := newTestWatcher(t, Config{Patterns: []string{filepath.Join(root, "**", "*.go")}, Mode: ModePoll})

	changed, err := w.Poll()
	require.NoError(t, err)
	assert.Empty(t, changed, "first poll only records the baseline")

	touch(t, a, time.Minute)
	changed, err = w.Poll()
	require.NoError(t, err)
	assert.Equal(t, []string{a}, changed)

	changed, err = w.Poll()
	require.NoError(t, err)
	assert.Empty(t, changed)
}

func TestPollReportsAddedAndRemoved(t *testing.T) {
	root := t.TempDir()
	a := filepath.Join(root, "a.go")
	writeFile(t, a, "a")

	w := newTestWatcher(t, Config{Patterns: []string{root}, Mode: ModePoll})
	_, err := w.Poll()
	require.NoError(t, err)

	c := filepath.Join(root, "new", "c.go")
	writeFile(t, c, "c")
	require.NoError(t, os.Remove(a))

	changed, err := w.Poll()
	require.NoError(t, err)
	assert.Equal(t, []string{a, c}, changed)
}

func TestDiff(t *testing.T) {
	t0 := time.Unix(100, 0)
	prev := &Snapshot{Files: map[string]*FileMetadata{
		"a": {Path: "a", ModTime: t0},
		"b": {Path: "b", ModTime: t0},
		"c": {Path: "c", ModTime: t0},
	}}
	next := &Snapshot{Files: map[string]*FileMetadata{
		"a": {Path: "a", ModTime: t0.Add(time.Second)},
		"b": {Path: "b", ModTime: t0},
		"d": {Path: "d", ModTime: t0},
	}}
	assert.Equal(t, []string{"a", "c", "d"}, Diff(prev, next))
	assert.Empty(t, Diff(prev, prev))
}

// collector 收集 debouncer 的通知
type collector struct {
	mu    sync.Mutex
	fires [][]string
}

func (c *collector) fire(paths []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fires = append(c.fires, paths)
}

func (c *collector) get() [][]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]string(nil), c.fires...)
}

func TestDebouncerCoalescesBurst(t *testing.T) {
	col := &collector{}
	d := newDebouncer(80*time.Millisecond, col.fire)
	defer d.Stop()

	d.Add("b")
	time.Sleep(20 * time.Millisecond)
	d.Add("a")
	time.Sleep(20 * time.Millisecond)
	d.Add("b")
	assert.Empty(t, col.get(), "nothing fires while events keep arriving")

	require.Eventually(t, func() bool { return len(col.get()) == 1 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, [][]string{{"a", "b"}}, col.get())
}

func TestDebouncerZeroDelayFiresImmediately(t *testing.T) {
	col := &collector{}
	d := newDebouncer(0, col.fire)
	d.Add("x")
	assert.Equal(t, [][]string{{"x"}}, col.get())
}

func TestDebouncerStopDropsPending(t *testing.T) {
	col := &collector{}
	d := newDebouncer(30*time.Millisecond, col.fire)
	d.Add("x")
	d.Stop()
	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, col.get())
}

func waitChange(t *testing.T, w *Watcher, timeout time.Duration) Change {
	t.Helper()
	select {
	case c := <-w.EventChan:
		return c
	case <-time.After(timeout):
		t.Fatal("timeout waiting for change")
		return Change{}
	}
}

func assertNoChange(t *testing.T, w *Watcher, wait time.Duration) {
	t.Helper()
	select {
	case c := <-w.EventChan:
		t.Fatalf("unexpected change: %v", c.Paths)
	case <-time.After(wait):
	}
}

func TestNotifyWatcherDetectsChanges(t *testing.T) {
	root := tree(t)
	w := newTestWatcher(t, Config{Patterns: []string{root}, Debounce: 50 * time.Millisecond})
	require.NoError(t, w.Start())

	a := filepath.Join(root, "a.go")
	for i := 0; i < 3; i++ {
		writeFile(t, a, "package x // edit\n")
	}
	c := waitChange(t, w, 3*time.Second)
	assert.Equal(t, []string{a}, c.Paths)

	// 不匹配或被忽略的文件不触发
	writeFile(t, filepath.Join(root, "notes.txt"), "ignored")
	writeFile(t, filepath.Join(root, ".git", "d.go"), "ignored")
	assertNoChange(t, w, 300*time.Millisecond)

	// 新建的子目录会被加入监控
	require.NoError(t, os.Mkdir(filepath.Join(root, "fresh"), 0o755))
	time.Sleep(100 * time.Millisecond)
	f := filepath.Join(root, "fresh", "f.go")
	writeFile(t, f, "package fresh\n")
	c = waitChange(t, w, 3*time.Second)
	assert.Equal(t, []string{f}, c.Paths)
}

func TestPollWatcherEmitsChange(t *testing.T) {
	root := t.TempDir()
	a, b := filepath.Join(root, "a.go"), filepath.Join(root, "b.go")
	writeFile(t, a, "a")
	writeFile(t, b, "b")

	w := newTestWatcher(t, Config{Patterns: []string{root}, Mode: ModePoll, Debounce: 10 * time.Millisecond})
	require.NoError(t, w.Start())

	touch(t, b, time.Hour)
	c := waitChange(t, w, 5*time.Second)
	assert.Equal(t, []string{b}, c.Paths)
}

func TestRunCallsBackUntilCancelled(t *testing.T) {
	root := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan Change, 4)
	done := make(chan error, 1)
	go func() {
		done <- Run(ctx, Config{Patterns: []string{root}, Debounce: 20 * time.Millisecond}, func(c Change) {
			got <- c
		})
	}()

	f := filepath.Join(root, "main.go")
	require.Eventually(t, func() bool {
		writeFile(t, f, "package main\n")
		select {
		case c := <-got:
			return assert.Equal(t, []string{f}, c.Paths)
		case <-time.After(200 * time.Millisecond):
			return false
		}
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestNewWatcherValidates(t *testing.T) {
	_, err := NewWatcher(Config{})
	assert.Error(t, err)

	_, err = NewWatcher(Config{Patterns: []string{"."}, Match: "[", Mode: ModePoll})
	assert.Error(t, err)

	w, err := NewWatcher(Config{Patterns: []string{"."}, Mode: ModePoll, PollInterval: time.Millisecond})
	require.NoError(t, err)
	assert.Equal(t, DefaultPollInterval, w.cfg.PollInterval)
	w.Stop()
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeNotify, m)

	m, err = ParseMode("POLL")
	require.NoError(t, err)
	assert.Equal(t, ModePoll, m)

	_, err = ParseMode("inotify")
	assert.Error(t, err)
}
