package watch

import (
	"fmt"
	"os"
	"sort"
	"time"
)

// FileMetadata 表示单个文件在某个快照中的信息
type FileMetadata struct {
	Path    string
	ModTime time.Time
}

// Snapshot 是某一时刻所有命中文件的状态
//
// ID 形如 "snap-1700000000000000000"，只用于日志
type Snapshot struct {
	ID        string
	CreatedAt time.Time
	Files     map[string]*FileMetadata
}

// TakeSnapshot 在当前文件系统上展开所有模式，记录每个文件的修改时间
func (w *Watcher) TakeSnapshot() (*Snapshot, error) {
	now := time.Now()
	snap := &Snapshot{
		ID:        newSnapID(now),
		CreatedAt: now,
		Files:     make(map[string]*FileMetadata),
	}
	for _, p := range w.patterns {
		files, err := w.resolve(p)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", p.raw, err)
		}
		for _, f := range files {
			fi, err := os.Stat(f)
			if err != nil {
				// 解析和 stat 之间被删除
				continue
			}
			snap.Files[f] = &FileMetadata{Path: f, ModTime: fi.ModTime()}
		}
	}
	return snap, nil
}

// Diff 返回两次快照之间新增、删除或修改时间变化的路径，已排序
func Diff(prev, next *Snapshot) []string {
	var changed []string
	for path, meta := range next.Files {
		old, ok := prev.Files[path]
		if !ok || !old.ModTime.Equal(meta.ModTime) {
			changed = append(changed, path)
		}
	}
	for path := range prev.Files {
		if _, ok := next.Files[path]; !ok {
			changed = append(changed, path)
		}
	}
	sort.Strings(changed)
	return changed
}

// newSnapID 生成快照ID，使用纳秒时间戳
func newSnapID(t time.Time) string {
	return fmt.Sprintf("snap-%d", t.UnixNano())
}
