package watch

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// descendant 是表示"本目录以及所有子孙目录"的路径段
const descendant = "**"

// pattern 是解析后的监控模式
//
// dir：模式本身是一个已存在的目录，匹配其中文件名符合 Config.Match 的文件
// base/rest：模式包含 ** 段时，base 是 ** 之前的部分，rest 是之后的部分
type pattern struct {
	raw  string
	dir  bool
	deep bool
	base string
	rest string
}

func parsePattern(raw string) pattern {
	p := pattern{raw: filepath.Clean(raw)}
	if fi, err := os.Stat(p.raw); err == nil && fi.IsDir() {
		p.dir = true
		p.base = p.raw
		return p
	}

	segs := strings.Split(filepath.ToSlash(p.raw), "/")
	for i, seg := range segs {
		if seg != descendant {
			continue
		}
		p.deep = true
		p.base = filepath.FromSlash(strings.Join(segs[:i], "/"))
		if p.base == "" {
			p.base = "."
		}
		if segs[0] == "" && i == 1 {
			p.base = string(filepath.Separator)
		}
		p.rest = filepath.FromSlash(strings.Join(segs[i+1:], "/"))
		if p.rest == "" {
			p.rest = "*"
		}
		return p
	}
	return p
}

// root 返回需要递归监听的目录：模式中第一个通配段之前的部分
func (p pattern) root() string {
	if p.dir || p.deep {
		return p.base
	}
	segs := strings.Split(filepath.ToSlash(p.raw), "/")
	var fixed []string
	for _, seg := range segs[:len(segs)-1] {
		if hasMeta(seg) {
			break
		}
		fixed = append(fixed, seg)
	}
	root := filepath.FromSlash(strings.Join(fixed, "/"))
	switch {
	case root == "" && strings.HasPrefix(p.raw, string(filepath.Separator)):
		return string(filepath.Separator)
	case root == "":
		return "."
	}
	return root
}

func hasMeta(s string) bool {
	return strings.ContainsAny(s, `*?[\`)
}

// matches 判断 path 是否命中模式
func (w *Watcher) matches(p pattern, path string) bool {
	path = filepath.Clean(path)
	switch {
	case p.dir:
		rel, ok := under(p.base, path)
		if !ok || rel == "." || w.ignoredBelow(rel) {
			return false
		}
		ok, _ = filepath.Match(w.cfg.Match, filepath.Base(path))
		return ok
	case p.deep:
		rel, ok := under(p.base, path)
		if !ok || rel == "." {
			return false
		}
		relSegs := strings.Split(filepath.ToSlash(rel), "/")
		restSegs := strings.Split(filepath.ToSlash(p.rest), "/")
		if len(relSegs) < len(restSegs) {
			return false
		}
		if w.ignoredBelow(filepath.Join(relSegs[:len(relSegs)-len(restSegs)]...)) {
			return false
		}
		tail := relSegs[len(relSegs)-len(restSegs):]
		for i, seg := range restSegs {
			if ok, _ := filepath.Match(seg, tail[i]); !ok {
				return false
			}
		}
		return true
	default:
		ok, _ := filepath.Match(p.raw, path)
		return ok
	}
}

// under 返回 path 相对 base 的路径；path 不在 base 之下时 ok 为 false
func under(base, path string) (string, bool) {
	rel, err := filepath.Rel(base, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return rel, true
}

// ignoredBelow 判断相对路径中是否有被忽略的目录段
func (w *Watcher) ignoredBelow(rel string) bool {
	if rel == "" || rel == "." {
		return false
	}
	for _, seg := range strings.Split(filepath.ToSlash(rel), "/") {
		if w.isIgnored(seg) {
			return true
		}
	}
	return false
}

// resolve 在当前文件系统上展开模式，返回命中的普通文件
func (w *Watcher) resolve(p pattern) ([]string, error) {
	switch {
	case p.dir:
		var files []string
		err := w.walkDirs(p.base, func(dir string) error {
			entries, err := os.ReadDir(dir)
			if err != nil {
				return nil
			}
			for _, e := range entries {
				if e.IsDir() || w.isIgnored(e.Name()) {
					continue
				}
				if ok, _ := filepath.Match(w.cfg.Match, e.Name()); ok {
					files = append(files, filepath.Join(dir, e.Name()))
				}
			}
			return nil
		})
		return files, err
	case p.deep:
		var files []string
		err := w.walkDirs(p.base, func(dir string) error {
			matches, err := filepath.Glob(filepath.Join(dir, p.rest))
			if err != nil {
				return err
			}
			files = append(files, regularFiles(matches)...)
			return nil
		})
		return files, err
	default:
		matches, err := filepath.Glob(p.raw)
		if err != nil {
			return nil, err
		}
		return regularFiles(matches), nil
	}
}

// walkDirs 对 root 及其所有未被忽略的子孙目录调用 fn
func (w *Watcher) walkDirs(root string, fn func(dir string) error) error {
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			// 目录在遍历过程中消失，跳过即可
			if p == root {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if p != root && w.isIgnored(d.Name()) {
			return filepath.SkipDir
		}
		return fn(p)
	})
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func regularFiles(paths []string) []string {
	out := paths[:0]
	for _, p := range paths {
		if fi, err := os.Stat(p); err == nil && fi.Mode().IsRegular() {
			out = append(out, p)
		}
	}
	return out
}
