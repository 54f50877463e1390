package watch_test

import (
	"fmt"
	"time"

	"github.com/shuakami/procman/internal/watch"
)

func ExampleDiff() {
	t0 := time.Unix(1700000000, 0)
	prev := &watch.Snapshot{Files: map[string]*watch.FileMetadata{
		"cmd/main.go": {Path: "cmd/main.go", ModTime: t0},
		"lib/util.go": {Path: "lib/util.go", ModTime: t0},
		"lib/old.go":  {Path: "lib/old.go", ModTime: t0},
	}}
	next := &watch.Snapshot{Files: map[string]*watch.FileMetadata{
		"cmd/main.go": {Path: "cmd/main.go", ModTime: t0.Add(time.Second)},
		"lib/util.go": {Path: "lib/util.go", ModTime: t0},
		"lib/new.go":  {Path: "lib/new.go", ModTime: t0},
	}}

	for _, p := range watch.Diff(prev, next) {
		fmt.Println(p)
	}
	// Output:
	// cmd/main.go
	// lib/new.go
	// lib/old.go
}
