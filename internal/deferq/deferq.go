// Package deferq 实现按截止时间排序的延迟任务队列。
//
// 队列只在主控制 goroutine 上被访问：信号处理只负责投递零延迟任务，
// 真正的工作在下一次 tick 里由 RunDue 同步执行。
package deferq

import (
	"container/heap"
	"time"
)

// Job 是一个延迟任务
type Job struct {
	Ready time.Time // 最早可执行时间
	Seq   uint64    // 插入序号，Ready 相同时按插入顺序执行
	Fn    func()
}

// Queue 是延迟任务队列，零值不可用，请使用 New
type Queue struct {
	jobs jobHeap
	seq  uint64
	now  func() time.Time
}

// New 创建队列；clock 为 nil 时使用 time.Now
func New(clock func() time.Time) *Queue {
	if clock == nil {
		clock = time.Now
	}
	return &Queue{now: clock}
}

// Now 返回队列使用的当前时间
func (q *Queue) Now() time.Time {
	return q.now()
}

// Defer 在 now+delay 时刻安排 fn 执行
func (q *Queue) Defer(delay time.Duration, fn func()) {
	q.At(q.now().Add(delay), fn)
}

// At 在指定时刻安排 fn 执行
func (q *Queue) At(ready time.Time, fn func()) {
	q.seq++
	heap.Push(&q.jobs, &Job{Ready: ready, Seq: q.seq, Fn: fn})
}

// RunDue 按时间顺序执行所有 Ready <= now 的任务，返回执行的数量。
//
// 任务执行过程中新投递的到期任务也会在本次调用中执行。
func (q *Queue) RunDue(now time.Time) int {
	n := 0
	for len(q.jobs) > 0 && !q.jobs[0].Ready.After(now) {
		job := heap.Pop(&q.jobs).(*Job)
		job.Fn()
		n++
	}
	return n
}

// Next 返回最早任务的时间；队列为空时 ok 为 false
func (q *Queue) Next() (ready time.Time, ok bool) {
	if len(q.jobs) == 0 {
		return time.Time{}, false
	}
	return q.jobs[0].Ready, true
}

// Len 返回待执行任务数
func (q *Queue) Len() int {
	return len(q.jobs)
}

type jobHeap []*Job

func (h jobHeap) Len() int { return len(h) }

func (h jobHeap) Less(i, j int) bool {
	if h[i].Ready.Equal(h[j].Ready) {
		return h[i].Seq < h[j].Seq
	}
	return h[i].Ready.Before(h[j].Ready)
}

func (h jobHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *jobHeap) Push(x any) { *h = append(*h, x.(*Job)) }

func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	job := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return job
}
