package exporter

import "sync"

// ProgressEvent 导出进度事件（用于 UI 展示）
type ProgressEvent struct {
	Percent int
	Stage   string
}

func reportProgress(progress func(ProgressEvent), percent int, stage string) {
	if progress == nil {
		return
	}
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	progress(ProgressEvent{
		Percent: percent,
		Stage:   stage,
	})
}

// progressRange 将 0..100 的内部进度映射到 [from, to]，可被多个 goroutine 调用
type progressRange struct {
	mu       sync.Mutex
	progress func(ProgressEvent)
	from, to int
	last     int
}

func newProgressRange(progress func(ProgressEvent), from, to int) *progressRange {
	if from == 0 && to == 0 {
		to = 100
	}
	if to < from {
		from, to = to, from
	}
	return &progressRange{progress: progress, from: from, to: to, last: -1}
}

// report 内部进度 0..100；只上报递增的百分比
func (r *progressRange) report(percent int, stage string) {
	if r == nil || r.progress == nil {
		return
	}
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	mapped := r.from + (r.to-r.from)*percent/100

	r.mu.Lock()
	defer r.mu.Unlock()
	if mapped <= r.last {
		return
	}
	r.last = mapped
	reportProgress(r.progress, mapped, stage)
}
