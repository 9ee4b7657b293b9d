// internal/observer/progress_bar.go
package observer

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

// ProgressBarObserver 是一个具体的观察者，用于在终端显示单个任务的进度条
type ProgressBarObserver struct {
	jobID    string
	percent  float64
	barWidth int
	out      io.Writer
	mu       sync.Mutex
}

// NewProgressBarObserver 创建一个只关注 jobID 的进度条观察者
func NewProgressBarObserver(jobID string) *ProgressBarObserver {
	return &ProgressBarObserver{
		jobID:    jobID,
		barWidth: 50,
		out:      os.Stdout,
	}
}

// SetOutput 替换输出目标
func (p *ProgressBarObserver) SetOutput(w io.Writer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.out = w
}

// Update 实现了 Observer 接口，进度只增不减
func (p *ProgressBarObserver) Update(jobID string, percent float64) {
	if p.jobID != "" && jobID != p.jobID {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if percent < p.percent {
		return
	}
	if percent > 100 {
		percent = 100
	}
	p.percent = percent
	p.print()
}

// print 在终端上绘制进度条，调用方需持有锁
func (p *ProgressBarObserver) print() {
	filledWidth := int(p.percent / 100 * float64(p.barWidth))
	bar := strings.Repeat("=", filledWidth) + strings.Repeat(" ", p.barWidth-filledWidth)
	fmt.Fprintf(p.out, "\r[%s] %.2f%%", bar, p.percent)
	if p.percent >= 100 {
		fmt.Fprintln(p.out)
	}
}
