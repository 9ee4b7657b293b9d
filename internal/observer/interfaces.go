// internal/observer/interfaces.go
package observer

// Observer 观察者接口
type Observer interface {
	// Update 接收某个任务的最新进度，percent 取值 0-100
	Update(jobID string, percent float64)
}

// Observable 被观察者（主题）接口
type Observable interface {
	AddObserver(o Observer)
	Notify(jobID string, percent float64)
}

// Func 让普通函数满足 Observer 接口
type Func func(jobID string, percent float64)

// Update 实现了 Observer 接口
func (f Func) Update(jobID string, percent float64) { f(jobID, percent) }
