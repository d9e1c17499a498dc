// Package sigchan 事件通知用的信号 channel。
// 行情流的读循环在断线时 Emit，重连器 select 在 C() 上被唤醒；
// 同一时刻多次触发会合并成一次，处理完 Drain 掉积压即可。
package sigchan

type Chan struct {
	c chan struct{}
}

func New(buffer int) *Chan {
	return &Chan{c: make(chan struct{}, buffer)}
}

// Emit 发出信号，缓冲已满时直接丢弃，绝不阻塞调用方
func (s *Chan) Emit() {
	select {
	case s.c <- struct{}{}:
	default:
	}
}

// C 返回可 select 的只读 channel
func (s *Chan) C() <-chan struct{} {
	return s.c
}

// Drain 丢弃已积压的信号，在处理完一批事件后调用避免空转
func (s *Chan) Drain() {
	for {
		select {
		case <-s.c:
		default:
			return
		}
	}
}
