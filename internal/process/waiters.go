package process

import "github.com/GriffinCanCode/AgentOS/procman/internal/ipc"

type waiter struct {
	pid    int // 0 for the host
	signal *ipc.Signal
}

// waitingSets maps a target PID to the callers blocked on it.
type waitingSets map[int][]waiter

func (w waitingSets) add(target int, wt waiter) {
	w[target] = append(w[target], wt)
}

// release removes and returns everyone waiting on target.
func (w waitingSets) release(target int) []waiter {
	out := w[target]
	delete(w, target)
	return out
}

func (w waitingSets) count() int {
	n := 0
	for _, ws := range w {
		n += len(ws)
	}
	return n
}
