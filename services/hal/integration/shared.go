// Package integration exercises the HAL end to end against simulated buses.
package integration

import (
	"context"
	"time"

	"o2hal/bus"
)

func recvOrTimeout(ch <-chan *bus.Message, d time.Duration) (*bus.Message, error) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case m := <-ch:
		return m, nil
	case <-timer.C:
		return nil, context.DeadlineExceeded
	}
}

// waitFor drains ch until match accepts a message or d elapses.
func waitFor(ch <-chan *bus.Message, d time.Duration, match func(*bus.Message) bool) (*bus.Message, bool) {
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		m, err := recvOrTimeout(ch, time.Until(deadline))
		if err != nil {
			return nil, false
		}
		if match(m) {
			return m, true
		}
	}
	return nil, false
}
