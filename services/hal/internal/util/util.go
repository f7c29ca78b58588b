// services/hal/internal/util/util.go
package util

import (
	"encoding/json"
	"time"

	"o2hal/x/mathx"
)

func ResetTimer(t *time.Timer, d time.Duration) {
	if d < 0 {
		d = 0
	}
	if !t.Stop() {
		DrainTimer(t)
	}
	t.Reset(d)
}

func DrainTimer(t *time.Timer) {
	select {
	case <-t.C:
	default:
	}
}

// DecodeJSON converts a JSON-shaped value (bytes, string, or a decoded
// map/struct) into dst.
func DecodeJSON[T any](src any, dst *T) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(v, dst)
	case string:
		return json.Unmarshal([]byte(v), dst)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		return json.Unmarshal(b, dst)
	}
}

// Sampling period limits applied to every scheduled device.
const (
	MinPeriod = 200 * time.Millisecond
	MaxPeriod = time.Hour
)

// ClampPeriod bounds a sampling period to [MinPeriod, MaxPeriod]. Zero or
// negative selects MinPeriod.
func ClampPeriod(d time.Duration) time.Duration {
	if d <= 0 {
		return MinPeriod
	}
	return mathx.Clamp(d, MinPeriod, MaxPeriod)
}
