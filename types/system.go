package types

import "time"

// Heartbeat is published on "system/heartbeat" at the configured interval.
type Heartbeat struct {
	UptimeS int64     `json:"uptime_s"`
	TS      time.Time `json:"ts"`
}
