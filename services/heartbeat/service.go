package heartbeat

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"o2hal/bus"
	"o2hal/types"
	"o2hal/x/mathx"
)

var (
	topicConfigHeartbeat = bus.T("config", "heartbeat")
	topicHeartbeat       = bus.T("system", "heartbeat")
)

const (
	defaultInterval = time.Second
	minInterval     = 10 * time.Millisecond
	maxInterval     = 24 * time.Hour
)

type Service struct {
	log   logrus.FieldLogger
	start time.Time
}

func New(log logrus.FieldLogger) *Service {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Service{log: log.WithField("component", "heartbeat")}
}

func (s *Service) serviceLoop(ctx context.Context, conn *bus.Connection) {
	cfgSub := conn.Subscribe(topicConfigHeartbeat)
	defer conn.Unsubscribe(cfgSub)

	tick := time.NewTicker(defaultInterval)
	defer tick.Stop()

	// loop until context is cancelled, respond to tick and config changes
	for {
		select {
		case <-ctx.Done():
			s.log.Info("heartbeat service stopping")
			return
		case t := <-tick.C:
			hb := types.Heartbeat{UptimeS: int64(t.Sub(s.start) / time.Second), TS: t}
			conn.Publish(conn.NewMessage(topicHeartbeat, hb, false))
			s.log.WithField("uptime_s", hb.UptimeS).Debug("heartbeat")
		case msg := <-cfgSub.Channel():
			if iv, ok := interval(msg.Payload); ok {
				tick.Reset(iv)
				s.log.WithField("interval", iv).Info("heartbeat interval set")
			} else {
				s.log.WithField("payload", msg.Payload).Warn("ignoring heartbeat config")
			}
		}
	}
}

// interval reads {"interval": seconds}; JSON numbers decode as float64.
// Positive values are clamped to [minInterval, maxInterval].
func interval(p any) (time.Duration, bool) {
	m, ok := p.(map[string]any)
	if !ok {
		return 0, false
	}
	secs, ok := m["interval"].(float64)
	if !ok || !(secs > 0) { // also rejects NaN
		return 0, false
	}
	secs = mathx.Clamp(secs, minInterval.Seconds(), maxInterval.Seconds())
	return time.Duration(secs * float64(time.Second)), true
}

// Start the heartbeat service.
func (s *Service) Start(ctx context.Context, conn *bus.Connection) error {
	s.start = time.Now()
	go s.serviceLoop(ctx, conn)
	return nil
}
