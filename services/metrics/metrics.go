// Package metrics exports HAL oxygen readings and capability health to
// Prometheus.
package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"o2hal/bus"
	"o2hal/types"
)

var (
	topicConfig = bus.T("config", "metrics")
	topicValues = bus.T("hal", "capability", string(types.KindOxygen), bus.SingleWild, "value")
	topicStates = bus.T("hal", "capability", string(types.KindOxygen), bus.SingleWild, "state")
)

// Service mirrors bus traffic into a private registry.
type Service struct {
	log logrus.FieldLogger
	reg *prometheus.Registry

	percent  *prometheus.GaugeVec
	samples  *prometheus.GaugeVec
	up       *prometheus.GaugeVec
	readings *prometheus.CounterVec
	degraded *prometheus.CounterVec

	srv    *http.Server
	listen string
}

func newGauge(name, help string) *prometheus.GaugeVec {
	return prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "o2hal",
			Name:      name,
			Help:      help,
		},
		[]string{"capability"},
	)
}

func New(log logrus.FieldLogger) *Service {
	if log == nil {
		log = logrus.StandardLogger()
	}
	s := &Service{
		log:     log.WithField("component", "metrics"),
		reg:     prometheus.NewRegistry(),
		percent: newGauge("oxygen_percent", "Oxygen concentration (units: %vol)"),
		samples: newGauge("oxygen_valid_samples", "Valid samples in the last published cycle"),
		up:      newGauge("capability_up", "1 when the capability link is up, 0 otherwise"),
		readings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "o2hal",
			Name:      "readings_total",
			Help:      "Oxygen values published",
		}, []string{"capability"}),
		degraded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "o2hal",
			Name:      "degraded_total",
			Help:      "Capability state changes away from up, by error code",
		}, []string{"capability", "error"}),
	}
	s.reg.MustRegister(s.percent, s.samples, s.up, s.readings, s.degraded)
	s.reg.MustRegister(collectors.NewBuildInfoCollector())
	s.reg.MustRegister(collectors.NewGoCollector())
	return s
}

// Registry exposes the collectors, mainly for tests.
func (s *Service) Registry() *prometheus.Registry { return s.reg }

// Handler serves the registry in the Prometheus exposition format.
func (s *Service) Handler() http.Handler {
	return promhttp.HandlerFor(s.reg, promhttp.HandlerOpts{
		// Opt into OpenMetrics to support exemplars.
		EnableOpenMetrics: true,
	})
}

// Run consumes bus traffic until ctx is cancelled.
func (s *Service) Run(ctx context.Context, conn *bus.Connection) {
	cfgSub := conn.Subscribe(topicConfig)
	valSub := conn.Subscribe(topicValues)
	stSub := conn.Subscribe(topicStates)
	defer conn.Unsubscribe(cfgSub)
	defer conn.Unsubscribe(valSub)
	defer conn.Unsubscribe(stSub)
	defer s.stopHTTP()

	for {
		select {
		case <-ctx.Done():
			return
		case m := <-cfgSub.Channel():
			var cfg types.MetricsConfig
			if err := decode(m.Payload, &cfg); err != nil {
				s.log.WithError(err).Warn("bad metrics config")
				continue
			}
			s.serve(cfg.Listen)
		case m := <-valSub.Channel():
			s.observeValue(m)
		case m := <-stSub.Channel():
			s.observeState(m)
		}
	}
}

func capLabel(t bus.Topic) string {
	return fmt.Sprintf("%v/%v", t.At(2), t.At(3))
}

func (s *Service) observeValue(m *bus.Message) {
	var v types.OxygenValue
	if err := decode(m.Payload, &v); err != nil {
		s.log.WithError(err).WithField("topic", m.Topic.String()).Warn("unreadable oxygen value")
		return
	}
	c := capLabel(m.Topic)
	s.percent.WithLabelValues(c).Set(v.Percent)
	s.samples.WithLabelValues(c).Set(float64(v.Samples))
	s.readings.WithLabelValues(c).Inc()
}

func (s *Service) observeState(m *bus.Message) {
	var st types.CapabilityState
	if err := decode(m.Payload, &st); err != nil || st.Link == "" {
		return
	}
	c := capLabel(m.Topic)
	if st.Link == types.LinkUp {
		s.up.WithLabelValues(c).Set(1)
		return
	}
	s.up.WithLabelValues(c).Set(0)
	code := st.Error
	if code == "" {
		code = string(st.Link)
	}
	s.degraded.WithLabelValues(c, code).Inc()
}

// serve (re)starts the HTTP listener on addr. Empty addr disables it.
func (s *Service) serve(addr string) {
	if addr == s.listen && s.srv != nil {
		return
	}
	s.stopHTTP()
	s.listen = addr
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", s.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	s.srv = srv
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.WithError(err).WithField("listen", addr).Error("metrics listener failed")
		}
	}()
	s.log.WithField("listen", addr).Info("serving /metrics")
}

func (s *Service) stopHTTP() {
	if s.srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = s.srv.Shutdown(ctx)
	s.srv = nil
}

// decode accepts the typed payload or any JSON-shaped equivalent.
func decode[T any](p any, dst *T) error {
	if v, ok := p.(T); ok {
		*dst = v
		return nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, dst)
}
