package config

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"o2hal/bus"
)

const (
	serviceName  = "config"
	configPrefix = "config"
)

type ctxKey struct{}

// CtxDeviceKey is the context key carrying the device id whose embedded
// config is published.
var CtxDeviceKey = ctxKey{}

// WithDevice returns ctx carrying device.
func WithDevice(ctx context.Context, device string) context.Context {
	return context.WithValue(ctx, CtxDeviceKey, device)
}

// EmbeddedConfigLookup allows overriding how configs are resolved.
var EmbeddedConfigLookup = func(device string) ([]byte, bool) {
	b, ok := embeddedConfigs[device]
	return b, ok
}

// Devices lists the device ids with an embedded config.
func Devices() []string {
	out := make([]string, 0, len(embeddedConfigs))
	for k := range embeddedConfigs {
		out = append(out, k)
	}
	return out
}

// -----------------------------------------------------------------------------
// Config Service
// -----------------------------------------------------------------------------

type ConfigService struct {
	Name string
	log  logrus.FieldLogger
}

func NewConfigService(log logrus.FieldLogger) *ConfigService {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &ConfigService{Name: serviceName, log: log.WithField("component", serviceName)}
}

// publishConfig publishes each top-level key of the device's embedded config
// as a retained message on config/<key>.
func (s *ConfigService) publishConfig(ctx context.Context, conn *bus.Connection) error {
	device, _ := ctx.Value(CtxDeviceKey).(string)
	if device == "" {
		return errors.New("missing device ID in context")
	}

	raw, ok := EmbeddedConfigLookup(device)
	if !ok || len(raw) == 0 {
		return errors.Errorf("no embedded config for device: %s", device)
	}

	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return errors.Wrapf(err, "embedded config for %s is not a JSON object", device)
	}

	for k, v := range m {
		var val any
		if err := json.Unmarshal(v, &val); err != nil {
			return errors.Wrapf(err, "config key %q", k)
		}
		conn.Publish(&bus.Message{
			Topic:    bus.T(configPrefix, k),
			Payload:  val,
			Retained: true,
		})
		s.log.WithField("key", k).Debug("config published")
	}
	s.log.WithFields(logrus.Fields{"device": device, "keys": len(m)}).Info("embedded config published")
	return nil
}

// Start launches the config publisher in a goroutine.
func (s *ConfigService) Start(ctx context.Context, conn *bus.Connection) {
	go func() {
		if err := s.publishConfig(ctx, conn); err != nil {
			s.log.WithError(err).Error("config not published")
		}
	}()
}
