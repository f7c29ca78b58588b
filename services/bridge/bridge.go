// Package bridge forwards HAL bus traffic to an MQTT broker.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"o2hal/bus"
	"o2hal/types"
)

var (
	topicConfig = bus.T("config", "bridge")
	topicState  = bus.T("bridge", "state")
	topicHAL    = bus.T("hal", bus.MultiWild)
)

const (
	defaultClientID = "o2hal"
	publishTimeout  = 5 * time.Second
)

// -----------------------------------------------------------------------------
// Client seam
// -----------------------------------------------------------------------------

// Client is the subset of an MQTT client the bridge needs.
type Client interface {
	Connect(ctx context.Context) error
	Publish(topic string, qos byte, retained bool, payload []byte) error
	Close()
}

// Dialer builds a client for cfg. onLost is called when an established
// connection drops.
type Dialer func(cfg types.BridgeConfig, onLost func(error)) Client

// PahoDialer returns clients backed by eclipse/paho.mqtt.golang.
func PahoDialer(cfg types.BridgeConfig, onLost func(error)) Client {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(false).
		SetConnectTimeout(10*time.Second).
		SetWill(remoteTopic(cfg.Prefix, topicState), `{"level":"down","status":"will"}`, cfg.QoS, true).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) { onLost(err) })
	return &pahoClient{c: mqtt.NewClient(opts)}
}

type pahoClient struct{ c mqtt.Client }

func (p *pahoClient) Connect(ctx context.Context) error {
	tok := p.c.Connect()
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *pahoClient) Publish(topic string, qos byte, retained bool, payload []byte) error {
	tok := p.c.Publish(topic, qos, retained, payload)
	if !tok.WaitTimeout(publishTimeout) {
		return errors.Errorf("publish %s: timed out", topic)
	}
	return tok.Error()
}

func (p *pahoClient) Close() { p.c.Disconnect(250) }

// -----------------------------------------------------------------------------
// Service
// -----------------------------------------------------------------------------

type Service struct {
	conn *bus.Connection
	dial Dialer
	log  logrus.FieldLogger

	mu     sync.Mutex
	curRun context.CancelFunc
}

// New returns a bridge using dial; nil selects PahoDialer.
func New(conn *bus.Connection, dial Dialer, log logrus.FieldLogger) *Service {
	if dial == nil {
		dial = PahoDialer
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Service{conn: conn, dial: dial, log: log.WithField("component", "bridge")}
}

// Start runs the bridge until ctx is cancelled. It waits for config on
// "config/bridge" and (re)configures the link on every change.
func Start(ctx context.Context, conn *bus.Connection, log logrus.FieldLogger) {
	New(conn, nil, log).Run(ctx)
}

func (s *Service) Run(ctx context.Context) {
	cfgSub := s.conn.Subscribe(topicConfig)
	defer s.conn.Unsubscribe(cfgSub)

	s.publishState("idle", "awaiting_config", nil)

	for {
		select {
		case <-ctx.Done():
			s.stopCurrent()
			s.publishState("stopped", "context_done", nil)
			return
		case msg, ok := <-cfgSub.Channel():
			if !ok {
				s.publishState("error", "config_subscription_closed", nil)
				return
			}
			cfg, err := decodeConfig(msg.Payload)
			if err != nil {
				s.log.WithError(err).Warn("bad bridge config")
				s.publishState("error", "config_decode_failed", err)
				continue
			}
			if cfg.Broker == "" {
				s.stopCurrent()
				s.publishState("idle", "disabled", nil)
				continue
			}
			s.reconfigure(ctx, cfg)
		}
	}
}

func (s *Service) stopCurrent() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.curRun != nil {
		s.curRun()
		s.curRun = nil
	}
}

func (s *Service) reconfigure(parent context.Context, cfg types.BridgeConfig) {
	s.mu.Lock()
	if s.curRun != nil {
		s.curRun()
		s.curRun = nil
	}
	ctx, cancel := context.WithCancel(parent)
	s.curRun = cancel
	s.mu.Unlock()

	s.log.WithFields(logrus.Fields{"broker": cfg.Broker, "prefix": cfg.Prefix}).Info("bridge configured")
	go s.runLink(ctx, cfg)
}

// -----------------------------------------------------------------------------
// Link supervision and forwarding
// -----------------------------------------------------------------------------

func (s *Service) runLink(ctx context.Context, cfg types.BridgeConfig) {
	backoff := backoffSeq(250*time.Millisecond, 30*time.Second)
	for {
		lost := make(chan error, 1)
		c := s.dial(cfg, func(err error) {
			select {
			case lost <- err:
			default:
			}
		})

		if err := c.Connect(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			delay := backoff()
			s.publishState("degraded", "dial_failed_retrying", fmt.Errorf("%v (retry in %s)", err, delay))
			if !sleep(ctx, delay) {
				return
			}
			continue
		}

		err := s.forward(ctx, c, cfg, lost)
		c.Close()
		if err == nil {
			return
		}
		delay := backoff()
		s.publishState("degraded", "link_lost_retrying", fmt.Errorf("%v (retry in %s)", err, delay))
		if !sleep(ctx, delay) {
			return
		}
	}
}

// forward copies hal/# to the broker until ctx ends (nil) or the link
// fails (non-nil). Retained state is replayed on every new subscription,
// so a reconnect resends the current picture.
func (s *Service) forward(ctx context.Context, c Client, cfg types.BridgeConfig, lost <-chan error) error {
	sub := s.conn.Subscribe(topicHAL)
	defer s.conn.Unsubscribe(sub)
	s.publishState("up", "link_established", nil)

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-lost:
			return errors.Wrap(err, "connection lost")
		case msg, ok := <-sub.Channel():
			if !ok {
				return nil
			}
			// Requests expect a local reply; they are not telemetry.
			if msg.CanReply() {
				continue
			}
			payload, err := encodePayload(msg.Payload)
			if err != nil {
				s.log.WithError(err).WithField("topic", msg.Topic.String()).Warn("dropping unencodable payload")
				continue
			}
			rt := remoteTopic(cfg.Prefix, msg.Topic)
			if err := c.Publish(rt, cfg.QoS, msg.Retained, payload); err != nil {
				return errors.Wrapf(err, "publish %s", rt)
			}
		}
	}
}

// remoteTopic maps a bus topic under prefix.
func remoteTopic(prefix string, t bus.Topic) string {
	if prefix == "" {
		return t.String()
	}
	return prefix + "/" + t.String()
}

// encodePayload renders a bus payload as JSON. A nil payload maps to an
// empty MQTT payload, which clears a retained topic on the broker.
func encodePayload(p any) ([]byte, error) {
	switch v := p.(type) {
	case nil:
		return []byte{}, nil
	case []byte:
		return v, nil
	}
	return json.Marshal(p)
}

// -----------------------------------------------------------------------------
// Utilities
// -----------------------------------------------------------------------------

func decodeConfig(p any) (types.BridgeConfig, error) {
	var cfg types.BridgeConfig
	switch v := p.(type) {
	case types.BridgeConfig:
		cfg = v
	case *types.BridgeConfig:
		if v == nil {
			return cfg, errors.New("nil bridge config")
		}
		cfg = *v
	case []byte:
		if err := json.Unmarshal(v, &cfg); err != nil {
			return cfg, errors.Wrap(err, "decode bridge config")
		}
	case string:
		if err := json.Unmarshal([]byte(v), &cfg); err != nil {
			return cfg, errors.Wrap(err, "decode bridge config")
		}
	case map[string]any:
		b, err := json.Marshal(v)
		if err != nil {
			return cfg, err
		}
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, errors.Wrap(err, "decode bridge config")
		}
	default:
		return cfg, errors.Errorf("unsupported config payload type: %T", p)
	}
	if cfg.ClientID == "" {
		cfg.ClientID = defaultClientID
	}
	if cfg.QoS > 2 {
		return cfg, errors.Errorf("qos %d out of range", cfg.QoS)
	}
	return cfg, nil
}

func (s *Service) publishState(level, status string, err error) {
	st := types.HALState{Level: level, Status: status, TS: time.Now()}
	if err != nil {
		st.Error = err.Error()
		s.log.WithError(err).WithField("status", status).Warn("bridge " + level)
	}
	s.conn.Publish(s.conn.NewMessage(topicState, st, true))
}

func backoffSeq(min, max time.Duration) func() time.Duration {
	if min <= 0 {
		min = 100 * time.Millisecond
	}
	if max < min {
		max = min
	}
	var cur = min
	return func() time.Duration {
		d := cur
		cur *= 2
		if cur > max {
			cur = max
		}
		return d
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
