// services/hal/internal/service/service.go
package service

import (
	"context"
	"reflect"
	"time"

	"github.com/sirupsen/logrus"

	"o2hal/bus"
	"o2hal/errcode"
	"o2hal/services/hal/internal/consts"
	"o2hal/services/hal/internal/halcore"
	"o2hal/services/hal/internal/halerr"
	"o2hal/services/hal/internal/registry"
	"o2hal/services/hal/internal/util"
	"o2hal/services/hal/internal/worker"
	"o2hal/types"
)

type devEntry struct {
	adaptor halcore.Adaptor
	caps    map[string]int // kind -> numeric capability id
	busID   string
	failed  bool
	cfg     types.Device // as configured; a change rebuilds the device
	// gen is renewed on build and reset; results from other generations
	// are dropped.
	gen uint32
}

type capKey struct {
	kind string
	id   int
}

// firstReadDelay is how long after configuration a device is first sampled.
const firstReadDelay = 200 * time.Millisecond

type Service struct {
	conn  *bus.Connection
	buses halcore.I2CBusFactory
	log   logrus.FieldLogger

	workers map[string]*worker.MeasureWorker // busID -> worker
	results chan halcore.Result

	devices map[string]*devEntry

	capToDev  map[capKey]string // (kind,id) -> devID
	nextCapID map[string]int

	devPeriod  map[string]time.Duration
	devNextDue map[string]time.Time
	genSeq     uint32

	timer *time.Timer
}

var (
	topicConfigHAL = bus.T(consts.TokConfig, consts.TokHAL)
	topicCtrl      = bus.T(consts.TokHAL, consts.TokCapability, bus.SingleWild, bus.SingleWild, consts.TokControl, bus.SingleWild)
)

// New builds a service publishing on conn. A nil log uses the logrus
// standard logger.
func New(conn *bus.Connection, buses halcore.I2CBusFactory, log logrus.FieldLogger) *Service {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Service{
		conn:       conn,
		buses:      buses,
		log:        log.WithField("component", "hal"),
		workers:    map[string]*worker.MeasureWorker{},
		results:    make(chan halcore.Result, 64),
		devices:    map[string]*devEntry{},
		capToDev:   map[capKey]string{},
		nextCapID:  map[string]int{},
		devPeriod:  map[string]time.Duration{},
		devNextDue: map[string]time.Time{},
	}
}

func (s *Service) Run(ctx context.Context) {
	cfgSub := s.conn.Subscribe(topicConfigHAL)
	ctrlSub := s.conn.Subscribe(topicCtrl)
	defer s.conn.Unsubscribe(cfgSub)
	defer s.conn.Unsubscribe(ctrlSub)

	s.publishState("idle", "awaiting_config", nil)

	s.timer = time.NewTimer(time.Hour)
	if !s.timer.Stop() {
		util.DrainTimer(s.timer)
	}

	for {
		// arm timer
		if next := s.earliestDevDue(); next.IsZero() {
			util.ResetTimer(s.timer, time.Hour)
		} else {
			util.ResetTimer(s.timer, time.Until(next))
		}

		select {
		case <-ctx.Done():
			s.publishState("stopped", "context_cancelled", nil)
			return

		case msg, ok := <-cfgSub.Channel():
			if !ok {
				return
			}
			cfg, err := decodeConfig(msg.Payload)
			if err != nil {
				s.log.WithError(err).Error("hal config rejected")
				s.publishState("error", "config_wrong_type", err)
				continue
			}
			if err := s.applyConfig(ctx, cfg); err != nil {
				s.publishState("error", "apply_config_failed", err)
				continue
			}
			s.publishState("ready", "configured", nil)

		case msg, ok := <-ctrlSub.Channel():
			if !ok {
				return
			}
			s.handleControl(msg)

		case <-s.timer.C:
			now := time.Now()
			for devID, due := range s.devNextDue {
				if !now.Before(due) {
					s.submitMeasure(devID, false)
					s.bumpDevNext(devID, now)
				}
			}

		case r := <-s.results:
			s.handleResult(r)
		}
	}
}

// decodeConfig accepts a typed HALConfig or any JSON-shaped equivalent.
func decodeConfig(p any) (types.HALConfig, error) {
	switch v := p.(type) {
	case types.HALConfig:
		return v, nil
	case *types.HALConfig:
		if v != nil {
			return *v, nil
		}
	}
	var cfg types.HALConfig
	if p == nil {
		return cfg, errcode.InvalidPayload
	}
	if err := util.DecodeJSON(p, &cfg); err != nil {
		return cfg, errcode.New(errcode.InvalidPayload, "decode_config", err)
	}
	return cfg, nil
}

func (s *Service) handleControl(msg *bus.Message) {
	if msg.Topic.Len() < 6 {
		return
	}
	kind, _ := msg.Topic.At(2).(string)
	idNum, ok := asInt(msg.Topic.At(3))
	if !ok || kind == "" {
		s.replyErr(msg, halerr.ErrInvalidCapAddr)
		return
	}
	devID, ok := s.capToDev[capKey{kind: kind, id: idNum}]
	if !ok {
		s.replyErr(msg, halerr.ErrUnknownCap)
		return
	}
	ent := s.devices[devID]
	method, _ := msg.Topic.At(5).(string)
	log := s.log.WithFields(logrus.Fields{"device": devID, "method": method})

	switch method {
	case consts.CtrlReadNow:
		if ent.failed {
			s.replyErr(msg, halerr.ErrDeviceFailed)
			return
		}
		if s.submitMeasure(devID, true) {
			s.bumpDevNext(devID, time.Now())
			s.conn.Reply(msg, types.ReadNowAck{OK: true}, false)
		} else {
			s.replyErr(msg, halerr.ErrBusy)
		}
	case consts.CtrlSetRate:
		p, ok := decodeSetRate(msg.Payload)
		if !ok {
			s.replyErr(msg, halerr.ErrInvalidPeriod)
			return
		}
		s.devPeriod[devID] = util.ClampPeriod(p)
		if !ent.failed {
			s.bumpDevNext(devID, time.Now())
		}
		log.WithField("period", s.devPeriod[devID]).Info("sampling period changed")
		s.conn.Reply(msg, types.SetRateAck{OK: true, Period: s.devPeriod[devID]}, false)
	default:
		if ent.adaptor == nil {
			s.replyErr(msg, halerr.ErrNoAdaptor)
			return
		}
		res, err := ent.adaptor.Control(kind, method, msg.Payload)
		if err != nil {
			log.WithError(err).Debug("control rejected")
			s.replyErr(msg, err)
			return
		}
		if method == consts.CtrlReset {
			s.revive(devID)
		}
		s.conn.Reply(msg, res, false)
	}
}

// decodeSetRate accepts types.SetRate or {"period_ms": n}.
func decodeSetRate(p any) (time.Duration, bool) {
	if sr, ok := p.(types.SetRate); ok {
		return sr.Period, sr.Period > 0
	}
	var v struct {
		PeriodMS int `json:"period_ms"`
	}
	if err := util.DecodeJSON(p, &v); err != nil || v.PeriodMS <= 0 {
		return 0, false
	}
	return time.Duration(v.PeriodMS) * time.Millisecond, true
}

func (s *Service) applyConfig(ctx context.Context, cfg types.HALConfig) error {
	wanted := make(map[string]types.Device, len(cfg.Devices))
	for _, d := range cfg.Devices {
		wanted[d.ID] = d
	}

	// Tear down devices that are gone or whose config changed. Changed
	// devices keep their capability ids for the rebuild.
	rebuild := map[string]map[string]int{}
	for devID, ent := range s.devices {
		d, ok := wanted[devID]
		if ok && reflect.DeepEqual(d, ent.cfg) {
			continue
		}
		s.dropDevice(devID)
		if ok {
			rebuild[devID] = ent.caps
			s.log.WithField("device", devID).Info("device config changed; rebuilding")
			continue
		}
		s.releaseCaps(ent.caps)
		s.log.WithField("device", devID).Info("device removed")
	}

	for i := range cfg.Devices {
		d := &cfg.Devices[i]

		if _, exists := s.devices[d.ID]; exists {
			continue
		}
		log := s.log.WithFields(logrus.Fields{"device": d.ID, "type": d.Type})
		oldCaps := rebuild[d.ID]
		delete(rebuild, d.ID)

		b, ok := registry.Lookup(d.Type)
		if !ok {
			log.Warn("no builder for device type; skipped")
			s.releaseCaps(oldCaps)
			continue
		}

		out, err := b.Build(registry.BuildInput{
			Ctx:        ctx,
			Buses:      s.buses,
			Log:        s.log,
			DeviceID:   d.ID,
			Type:       d.Type,
			ParamsJSON: d.Params,
			BusRefType: d.BusRef.Type,
			BusRefID:   d.BusRef.ID,
		})
		if err != nil {
			log.WithError(err).Error("device build failed")
			s.releaseCaps(oldCaps)
			continue
		}

		if out.BusID != "" {
			if _, ok := s.workers[out.BusID]; !ok {
				w := worker.New(halcore.WorkerConfig{}, s.results, s.log.WithField("bus", out.BusID))
				w.Start(ctx)
				s.workers[out.BusID] = w
			}
		}

		ad := out.Adaptor
		entry := &devEntry{adaptor: ad, busID: out.BusID, caps: map[string]int{}, cfg: *d, gen: s.nextGen()}

		for _, ci := range ad.Capabilities() {
			id, reuse := oldCaps[ci.Kind]
			if reuse {
				delete(oldCaps, ci.Kind)
			} else {
				id = s.nextCapID[ci.Kind]
				s.nextCapID[ci.Kind]++
			}

			entry.caps[ci.Kind] = id
			s.capToDev[capKey{kind: ci.Kind, id: id}] = d.ID

			s.pubRet(ci.Kind, id, consts.TokInfo, ci.Info)
			s.pubRet(ci.Kind, id, consts.TokState,
				types.CapabilityState{
					Link: types.LinkUp,
					TS:   time.Now(),
				})
		}
		s.devices[d.ID] = entry

		if out.SampleEvery > 0 {
			s.devPeriod[d.ID] = util.ClampPeriod(out.SampleEvery)
			s.devNextDue[d.ID] = time.Now().Add(firstReadDelay)
		}
		// Capabilities the rebuilt device no longer offers.
		s.releaseCaps(oldCaps)
		log.WithField("period", s.devPeriod[d.ID]).Info("device configured")
	}
	return nil
}

func (s *Service) nextGen() uint32 {
	s.genSeq++
	return s.genSeq
}

// dropDevice forgets a device and its schedule. Its capabilities stay
// mapped until releaseCaps.
func (s *Service) dropDevice(devID string) {
	delete(s.devices, devID)
	delete(s.devPeriod, devID)
	delete(s.devNextDue, devID)
}

// releaseCaps clears retained info, publishes the capabilities down and
// unmaps them.
func (s *Service) releaseCaps(caps map[string]int) {
	for kind, id := range caps {
		s.pubRet(kind, id, consts.TokInfo, nil)
		s.pubRet(kind, id, consts.TokState, types.CapabilityState{Link: types.LinkDown, TS: time.Now()})
		delete(s.capToDev, capKey{kind: kind, id: id})
	}
}

// ---- measurement helpers ----

func (s *Service) submitMeasure(devID string, prio bool) bool {
	ent, ok := s.devices[devID]
	if !ok || ent.failed {
		return false
	}
	w := s.workers[ent.busID]
	if w == nil {
		return false
	}
	return w.Submit(halcore.MeasureReq{ID: devID, Adaptor: ent.adaptor, Prio: prio, Gen: ent.gen})
}

func (s *Service) bumpDevNext(devID string, from time.Time) {
	s.devNextDue[devID] = from.Add(util.ClampPeriod(s.devPeriod[devID]))
}

func (s *Service) earliestDevDue() time.Time {
	var min time.Time
	for _, t := range s.devNextDue {
		if !t.IsZero() && (min.IsZero() || t.Before(min)) {
			min = t
		}
	}
	return min
}

// ---- results ----

func (s *Service) handleResult(r halcore.Result) {
	ent, ok := s.devices[r.ID]
	if !ok {
		return
	}
	if r.Gen != ent.gen {
		s.log.WithFields(logrus.Fields{"device": r.ID, "gen": r.Gen}).Debug("stale result dropped")
		return
	}
	now := time.Now()

	if r.Err != nil {
		code := string(errcode.Of(r.Err))
		link := types.LinkDegraded
		if halcore.Terminal(r.Err) {
			// Stop invoking cycles until an explicit reset.
			link = types.LinkDown
			ent.failed = true
			delete(s.devNextDue, r.ID)
			s.log.WithField("device", r.ID).WithError(r.Err).Error("device failed; unscheduled")
		} else {
			s.log.WithField("device", r.ID).WithError(r.Err).Warn("measurement failed")
		}
		for kind, id := range ent.caps {
			s.pubRet(kind, id, consts.TokState, types.CapabilityState{
				Link:  link,
				TS:    now,
				Error: code,
			})
		}
		return
	}
	for _, rd := range r.Sample {
		id, ok := ent.caps[rd.Kind]
		if !ok {
			continue
		}
		s.conn.Publish(s.conn.NewMessage(
			capTopicInt(rd.Kind, id, consts.TokValue),
			rd.Payload,
			false,
		))
		s.pubRet(rd.Kind, id, consts.TokState, types.CapabilityState{Link: types.LinkUp, TS: now})
	}
}

// revive reschedules a device after a successful reset.
func (s *Service) revive(devID string) {
	ent, ok := s.devices[devID]
	if !ok {
		return
	}
	ent.failed = false
	ent.gen = s.nextGen()
	if _, ok := s.devPeriod[devID]; ok {
		s.devNextDue[devID] = time.Now().Add(firstReadDelay)
	}
	for kind, id := range ent.caps {
		s.pubRet(kind, id, consts.TokState, types.CapabilityState{Link: types.LinkUp, TS: time.Now()})
	}
	s.log.WithField("device", devID).Info("device reset")
}

// ---- bus helpers & utils ----

func (s *Service) publishState(level, status string, err error) {
	pl := types.HALState{Level: level, Status: status, TS: time.Now()}
	if err != nil {
		pl.Error = err.Error()
	}
	s.conn.Publish(s.conn.NewMessage(bus.T(consts.TokHAL, consts.TokState), pl, true))
}

func (s *Service) replyErr(req *bus.Message, err error) {
	if !req.CanReply() {
		return
	}
	code := errcode.Of(err)
	if code == errcode.OK {
		code = errcode.Error
	}
	s.conn.Reply(req, types.ErrorReply{OK: false, Error: string(code)}, false)
}

func capTopicInt(kind string, id int, suffix string) bus.Topic {
	return bus.T(consts.TokHAL, consts.TokCapability, kind, id, suffix)
}

func (s *Service) pubRet(kind string, id int, suffix string, p any) {
	s.conn.Publish(s.conn.NewMessage(capTopicInt(kind, id, suffix), p, true))
}

func asInt(t any) (int, bool) {
	switch v := t.(type) {
	case int:
		return v, true
	case int8:
		return int(v), true
	case int16:
		return int(v), true
	case int32:
		return int(v), true
	case int64:
		return int(v), true
	case uint:
		return int(v), true
	case uint8:
		return int(v), true
	case uint16:
		return int(v), true
	case uint32:
		return int(v), true
	case uint64:
		return int(v), true
	case float32:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}
