// services/hal/internal/worker/measure_worker.go
package worker

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"o2hal/services/hal/internal/halcore"
	"o2hal/services/hal/internal/util"
)

// MeasureWorker owns one bus. Every Trigger and Collect for devices on that
// bus runs on the worker goroutine, so device I/O never overlaps.
type MeasureWorker struct {
	cfg  halcore.WorkerConfig
	log  logrus.FieldLogger
	reqQ chan halcore.MeasureReq
	sink chan<- halcore.Result // fan-in sink owned by service

	pending  map[string]*collectItem
	want     map[string]bool
	collects []*collectItem
	timer    *time.Timer
}

type collectItem struct {
	id      string
	adaptor halcore.Adaptor
	gen     uint32
	due     time.Time
	retries int
}

// New returns a worker delivering results to sink. A nil log uses the
// logrus standard logger.
func New(cfg halcore.WorkerConfig, sink chan<- halcore.Result, log logrus.FieldLogger) *MeasureWorker {
	if cfg.TriggerTimeout <= 0 {
		cfg.TriggerTimeout = 100 * time.Millisecond
	}
	if cfg.CollectTimeout <= 0 {
		// A full oxygen cycle blocks for the sum of its settle delays.
		cfg.CollectTimeout = 2 * time.Second
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 15 * time.Millisecond
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 6
	}
	if cfg.InputQueueSize <= 0 {
		cfg.InputQueueSize = 16
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &MeasureWorker{
		cfg:     cfg,
		log:     log,
		reqQ:    make(chan halcore.MeasureReq, cfg.InputQueueSize),
		sink:    sink,
		pending: map[string]*collectItem{},
		want:    map[string]bool{},
		timer:   time.NewTimer(time.Hour),
	}
}

// Submit queues req without blocking. Priority requests wait briefly for
// space; false means the queue is full.
func (w *MeasureWorker) Submit(req halcore.MeasureReq) bool {
	select {
	case w.reqQ <- req:
		return true
	default:
		if req.Prio {
			select {
			case w.reqQ <- req:
				return true
			case <-time.After(5 * time.Millisecond):
			}
		}
		w.log.WithField("device", req.ID).Warn("measure queue full; request dropped")
		return false
	}
}

func (w *MeasureWorker) Start(ctx context.Context) {
	if !w.timer.Stop() {
		util.DrainTimer(w.timer)
	}
	go w.run(ctx)
}

func (w *MeasureWorker) run(ctx context.Context) {
	for {
		next := w.minDue()
		if next.IsZero() {
			util.ResetTimer(w.timer, time.Hour)
		} else {
			util.ResetTimer(w.timer, time.Until(next))
		}
		select {
		case <-ctx.Done():
			return
		case req := <-w.reqQ:
			if _, ok := w.pending[req.ID]; ok {
				if req.Prio {
					w.want[req.ID] = true
				}
				continue
			}
			w.trigger(ctx, req, nil)
		case <-w.timer.C:
			w.collectDue(ctx, time.Now())
		}
	}
}

// trigger starts a cycle. it is reused when a priority read follows a failure.
func (w *MeasureWorker) trigger(ctx context.Context, req halcore.MeasureReq, it *collectItem) bool {
	tctx, cancel := context.WithTimeout(ctx, w.cfg.TriggerTimeout)
	after, err := req.Adaptor.Trigger(tctx)
	cancel()
	if err != nil {
		w.emit(halcore.Result{ID: req.ID, Gen: req.Gen, Err: err})
		return false
	}
	if it == nil {
		it = &collectItem{id: req.ID, adaptor: req.Adaptor, gen: req.Gen}
	}
	it.retries = 0
	it.due = time.Now().Add(after)
	w.pending[req.ID] = it
	w.collects = append(w.collects, it)
	return true
}

func (w *MeasureWorker) collectDue(ctx context.Context, now time.Time) {
	items := w.collects
	w.collects = nil
	for _, it := range items {
		if now.Before(it.due) {
			w.collects = append(w.collects, it)
			continue
		}
		cctx, cancel := context.WithTimeout(ctx, w.cfg.CollectTimeout)
		s, err := it.adaptor.Collect(cctx)
		cancel()
		switch {
		case err == nil:
			delete(w.pending, it.id)
			delete(w.want, it.id)
			w.emit(halcore.Result{ID: it.id, Gen: it.gen, Sample: s})
		case err == halcore.ErrNotReady && it.retries < w.cfg.MaxRetries:
			it.retries++
			it.due = now.Add(w.cfg.RetryBackoff)
			w.collects = append(w.collects, it)
		default:
			delete(w.pending, it.id)
			w.emit(halcore.Result{ID: it.id, Gen: it.gen, Err: err})
			if w.want[it.id] && !halcore.Terminal(err) {
				w.trigger(ctx, halcore.MeasureReq{ID: it.id, Adaptor: it.adaptor, Gen: it.gen}, it)
			}
			delete(w.want, it.id)
		}
	}
}

func (w *MeasureWorker) emit(r halcore.Result) {
	select {
	case w.sink <- r:
	default:
		w.sink <- r
	}
}

func (w *MeasureWorker) minDue() time.Time {
	var min time.Time
	for _, it := range w.collects {
		if min.IsZero() || it.due.Before(min) {
			min = it.due
		}
	}
	return min
}
