package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"

	"o2hal/errcode"
	"o2hal/services/hal/internal/halcore"
)

type fakeAdaptor struct {
	mu          sync.Mutex
	id          string
	delay       time.Duration
	collectErrs int // number of consecutive ErrNotReady before success
	failErr     error
	collectErr  error
	triggers    int
}

func (f *fakeAdaptor) ID() string                      { return f.id }
func (f *fakeAdaptor) Capabilities() []halcore.CapInfo { return nil }
func (f *fakeAdaptor) Trigger(ctx context.Context) (time.Duration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.triggers++
	if f.failErr != nil {
		return 0, f.failErr
	}
	return f.delay, nil
}
func (f *fakeAdaptor) Collect(ctx context.Context) (halcore.Sample, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.collectErr != nil {
		return nil, f.collectErr
	}
	if f.collectErrs > 0 {
		f.collectErrs--
		return nil, halcore.ErrNotReady
	}
	return halcore.Sample{{Kind: "oxygen", Payload: 20.9, TsMs: time.Now().UnixMilli()}}, nil
}
func (f *fakeAdaptor) Control(string, string, any) (any, error) { return nil, halcore.ErrUnsupported }

func (f *fakeAdaptor) triggerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.triggers
}

func TestMeasureWorkerSuccessWithRetries(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	results := make(chan halcore.Result, 1)
	log, _ := test.NewNullLogger()
	w := New(halcore.WorkerConfig{
		TriggerTimeout: 5 * time.Millisecond,
		CollectTimeout: 10 * time.Millisecond,
		RetryBackoff:   2 * time.Millisecond,
		MaxRetries:     5,
		InputQueueSize: 4,
	}, results, log)
	w.Start(ctx)

	ad := &fakeAdaptor{id: "o2", delay: 1 * time.Millisecond, collectErrs: 2}
	if !w.Submit(halcore.MeasureReq{ID: ad.id, Adaptor: ad}) {
		t.Fatal("submit failed")
	}

	select {
	case r := <-results:
		if r.Err != nil || len(r.Sample) == 0 {
			t.Fatalf("unexpected result: %+v", r)
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatal("timeout waiting for result")
	}
}

func TestMeasureWorkerErrorPathAndPrio(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	results := make(chan halcore.Result, 2)
	log, _ := test.NewNullLogger()
	w := New(halcore.WorkerConfig{}, results, log)
	w.Start(ctx)

	ad := &fakeAdaptor{id: "o2", delay: 1 * time.Millisecond, failErr: errors.New("boom")}
	// Submit normal request that will error.
	if !w.Submit(halcore.MeasureReq{ID: ad.id, Adaptor: ad}) {
		t.Fatal("submit failed")
	}
	// While failing, queue a prio request; worker should honour by re-triggering immediately after error path.
	if !w.Submit(halcore.MeasureReq{ID: ad.id, Adaptor: ad, Prio: true}) {
		t.Fatal("prio submit failed")
	}

	// Expect at least one error result.
	select {
	case r := <-results:
		if r.Err == nil {
			t.Fatalf("expected error result, got %+v", r)
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatal("timeout waiting for error result")
	}
}

func TestMeasureWorkerNoRetriggerOnTerminal(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	results := make(chan halcore.Result, 4)
	log, _ := test.NewNullLogger()
	w := New(halcore.WorkerConfig{}, results, log)

	ad := &fakeAdaptor{id: "o2", delay: 5 * time.Millisecond, collectErr: errcode.New(errcode.DeviceFailed, "update", nil)}
	// Queue both before the loop starts so the prio request lands while pending.
	w.Submit(halcore.MeasureReq{ID: ad.id, Adaptor: ad})
	w.Submit(halcore.MeasureReq{ID: ad.id, Adaptor: ad, Prio: true})
	w.Start(ctx)

	select {
	case r := <-results:
		if !halcore.Terminal(r.Err) {
			t.Fatalf("expected terminal error, got %+v", r)
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatal("timeout waiting for result")
	}
	select {
	case r := <-results:
		t.Fatalf("unexpected second result: %+v", r)
	case <-time.After(50 * time.Millisecond):
	}
	if n := ad.triggerCount(); n != 1 {
		t.Fatalf("triggers = %d, want 1", n)
	}
}

func TestMeasureWorkerSubmitFull(t *testing.T) {
	log, hook := test.NewNullLogger()
	w := New(halcore.WorkerConfig{InputQueueSize: 1}, make(chan halcore.Result, 1), log)
	ad := &fakeAdaptor{id: "o2"}
	if !w.Submit(halcore.MeasureReq{ID: ad.id, Adaptor: ad}) {
		t.Fatal("first submit should fit")
	}
	if w.Submit(halcore.MeasureReq{ID: ad.id, Adaptor: ad, Prio: true}) {
		t.Fatal("submit to a full queue should fail")
	}
	if hook.LastEntry() == nil {
		t.Fatal("expected a log entry for the dropped request")
	}
}

func TestMeasureWorkerResultCarriesGeneration(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	results := make(chan halcore.Result, 2)
	log, _ := test.NewNullLogger()
	w := New(halcore.WorkerConfig{RetryBackoff: time.Millisecond}, results, log)
	w.Start(ctx)

	ok := &fakeAdaptor{id: "o2-a", collectErrs: 1}
	bad := &fakeAdaptor{id: "o2-b", collectErr: errcode.New(errcode.InitFailed, "init", nil)}
	w.Submit(halcore.MeasureReq{ID: ok.id, Adaptor: ok, Gen: 3})
	w.Submit(halcore.MeasureReq{ID: bad.id, Adaptor: bad, Gen: 7})

	want := map[string]uint32{"o2-a": 3, "o2-b": 7}
	for range want {
		select {
		case r := <-results:
			if r.Gen != want[r.ID] {
				t.Fatalf("%s: gen = %d, want %d", r.ID, r.Gen, want[r.ID])
			}
		case <-time.After(200 * time.Millisecond):
			t.Fatal("timeout waiting for result")
		}
	}
}
