package collector

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"kvirt-exporter/internal/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeSampler struct {
	mu      sync.Mutex
	calls   int
	result  model.CycleResult
	err     error
	failFor int // first N calls fail, then result is returned
}

func (f *fakeSampler) SampleAll(_ context.Context) (model.CycleResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil && (f.failFor == 0 || f.calls <= f.failFor) {
		return nil, f.err
	}
	return f.result, nil
}

func (f *fakeSampler) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakePublisher struct {
	mu      sync.Mutex
	results []model.CycleResult
}

func (f *fakePublisher) Publish(result model.CycleResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results = append(f.results, result)
}

func (f *fakePublisher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.results)
}

type fakeSink struct {
	mu     sync.Mutex
	sent   []model.CycleResult
	err    error
	closed bool
}

func (f *fakeSink) SendCPUSamples(_ context.Context, result model.CycleResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, result)
	return f.err
}

func (f *fakeSink) Close(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeSink) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal(msg)
}

func TestLoopPublishesEachCycle(t *testing.T) {
	smp := &fakeSampler{result: model.CycleResult{"web01": {UserPct: 1}}}
	pub := &fakePublisher{}
	loop := NewLoop(testLogger(), smp, pub, nil, 5*time.Millisecond, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	waitFor(t, func() bool { return pub.count() >= 3 }, "expected at least 3 published cycles")
	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run returned %v, want nil on cancellation", err)
	}
}

func TestLoopSkipsPublishOnCycleFailure(t *testing.T) {
	smp := &fakeSampler{err: errors.New("virsh list failed")}
	pub := &fakePublisher{}
	loop := NewLoop(testLogger(), smp, pub, nil, 5*time.Millisecond, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	// The loop keeps retrying on a fixed interval without publishing.
	waitFor(t, func() bool { return smp.callCount() >= 3 }, "expected the loop to keep sampling after failures")
	cancel()
	<-done

	if pub.count() != 0 {
		t.Errorf("published %d cycles, want 0 when every cycle fails", pub.count())
	}
}

func TestLoopRecoversAfterFailure(t *testing.T) {
	smp := &fakeSampler{
		err:     errors.New("transient"),
		failFor: 2,
		result:  model.CycleResult{"web01": {UserPct: 1}},
	}
	pub := &fakePublisher{}
	loop := NewLoop(testLogger(), smp, pub, nil, 5*time.Millisecond, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	waitFor(t, func() bool { return pub.count() >= 1 }, "expected publishing to resume after transient failures")
	cancel()
	<-done
}

func TestLoopPushesToSink(t *testing.T) {
	smp := &fakeSampler{result: model.CycleResult{"web01": {UserPct: 1}}}
	pub := &fakePublisher{}
	sink := &fakeSink{}
	loop := NewLoop(testLogger(), smp, pub, sink, 5*time.Millisecond, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	waitFor(t, func() bool { return sink.sentCount() >= 1 }, "expected results to reach the sink")
	cancel()
	<-done
}

func TestLoopSinkFailureDoesNotStopPublishing(t *testing.T) {
	smp := &fakeSampler{result: model.CycleResult{"web01": {UserPct: 1}}}
	pub := &fakePublisher{}
	sink := &fakeSink{err: errors.New("backend down")}
	loop := NewLoop(testLogger(), smp, pub, sink, 5*time.Millisecond, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	waitFor(t, func() bool { return pub.count() >= 2 }, "expected publishing to continue despite sink failures")
	cancel()
	<-done
}

func TestLoopSkipsSinkForEmptyCycles(t *testing.T) {
	smp := &fakeSampler{result: model.CycleResult{}}
	pub := &fakePublisher{}
	sink := &fakeSink{}
	loop := NewLoop(testLogger(), smp, pub, sink, 5*time.Millisecond, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	// Empty cycles are still published (so staleness advances) but not pushed.
	waitFor(t, func() bool { return pub.count() >= 2 }, "expected empty cycles to be published")
	cancel()
	<-done

	if sink.sentCount() != 0 {
		t.Errorf("sink received %d frames, want 0 for empty cycles", sink.sentCount())
	}
}
