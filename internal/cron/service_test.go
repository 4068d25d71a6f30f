package cron

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"

	"github.com/monidesk/ibos-backend/pkg/logger"
	"github.com/monidesk/ibos-backend/pkg/metrics"
)

type fakeLock struct {
	held map[string]bool
	deny map[string]bool
}

func newFakeLock() *fakeLock {
	return &fakeLock{held: map[string]bool{}, deny: map[string]bool{}}
}

func (f *fakeLock) Acquire(_ context.Context, job string) (bool, error) {
	if f.deny[job] || f.held[job] {
		return false, nil
	}
	f.held[job] = true
	return true, nil
}

func (f *fakeLock) Release(_ context.Context, job string) error {
	delete(f.held, job)
	return nil
}

type testJob struct {
	name string
	err  error
	runs int
}

func (t *testJob) Name() string { return t.name }

func (t *testJob) Run(context.Context) error {
	t.runs++
	return t.err
}

func newTestService(t *testing.T, lock Lock, m *metrics.CronJobMetrics, jobs ...Job) *Service {
	t.Helper()
	registry, err := NewRegistry(jobs...)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	service, err := NewService(ServiceParams{
		Logger:   logger.Nop(),
		Registry: registry,
		Lock:     lock,
		Metrics:  m,
	})
	if err != nil {
		t.Fatalf("construct service: %v", err)
	}
	return service
}

func TestRunOnceRunsAllJobsAndCombinesFailures(t *testing.T) {
	success := &testJob{name: "success"}
	failA := &testJob{name: "fail-a", err: errors.New("boom")}
	failB := &testJob{name: "fail-b", err: errors.New("bang")}
	reg := prometheus.NewRegistry()
	m := metrics.NewCronJobMetrics(reg)
	service := newTestService(t, newFakeLock(), m, success, failA, failB)

	err := service.RunOnce(context.Background())
	if err == nil {
		t.Fatal("expected combined error")
	}
	if got := len(multierr.Errors(err)); got != 2 {
		t.Fatalf("expected 2 errors, got %d", got)
	}
	for _, job := range []*testJob{success, failA, failB} {
		if job.runs != 1 {
			t.Fatalf("%s ran %d times", job.name, job.runs)
		}
	}
	if got := gatherCounter(t, reg, "ibos_cron_job_failure_total", "fail-a"); got != 1 {
		t.Fatalf("expected failure counter 1, got %v", got)
	}
	if got := gatherCounter(t, reg, "ibos_cron_job_success_total", "success"); got != 1 {
		t.Fatalf("expected success counter 1, got %v", got)
	}
}

func gatherCounter(t *testing.T, reg *prometheus.Registry, name, job string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.GetMetric() {
			for _, label := range metric.GetLabel() {
				if label.GetName() == "job" && label.GetValue() == job {
					return metric.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func TestRunOnceSkipsLockedJobs(t *testing.T) {
	lock := newFakeLock()
	lock.deny["busy"] = true
	busy := &testJob{name: "busy"}
	free := &testJob{name: "free"}
	reg := prometheus.NewRegistry()
	service := newTestService(t, lock, metrics.NewCronJobMetrics(reg), busy, free)

	if err := service.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if busy.runs != 0 || free.runs != 1 {
		t.Fatalf("unexpected runs busy=%d free=%d", busy.runs, free.runs)
	}
	if len(lock.held) != 0 {
		t.Fatalf("lock not released: %v", lock.held)
	}
	if got := gatherCounter(t, reg, "ibos_cron_job_skipped_total", "busy"); got != 1 {
		t.Fatalf("expected skipped counter 1, got %v", got)
	}
}

type scheduledJob struct {
	testJob
	spec string
}

func (s *scheduledJob) Schedule() string { return s.spec }

func TestNewServiceRejectsBadSchedule(t *testing.T) {
	registry, _ := NewRegistry(&scheduledJob{testJob: testJob{name: "bad"}, spec: "every now and then"})
	_, err := NewService(ServiceParams{Logger: logger.Nop(), Registry: registry, Lock: newFakeLock()})
	if err == nil {
		t.Fatal("expected schedule parse error")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	job := &testJob{name: "once"}
	service := newTestService(t, newFakeLock(), nil, job)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := service.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}
}
