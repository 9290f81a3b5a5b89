package monitoring

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/harborcats/intake-cli/internal/config"
)

func TestChecker_RunStopsOnCancel(t *testing.T) {
	mock := newMock(t)
	cfg := config.MonitoringConfig{CheckIntervalSecs: 1, LookbackHours: 24}
	checker := NewChecker(NewCollector(mock, nil), NewAlerter(cfg), cfg)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		checker.Run(ctx)
		close(done)
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Checker.Run did not stop after context cancellation")
	}
}

func TestChecker_Interval(t *testing.T) {
	mock := newMock(t)

	c := NewChecker(NewCollector(mock, nil), NewAlerter(config.MonitoringConfig{}), config.MonitoringConfig{})
	assert.Equal(t, defaultSweepInterval, c.interval())

	cfg := config.MonitoringConfig{CheckIntervalSecs: 90}
	c = NewChecker(NewCollector(mock, nil), NewAlerter(cfg), cfg)
	assert.Equal(t, 90*time.Second, c.interval())

	// Cancelled before the first sweep: Run must return promptly.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c.Run(ctx)
}

func TestChecker_FirstSweepRunsImmediately(t *testing.T) {
	var received atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	mock := newMock(t)
	expectStatusCounts(mock, pgxmock.NewRows([]string{"status", "count"}).
		AddRow("completed", int64(1)).
		AddRow("failed", int64(9)))
	expectNoStuck(mock)
	expectNoteDepth(mock, 0)

	// An hour-long interval: the only way the webhook fires inside this
	// test is the immediate sweep on startup.
	cfg := testCfg()
	cfg.CheckIntervalSecs = 3600
	cfg.WebhookURL = ts.URL
	checker := NewChecker(NewCollector(mock, nil), NewAlerter(cfg), cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		checker.Run(ctx)
		close(done)
	}()

	deadline := time.After(5 * time.Second)
	for received.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("startup sweep never reached the webhook")
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()
	<-done

	assert.Equal(t, int32(1), received.Load())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestChecker_SweepSendsAlertsOnBreach(t *testing.T) {
	var received atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	mock := newMock(t)
	expectStatusCounts(mock, pgxmock.NewRows([]string{"status", "count"}).
		AddRow("completed", int64(1)).
		AddRow("failed", int64(9)))
	expectNoStuck(mock)
	expectNoteDepth(mock, 0)

	cfg := testCfg()
	cfg.WebhookURL = ts.URL
	checker := NewChecker(NewCollector(mock, nil), NewAlerter(cfg), cfg)

	checker.sweep(context.Background(), zap.NewNop())
	assert.Equal(t, int32(1), received.Load())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestChecker_FailureStreakResetsOnSuccess(t *testing.T) {
	mock := newMock(t)
	cfg := testCfg()
	checker := NewChecker(NewCollector(mock, nil), NewAlerter(cfg), cfg)

	// Two failed collections build a streak.
	for i := 0; i < 2; i++ {
		mock.ExpectQuery("SELECT status, count").
			WithArgs(pgxmock.AnyArg()).
			WillReturnError(assert.AnError)
		checker.sweep(context.Background(), zap.NewNop())
	}
	assert.Equal(t, 2, checker.failures)

	// A clean sweep clears it.
	expectStatusCounts(mock, pgxmock.NewRows([]string{"status", "count"}))
	expectNoStuck(mock)
	expectNoteDepth(mock, 0)
	checker.sweep(context.Background(), zap.NewNop())
	assert.Zero(t, checker.failures)
	assert.NoError(t, mock.ExpectationsWereMet())
}
