package notify

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rileyhilliard/ntpwatch/internal/errors"
	"github.com/rileyhilliard/ntpwatch/internal/logger"
	notifytesting "github.com/rileyhilliard/ntpwatch/internal/notify/testing"
)

func TestMulti(t *testing.T) {
	ctx := context.Background()
	a, b := notifytesting.NewRecorder(), notifytesting.NewRecorder()

	require.NoError(t, Multi{a, b}.Send(ctx, "subj", "body"))
	assert.Len(t, a.Messages(), 1)
	assert.Len(t, b.Messages(), 1)

	t.Run("one failure is returned as is", func(t *testing.T) {
		failing := notifytesting.NewRecorder()
		failing.Fail(errors.New(errors.ErrNotify, "smtp down", ""))
		ok := notifytesting.NewRecorder()

		err := Multi{failing, ok}.Send(ctx, "subj", "body")
		require.Error(t, err)
		assert.Equal(t, "smtp down", errors.Describe(err))
		assert.Len(t, ok.Messages(), 1, "later channels still tried")
	})

	t.Run("several failures are joined", func(t *testing.T) {
		x, y := notifytesting.NewRecorder(), notifytesting.NewRecorder()
		x.Fail(stderrors.New("smtp down"))
		y.Fail(stderrors.New("broker down"))

		err := Multi{x, y}.Send(ctx, "subj", "body")
		require.Error(t, err)
		assert.True(t, errors.IsCode(err, errors.ErrNotify))
		assert.Contains(t, err.Error(), "2 of 2 alert channels failed")
		assert.Contains(t, err.Error(), "smtp down")
		assert.Contains(t, err.Error(), "broker down")
	})

	assert.NoError(t, Multi{}.Send(ctx, "subj", "body"))
}

func TestNewSuppressor_DisabledReturnsNext(t *testing.T) {
	rec := notifytesting.NewRecorder()
	assert.Same(t, rec, NewSuppressor(rec, 0, nil))
	assert.Same(t, rec, NewSuppressor(rec, -time.Second, nil))
}

func TestSuppressor(t *testing.T) {
	ctx := context.Background()
	rec := notifytesting.NewRecorder()
	log := logger.NewBufferLogger()
	s := NewSuppressor(rec, 10*time.Minute, log).(*Suppressor)

	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	const subject = "NTP health alert on myntp (10.0.0.5)"
	body := func(detail string) string {
		return "Stratum too high (got 9, max 4) || Host: myntp (10.0.0.5) | " + detail
	}

	require.NoError(t, s.Send(ctx, subject, body("Last offset: 0.001 sec")))
	require.Len(t, rec.Messages(), 1)

	// Same problems, different detail: suppressed
	now = now.Add(5 * time.Minute)
	require.NoError(t, s.Send(ctx, subject, body("Last offset: 0.002 sec")))
	assert.Len(t, rec.Messages(), 1)
	assert.True(t, log.Contains("info", "Suppressing repeat alert"))

	// A different problem list is a new alert
	require.NoError(t, s.Send(ctx, subject, "GPS has no fix via gpspipe || Host: myntp"))
	assert.Len(t, rec.Messages(), 2)

	// Window elapsed since the first delivery
	now = now.Add(6 * time.Minute)
	require.NoError(t, s.Send(ctx, subject, body("Last offset: 0.003 sec")))
	assert.Len(t, rec.Messages(), 3)
}

func TestSuppressor_FailedSendIsRetried(t *testing.T) {
	ctx := context.Background()
	rec := notifytesting.NewRecorder()
	rec.Fail(stderrors.New("smtp down"))
	s := NewSuppressor(rec, time.Hour, nil)

	assert.Error(t, s.Send(ctx, "subj", "body"))
	assert.Error(t, s.Send(ctx, "subj", "body"))
	assert.Len(t, rec.Messages(), 2, "nothing delivered, nothing suppressed")
}

func TestSuppressionKey(t *testing.T) {
	assert.Equal(t, suppressionKey("s", "a | b || x"), suppressionKey("s", "a | b || y"))
	assert.NotEqual(t, suppressionKey("s", "a || x"), suppressionKey("t", "a || x"))
	assert.Equal(t, "s\x00Unexpected error", suppressionKey("s", "Unexpected error"))
}
