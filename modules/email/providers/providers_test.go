package providers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/textproto"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thenasky/mail-delivery/modules/email/models"
)

var testLog = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Sleep advances the clock instead of blocking
func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return nil
}

type scriptedTransport struct {
	mu    sync.Mutex
	errs  []error
	calls int
}

func (s *scriptedTransport) Dispatch(_ context.Context, _ *models.Message) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return "", s.errs[i]
	}
	if i >= len(s.errs) && len(s.errs) > 0 && s.errs[len(s.errs)-1] != nil {
		return "", s.errs[len(s.errs)-1]
	}
	return fmt.Sprintf("msg-%d", i+1), nil
}

func (s *scriptedTransport) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func testMessage() *models.Message {
	return &models.Message{
		To:      []string{"someone@example.com"},
		From:    "Sender <sender@example.com>",
		Subject: "Hello",
		HTML:    "<p>hi</p>",
	}
}

func testConfig(retry models.RetryPolicy) models.ProviderConfig {
	return models.ProviderConfig{
		ID:        "test",
		Kind:      "test",
		Priority:  1,
		Enabled:   true,
		RateLimit: models.RateLimitConfig{RequestsPerSecond: 100, BurstSize: 100},
		Retry:     retry,
	}
}

func newTestBase(t *testing.T, retry models.RetryPolicy, tr Transport) (*Base, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	return NewBase(testConfig(retry), tr, testLog, WithClock(clock.Now), WithSleeper(clock.Sleep)), clock
}

var serverErr = &SendError{StatusCode: 503, Message: "unavailable"}

func TestSend_SucceedsFirstAttempt(t *testing.T) {
	tr := &scriptedTransport{}
	b, clock := newTestBase(t, models.DefaultRetryPolicy(), tr)

	res := b.Send(context.Background(), testMessage())

	require.True(t, res.Success)
	assert.Equal(t, "test", res.ProviderID)
	assert.Equal(t, "msg-1", res.ProviderMessageID)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, clock.Now(), res.Timestamp)
	assert.Nil(t, res.NextRetryAt)
}

func TestSend_RetryExhaustion(t *testing.T) {
	policy := models.RetryPolicy{MaxRetries: 2, InitialDelay: time.Second, MaxDelay: 10 * time.Second, BackoffMultiplier: 2}

	t.Run("terminal without exhaustion interval", func(t *testing.T) {
		tr := &scriptedTransport{errs: []error{serverErr}}
		b, _ := newTestBase(t, policy, tr)

		res := b.Send(context.Background(), testMessage())

		assert.False(t, res.Success)
		assert.Equal(t, 3, res.Attempts)
		assert.Equal(t, 3, tr.Calls())
		assert.Nil(t, res.NextRetryAt)
		assert.Contains(t, res.Error, "unavailable")
	})

	t.Run("rescheduled with exhaustion interval", func(t *testing.T) {
		p := policy
		p.ExhaustionInterval = time.Hour
		tr := &scriptedTransport{errs: []error{serverErr}}
		b, clock := newTestBase(t, p, tr)

		res := b.Send(context.Background(), testMessage())

		assert.False(t, res.Success)
		assert.Equal(t, 3, res.Attempts)
		require.NotNil(t, res.NextRetryAt)
		assert.Equal(t, clock.Now().Add(time.Hour), *res.NextRetryAt)
	})
}

func TestSend_RecoversAfterTransientFailure(t *testing.T) {
	tr := &scriptedTransport{errs: []error{serverErr, context.DeadlineExceeded, nil}}
	b, _ := newTestBase(t, models.DefaultRetryPolicy(), tr)

	res := b.Send(context.Background(), testMessage())

	require.True(t, res.Success)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, "msg-3", res.ProviderMessageID)
}

func TestSend_PermanentErrorStopsImmediately(t *testing.T) {
	tr := &scriptedTransport{errs: []error{&SendError{StatusCode: 401, Message: "forbidden"}}}
	b, _ := newTestBase(t, models.DefaultRetryPolicy(), tr)

	res := b.Send(context.Background(), testMessage())

	assert.False(t, res.Success)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, 1, tr.Calls())
	assert.Nil(t, res.NextRetryAt)
}

func TestSend_ConsumesRateLimitSlotOnFailure(t *testing.T) {
	cfg := testConfig(models.RetryPolicy{})
	cfg.RateLimit = models.RateLimitConfig{RequestsPerSecond: 1, BurstSize: 1}
	clock := newFakeClock()
	tr := &scriptedTransport{errs: []error{&SendError{StatusCode: 400, Message: "bad"}}}
	b := NewBase(cfg, tr, testLog, WithClock(clock.Now), WithSleeper(clock.Sleep))

	res := b.Send(context.Background(), testMessage())

	assert.False(t, res.Success)
	assert.False(t, b.CanSendNow())
}

func TestSend_WaitsShortRateLimit(t *testing.T) {
	cfg := testConfig(models.DefaultRetryPolicy())
	cfg.RateLimit = models.RateLimitConfig{RequestsPerSecond: 1, BurstSize: 1}
	clock := newFakeClock()
	tr := &scriptedTransport{}
	b := NewBase(cfg, tr, testLog, WithClock(clock.Now), WithSleeper(clock.Sleep))

	start := clock.Now()
	require.True(t, b.Send(context.Background(), testMessage()).Success)
	res := b.Send(context.Background(), testMessage())

	require.True(t, res.Success)
	assert.Equal(t, 2, tr.Calls())
	assert.Equal(t, start.Add(time.Second), clock.Now())
}

func TestSend_RefusesLongRateLimitWait(t *testing.T) {
	cfg := testConfig(models.DefaultRetryPolicy())
	cfg.RateLimit = models.RateLimitConfig{RequestsPerSecond: 0.01, BurstSize: 1}
	clock := newFakeClock()
	tr := &scriptedTransport{}
	b := NewBase(cfg, tr, testLog, WithClock(clock.Now), WithSleeper(clock.Sleep))

	require.True(t, b.Send(context.Background(), testMessage()).Success)
	res := b.Send(context.Background(), testMessage())

	assert.False(t, res.Success)
	assert.Equal(t, 0, res.Attempts)
	assert.Equal(t, 1, tr.Calls())
	require.NotNil(t, res.NextRetryAt)
	assert.Equal(t, b.NextAvailableTime(), *res.NextRetryAt)
	assert.Contains(t, res.Error, "rate limit")
}

func TestSend_ContextCancelledDuringBackoff(t *testing.T) {
	tr := &scriptedTransport{errs: []error{serverErr}}
	clock := newFakeClock()
	ctx, cancel := context.WithCancel(context.Background())
	sleeper := func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}
	b := NewBase(testConfig(models.DefaultRetryPolicy()), tr, testLog, WithClock(clock.Now), WithSleeper(sleeper))

	res := b.Send(ctx, testMessage())

	assert.False(t, res.Success)
	assert.Equal(t, 1, res.Attempts)
	require.NotNil(t, res.NextRetryAt)
	assert.True(t, res.NextRetryAt.After(clock.Now()))
}

func TestSend_DispatchOutlivesCallerCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var dispatchErr error
	tr := TransportFunc(func(dctx context.Context, _ *models.Message) (string, error) {
		cancel()
		dispatchErr = dctx.Err()
		return "msg-1", nil
	})
	b, _ := newTestBase(t, models.DefaultRetryPolicy(), tr)

	res := b.Send(ctx, testMessage())

	require.True(t, res.Success)
	assert.NoError(t, dispatchErr)
	assert.Error(t, ctx.Err())
}

func TestSetEnabled(t *testing.T) {
	b, _ := newTestBase(t, models.DefaultRetryPolicy(), &scriptedTransport{})
	require.True(t, b.Enabled())
	b.SetEnabled(false)
	assert.False(t, b.Enabled())
	assert.False(t, b.Status().Enabled)
}

func TestComputeRetryDelay(t *testing.T) {
	policy := models.RetryPolicy{MaxRetries: 5, InitialDelay: time.Second, MaxDelay: 10 * time.Second, BackoffMultiplier: 2}

	tests := []struct {
		name      string
		attempt   int
		jitter    float64
		want      time.Duration
		exhausted bool
	}{
		{"first retry no jitter", 1, 0, time.Second, false},
		{"first retry full jitter", 1, 1, 1100 * time.Millisecond, false},
		{"third retry", 3, 0, 4 * time.Second, false},
		{"capped at max delay", 5, 0, 10 * time.Second, false},
		{"exhausted", 6, 0, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, exhausted := computeRetryDelay(policy, tt.attempt, tt.jitter)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.exhausted, exhausted)
		})
	}
}

func TestComputeRetryDelay_JitterBounds(t *testing.T) {
	policy := models.RetryPolicy{MaxRetries: 3, InitialDelay: time.Second, MaxDelay: time.Minute, BackoffMultiplier: 3}
	for i := 0; i < 200; i++ {
		d, exhausted := ComputeRetryDelay(policy, 2)
		require.False(t, exhausted)
		require.GreaterOrEqual(t, d, 3*time.Second)
		require.LessOrEqual(t, d, 3300*time.Millisecond)
	}
}

func TestMailgunRetryDelay(t *testing.T) {
	policy := models.RetryPolicy{MaxRetries: 2, InitialDelay: time.Minute, MaxDelay: time.Hour, BackoffMultiplier: 2}

	d, exhausted := mailgunRetryDelay(policy, 1, ClassRateLimited)
	assert.False(t, exhausted)
	assert.Equal(t, MailgunRateLimitDelay, d)

	d, exhausted = mailgunRetryDelay(policy, 1, ClassServer)
	assert.False(t, exhausted)
	assert.GreaterOrEqual(t, d, time.Minute)

	_, exhausted = mailgunRetryDelay(policy, 3, ClassRateLimited)
	assert.True(t, exhausted)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorClass
	}{
		{"429", &SendError{StatusCode: 429}, ClassRateLimited},
		{"500", &SendError{StatusCode: 500}, ClassServer},
		{"502 wrapped", fmt.Errorf("send: %w", &SendError{StatusCode: 502}), ClassServer},
		{"408", &SendError{StatusCode: 408}, ClassTransient},
		{"400", &SendError{StatusCode: 400}, ClassPermanent},
		{"deadline", context.DeadlineExceeded, ClassTransient},
		{"unexpected eof", io.ErrUnexpectedEOF, ClassTransient},
		{"plain", errors.New("nope"), ClassPermanent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestClassifySMTP(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorClass
	}{
		{"421 busy", &textproto.Error{Code: 421, Msg: "try later"}, ClassRateLimited},
		{"452 storage", &textproto.Error{Code: 452, Msg: "insufficient storage"}, ClassRateLimited},
		{"454 tls", &textproto.Error{Code: 454, Msg: "tls unavailable"}, ClassTransient},
		{"550 mailbox", &textproto.Error{Code: 550, Msg: "no such user"}, ClassPermanent},
		{"deadline", context.DeadlineExceeded, ClassTransient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifySMTP(tt.err))
		})
	}
}

func TestBuildSMTPMessage(t *testing.T) {
	msg := testMessage()
	msg.Text = "hi"
	msg.Headers = map[string]string{"X-Campaign": "spring"}
	msg.Attachments = []models.Attachment{{Filename: "a.txt", Content: []byte("data"), ContentType: "text/plain"}}

	m, err := buildSMTPMessage(msg)
	require.NoError(t, err)
	assert.NotEmpty(t, m.GetMessageID())

	msg.From = "not an address"
	_, err = buildSMTPMessage(msg)
	var se *SendError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, ClassPermanent, Classify(err))
}

func TestNew(t *testing.T) {
	p, err := New(models.ProviderConfig{ID: "dev", Kind: models.KindLog, Enabled: true}, testLog)
	require.NoError(t, err)
	assert.Equal(t, "dev", p.ID())
	assert.True(t, p.Send(context.Background(), testMessage()).Success)

	_, err = New(models.ProviderConfig{ID: "x", Kind: "pigeon"}, testLog)
	assert.ErrorIs(t, err, ErrUnsupportedProvider)

	_, err = New(models.ProviderConfig{ID: "mg", Kind: models.KindMailgun}, testLog)
	assert.Error(t, err)

	_, err = New(models.ProviderConfig{ID: "smtp", Kind: models.KindSMTP}, testLog)
	assert.Error(t, err)

	mg, err := New(models.ProviderConfig{
		ID: "mg", Kind: models.KindMailgun, Enabled: true,
		Credentials: models.ProviderCredentials{Domain: "mg.example.com", APIKey: "key"},
	}, testLog)
	require.NoError(t, err)
	assert.IsType(t, &MailgunProvider{}, mg)

	smtp, err := New(models.ProviderConfig{
		ID: "smtp", Kind: models.KindSMTP, Enabled: true,
		Credentials: models.ProviderCredentials{Host: "smtp.example.com", Port: 2525},
	}, testLog)
	require.NoError(t, err)
	assert.IsType(t, &SMTPProvider{}, smtp)
}
