package metering_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/usagegate/modules/metering"
	"github.com/dmitrymomot/usagegate/pkg/metrics"
	"github.com/dmitrymomot/usagegate/pkg/subscription"
	"github.com/dmitrymomot/usagegate/pkg/textai"
)

const (
	testAPIKey    = "internal-secret"
	goodSignature = "valid"
)

var errBoom = errors.New("boom")

// fakeProvider accepts webhooks signed with goodSignature whose body is a
// JSON-encoded subscription.BillingEvent.
type fakeProvider struct {
	mu        sync.Mutex
	subs      map[string]*subscription.ProviderSubscription
	retrieve  error
	checkouts []subscription.CheckoutRequest
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{subs: make(map[string]*subscription.ProviderSubscription)}
}

func (p *fakeProvider) RetrieveSubscription(_ context.Context, ref string) (*subscription.ProviderSubscription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.retrieve != nil {
		return nil, p.retrieve
	}
	sub, ok := p.subs[ref]
	if !ok {
		return nil, errors.New("no such subscription")
	}
	return sub, nil
}

func (p *fakeProvider) ParseWebhook(_ context.Context, payload []byte, signature string) (*subscription.BillingEvent, error) {
	if signature != goodSignature {
		return nil, subscription.ErrWebhookVerificationFailed
	}
	var ev subscription.BillingEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, errors.Join(subscription.ErrInvalidInput, subscription.ErrInvalidWebhookPayload)
	}
	return &ev, nil
}

func (p *fakeProvider) SignatureHeader() string { return "X-Test-Signature" }

func (p *fakeProvider) CreateCheckoutLink(_ context.Context, req subscription.CheckoutRequest) (*subscription.CheckoutLink, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.checkouts = append(p.checkouts, req)
	return &subscription.CheckoutLink{URL: "https://pay.test/" + req.PriceID, SessionID: "cs_1", ExpiresAt: time.Now().Add(time.Hour)}, nil
}

func (p *fakeProvider) GetCustomerPortalLink(_ context.Context, rec *subscription.Record, _ string) (*subscription.PortalLink, error) {
	if rec == nil || rec.BillingCustomerRef == "" {
		return nil, subscription.ErrMissingProviderCustomerID
	}
	return &subscription.PortalLink{URL: "https://portal.test/" + rec.BillingCustomerRef, ExpiresAt: time.Now().Add(time.Minute)}, nil
}

func (p *fakeProvider) lastCheckout() subscription.CheckoutRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.checkouts[len(p.checkouts)-1]
}

type fakeText struct {
	err error
}

func (f *fakeText) Detect(_ context.Context, text string) (*textai.Detection, error) {
	if f.err != nil {
		return nil, f.err
	}
	if text == "" {
		return nil, textai.ErrEmptyText
	}
	return &textai.Detection{AIProbability: 0.8, Verdict: textai.VerdictAI}, nil
}

func (f *fakeText) Humanize(_ context.Context, text string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "humanized: " + text, nil
}

// brokenStore fails every read and write.
type brokenStore struct{ subscription.Store }

func (brokenStore) Find(context.Context, string) (*subscription.Record, error) { return nil, errBoom }
func (brokenStore) IncrementUsage(context.Context, string, subscription.Feature, int64) (subscription.Usage, error) {
	return subscription.Usage{}, errBoom
}
func (brokenStore) ResetAllUsage(context.Context) (int64, error) { return 0, errBoom }

type fixture struct {
	store    subscription.Store
	provider *fakeProvider
	text     *fakeText
	metrics  *metrics.Metrics
	handler  http.Handler
}

func newFixture(t *testing.T, mutate ...func(*fixture, *metering.Options)) *fixture {
	t.Helper()

	f := &fixture{
		store:    subscription.NewMemoryStore(),
		provider: newFakeProvider(),
		text:     &fakeText{},
		metrics:  metrics.New(),
	}
	prices := subscription.NewPriceMap([]string{"price_monthly"}, []string{"price_yearly"})

	opts := metering.Options{
		Meter:      subscription.NewMeter(f.store),
		Resetter:   subscription.NewResetter(f.store, testAPIKey, nil),
		Gate:       subscription.NewGate(f.store, subscription.WithGateObserver(f.metrics)),
		Reconciler: subscription.NewReconciler(f.store, f.provider, prices, subscription.WithEventObserver(f.metrics)),
		Provider:   f.provider,
		Prices:     prices,
		Text:       f.text,
		Metrics:    f.metrics,
	}
	for _, fn := range mutate {
		fn(f, &opts)
	}

	m, err := metering.New(opts)
	require.NoError(t, err)
	f.handler = m.Handle()
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	case []byte:
		buf.Write(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}
