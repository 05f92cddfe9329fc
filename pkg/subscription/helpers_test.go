package subscription_test

import (
	"context"
	"errors"
	"sync"

	"github.com/dmitrymomot/usagegate/pkg/subscription"
)

var errBoom = errors.New("boom")

// fakeProvider is a BillingProvider with canned subscriptions.
type fakeProvider struct {
	mu        sync.Mutex
	subs      map[string]*subscription.ProviderSubscription
	err       error
	event     *subscription.BillingEvent
	parseErr  error
	retrieved int
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{subs: make(map[string]*subscription.ProviderSubscription)}
}

func (p *fakeProvider) put(sub *subscription.ProviderSubscription) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subs[sub.Ref] = sub
}

func (p *fakeProvider) RetrieveSubscription(_ context.Context, ref string) (*subscription.ProviderSubscription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.retrieved++
	if p.err != nil {
		return nil, p.err
	}
	sub, ok := p.subs[ref]
	if !ok {
		return nil, errors.New("no such subscription")
	}
	c := *sub
	return &c, nil
}

func (p *fakeProvider) ParseWebhook(context.Context, []byte, string) (*subscription.BillingEvent, error) {
	if p.parseErr != nil {
		return nil, p.parseErr
	}
	return p.event, nil
}

func (p *fakeProvider) SignatureHeader() string { return "X-Test-Signature" }

func (p *fakeProvider) CreateCheckoutLink(_ context.Context, req subscription.CheckoutRequest) (*subscription.CheckoutLink, error) {
	return &subscription.CheckoutLink{URL: "https://pay.test/" + req.PriceID, SessionID: "cs_test"}, nil
}

func (p *fakeProvider) GetCustomerPortalLink(_ context.Context, rec *subscription.Record, _ string) (*subscription.PortalLink, error) {
	if rec.BillingCustomerRef == "" {
		return nil, subscription.ErrMissingProviderCustomerID
	}
	return &subscription.PortalLink{URL: "https://portal.test/" + rec.BillingCustomerRef}, nil
}

// flakyStore fails selected operations.
type flakyStore struct {
	subscription.Store
	failCreate    bool
	failIncrement bool
	failFindByRef bool
	failSave      bool
}

func (s *flakyStore) CreateDefault(ctx context.Context, userID string) (*subscription.Record, error) {
	if s.failCreate {
		return nil, errBoom
	}
	return s.Store.CreateDefault(ctx, userID)
}

func (s *flakyStore) IncrementUsage(ctx context.Context, userID string, f subscription.Feature, limit int64) (subscription.Usage, error) {
	if s.failIncrement {
		return subscription.Usage{}, errBoom
	}
	return s.Store.IncrementUsage(ctx, userID, f, limit)
}

func (s *flakyStore) FindByBillingSubscriptionRef(ctx context.Context, ref string) (*subscription.Record, error) {
	if s.failFindByRef {
		return nil, errBoom
	}
	return s.Store.FindByBillingSubscriptionRef(ctx, ref)
}

func (s *flakyStore) Save(ctx context.Context, rec *subscription.Record) error {
	if s.failSave {
		return errBoom
	}
	return s.Store.Save(ctx, rec)
}

// memDedup is an in-test EventDeduplicator.
type memDedup struct {
	mu   sync.Mutex
	keys map[string]bool
	err  error
}

func newMemDedup() *memDedup { return &memDedup{keys: make(map[string]bool)} }

func (d *memDedup) Seen(_ context.Context, key string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return false, d.err
	}
	return d.keys[key], nil
}

func (d *memDedup) Mark(_ context.Context, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.keys[key] = true
	return nil
}

// outcomes records ObserveEvent and ObserveDecision calls.
type outcomes struct {
	mu        sync.Mutex
	events    []string
	decisions []subscription.Decision
}

func (o *outcomes) ObserveEvent(kind subscription.EventKind, outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, string(kind)+":"+outcome)
}

func (o *outcomes) ObserveDecision(_ subscription.Feature, d subscription.Decision) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.decisions = append(o.decisions, d)
}

func (o *outcomes) eventList() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.events...)
}
