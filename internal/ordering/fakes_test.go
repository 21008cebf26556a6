package ordering

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/ariefcatur/go-pos-orders/internal/memstore"
	"github.com/ariefcatur/go-pos-orders/internal/orders"
	"github.com/ariefcatur/go-pos-orders/internal/redisx"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap/zaptest"
)

type published struct {
	topic string
	env   orders.Envelope
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
}

func (p *fakePublisher) Publish(topic string, _, value []byte, _ ...kafkago.Header) {
	var env orders.Envelope
	_ = json.Unmarshal(value, &env)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, published{topic: topic, env: env})
}

func (p *fakePublisher) topics() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.msgs))
	for _, m := range p.msgs {
		out = append(out, m.topic)
	}
	return out
}

func (p *fakePublisher) last() published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.msgs[len(p.msgs)-1]
}

type fakeCache struct {
	mu     sync.Mutex
	status map[int64]string
	idem   map[string]int64
}

func newFakeCache() *fakeCache {
	return &fakeCache{status: map[int64]string{}, idem: map[string]int64{}}
}

func (c *fakeCache) SetStatus(_ context.Context, id int64, st string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status[id] = st
	return nil
}

func (c *fakeCache) Status(_ context.Context, id int64) (redisx.StatusEntry, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.status[id]
	return redisx.StatusEntry{Status: st}, ok, nil
}

func (c *fakeCache) RememberOrder(_ context.Context, ext string, id int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.idem[ext] = id
	return nil
}

func (c *fakeCache) KnownOrder(_ context.Context, ext string) (int64, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok := c.idem[ext]
	return id, ok, nil
}

type harness struct {
	ctx   context.Context
	store *memstore.Store
	pub   *fakePublisher
	cache *fakeCache
	svc   *Service
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	st := memstore.New()
	h := &harness{
		ctx:   context.Background(),
		store: st,
		pub:   &fakePublisher{},
		cache: newFakeCache(),
	}
	h.svc = &Service{
		Tx:      st,
		Orders:  st.Orders(),
		Stock:   st.Stock(),
		Lines:   st.Lines(),
		Catalog: st.Stock(),
		Events:  h.pub,
		Cache:   h.cache,
		Log:     zaptest.NewLogger(t),
		Name:    "pos-api-test",
	}
	return h
}
