package profile

import (
	"context"
	"testing"
	"time"

	"github.com/meme-tgbot-go/internal/models"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
)

type countingResolver struct {
	calls    int
	profiles map[string]*models.Profile
}

func (r *countingResolver) Resolve(ctx context.Context, ev *models.Event, userID string) (*models.Profile, bool) {
	r.calls++
	p, ok := r.profiles[userID]
	return p, ok
}

func TestCache_MemoizesHitsAndMisses(t *testing.T) {
	logger, _ := test.NewNullLogger()
	inner := &countingResolver{profiles: map[string]*models.Profile{
		"1": {Nickname: "Alice", Gender: "female"},
	}}
	c := NewCache(inner, time.Minute, logger)
	ev := &models.Event{Platform: "telegram"}
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		p, ok := c.Resolve(ctx, ev, "1")
		assert.True(t, ok)
		assert.Equal(t, "Alice", p.Nickname)
	}
	for i := 0; i < 2; i++ {
		_, ok := c.Resolve(ctx, ev, "2")
		assert.False(t, ok)
	}

	assert.Equal(t, 2, inner.calls)
	assert.Equal(t, 2, c.Len())

	c.Clear()
	assert.Equal(t, 0, c.Len())
	c.Resolve(ctx, ev, "1")
	assert.Equal(t, 3, inner.calls)
}

func TestCache_KeyedByPlatform(t *testing.T) {
	logger, _ := test.NewNullLogger()
	inner := &countingResolver{profiles: map[string]*models.Profile{"1": {Nickname: "A"}}}
	c := NewCache(inner, time.Minute, logger)

	c.Resolve(context.Background(), &models.Event{Platform: "telegram"}, "1")
	c.Resolve(context.Background(), &models.Event{Platform: "qq"}, "1")
	assert.Equal(t, 2, inner.calls)
}

func TestCache_Disabled(t *testing.T) {
	logger, _ := test.NewNullLogger()
	inner := &countingResolver{profiles: map[string]*models.Profile{"1": {Nickname: "A"}}}
	c := NewCache(inner, 0, logger)
	ev := &models.Event{Platform: "telegram"}

	c.Resolve(context.Background(), ev, "1")
	c.Resolve(context.Background(), ev, "1")
	assert.Equal(t, 2, inner.calls)
	assert.Equal(t, 0, c.Len())
}

func TestCache_CanceledLookupNotStored(t *testing.T) {
	logger, _ := test.NewNullLogger()
	inner := &countingResolver{}
	c := NewCache(inner, time.Minute, logger)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c.Resolve(ctx, &models.Event{Platform: "telegram"}, "1")
	assert.Equal(t, 0, c.Len())
}

func TestCache_NilInner(t *testing.T) {
	logger, _ := test.NewNullLogger()
	c := NewCache(nil, time.Minute, logger)
	_, ok := c.Resolve(context.Background(), &models.Event{}, "1")
	assert.False(t, ok)
}
