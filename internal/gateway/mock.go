package gateway

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// MockGateway is an in-process gateway for development and tests. It
// records created intents and can be told to fail.
type MockGateway struct {
	mu      sync.Mutex
	intents []*Intent
	Err     error
}

var _ Gateway = (*MockGateway)(nil)

func NewMockGateway() *MockGateway {
	return &MockGateway{}
}

func (g *MockGateway) CreateIntent(ctx context.Context, amountMinorUnits int64, currency string, metadata map[string]string) (*Intent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.Err != nil {
		return nil, g.Err
	}

	id := "pi_" + uuid.New().String()[:24]
	intent := &Intent{
		ID:           id,
		ClientSecret: fmt.Sprintf("%s_secret_%s", id, uuid.New().String()[:16]),
	}
	g.intents = append(g.intents, intent)
	return intent, nil
}

// Intents returns the intents created so far
func (g *MockGateway) Intents() []*Intent {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]*Intent, len(g.intents))
	copy(out, g.intents)
	return out
}
