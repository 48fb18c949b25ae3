package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// envelope is the stored form of every managed cache entry. Expires is unix
// milliseconds; zero means the entry never expires.
type envelope struct {
	Value   json.RawMessage `json:"value"`
	Expires int64           `json:"expires"`
}

// SetOption configures a single Set call.
type SetOption func(*envelope)

// WithExpiresAt sets an absolute expiry for the entry.
func WithExpiresAt(t time.Time) SetOption {
	return func(e *envelope) { e.Expires = t.UnixMilli() }
}

// WithTTL sets an expiry relative to now.
func WithTTL(d time.Duration) SetOption {
	return func(e *envelope) { e.Expires = time.Now().Add(d).UnixMilli() }
}

// Manager wraps any Adapter with a JSON envelope carrying an optional
// expiry. Eviction is read-driven: an expired entry is deleted the next time
// it is read, never by a background sweep, so storage can hold stale entries
// indefinitely until someone looks.
type Manager struct {
	adapter Adapter
	logger  zerolog.Logger
	now     func() time.Time
}

// NewManager wraps the given adapter.
func NewManager(adapter Adapter, logger zerolog.Logger) (*Manager, error) {
	if adapter == nil {
		return nil, errors.New("adapter is nil")
	}
	return &Manager{
		adapter: adapter,
		logger:  logger.With().Str("component", "cache_manager").Logger(),
		now:     time.Now,
	}, nil
}

// Get unmarshals the cached value for key into out. It never returns an
// expired entry: expiry triggers a best-effort delete (failure logged and
// ignored) and reports a miss.
func (m *Manager) Get(ctx context.Context, key string, out any) (bool, error) {
	raw, found, err := m.adapter.Get(ctx, key)
	if err != nil {
		return false, err
	}
	if !found {
		return false, nil
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		// A corrupt envelope is indistinguishable from garbage left by an
		// older format; treat it like an expired entry.
		m.logger.Warn().Str("key", key).Err(err).Msg("unreadable cache envelope, evicting")
		m.evict(ctx, key)
		return false, nil
	}

	if env.Expires != 0 && env.Expires <= m.now().UnixMilli() {
		m.evict(ctx, key)
		return false, nil
	}

	if out != nil {
		if err := json.Unmarshal(env.Value, out); err != nil {
			return false, fmt.Errorf("unmarshal cache value: %w", err)
		}
	}
	return true, nil
}

// Set serializes value into the envelope and writes it through the adapter.
// Without options the entry never expires.
func (m *Manager) Set(ctx context.Context, key string, value any, opts ...SetOption) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal cache value: %w", err)
	}
	env := envelope{Value: raw}
	for _, opt := range opts {
		opt(&env)
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal cache envelope: %w", err)
	}
	return m.adapter.Set(ctx, key, data)
}

// Delete removes the entry for key.
func (m *Manager) Delete(ctx context.Context, key string) error {
	return m.adapter.Delete(ctx, key)
}

func (m *Manager) evict(ctx context.Context, key string) {
	if err := m.adapter.Delete(ctx, key); err != nil {
		m.logger.Warn().Str("key", key).Err(err).Msg("failed to evict expired cache entry")
	}
}
