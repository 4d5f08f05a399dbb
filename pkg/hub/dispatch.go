package hub

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"
)

// dispatcher routes inbound events to at most one handler per event name.
// Registering under a name atomically replaces any previous handler, so a
// consumer that re-registers during its lifecycle never receives the same
// event twice.
type dispatcher struct {
	mu       sync.RWMutex
	handlers map[string]func(Envelope)
	logger   zerolog.Logger
}

func newDispatcher(logger zerolog.Logger) *dispatcher {
	return &dispatcher{
		handlers: map[string]func(Envelope){},
		logger:   logger,
	}
}

func (d *dispatcher) register(event string, h func(Envelope)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if h == nil {
		delete(d.handlers, event)
		return
	}
	d.handlers[event] = h
}

func (d *dispatcher) removeAll() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers = map[string]func(Envelope){}
}

// dispatch invokes the handler registered for env.Type, if any. A panicking
// handler must not take down the read loop, so panics are recovered and
// logged here.
func (d *dispatcher) dispatch(env Envelope) {
	d.mu.RLock()
	h := d.handlers[env.Type]
	d.mu.RUnlock()
	if h == nil {
		d.logger.Debug().Str("event", env.Type).Msg("no handler registered, dropping event")
		return
	}
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error().Str("event", env.Type).Interface("panic", r).Msg("event handler panicked")
		}
	}()
	h(env)
}

func decodePayload[T any](d *dispatcher, env Envelope) (T, bool) {
	var payload T
	if len(env.Data) == 0 {
		return payload, true
	}
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		d.logger.Warn().Err(err).Str("event", env.Type).Msg("failed to decode event payload")
		var zero T
		return zero, false
	}
	return payload, true
}
