package session

import (
	"context"
	"sync"

	"github.com/chatworkbench/streampipe/internal/broker"
	"github.com/chatworkbench/streampipe/internal/streamevent"
)

// responseSubs holds the fan-out state for one response_id: the set of
// subscribed connections and the broker subscription feeding it, opened
// lazily on the first subscriber and closed on the last unsubscribe.
type responseSubs struct {
	mu            sync.Mutex
	subscriberIDs map[string]struct{}
	brokerSub     *broker.Subscription
}

// SubscribeToResponse adds connectionID as a listener for responseID. On the
// first subscriber for a responseID, a broker subscription is opened and this
// Manager is registered as its broker.Handler. The new subscriber immediately
// receives a synthetic connection_established frame.
func (m *Manager) SubscribeToResponse(ctx context.Context, responseID, connectionID string) error {
	m.mu.Lock()
	subs, ok := m.responses[responseID]
	if !ok {
		subs = &responseSubs{subscriberIDs: map[string]struct{}{}}
		m.responses[responseID] = subs
	}
	m.mu.Unlock()

	subs.mu.Lock()
	_, firstSubscriber := subs.subscriberIDs[connectionID]
	needsBroker := len(subs.subscriberIDs) == 0
	subs.subscriberIDs[connectionID] = struct{}{}
	subs.mu.Unlock()
	_ = firstSubscriber

	if needsBroker {
		brokerSub, err := m.broker.Subscribe(context.WithoutCancel(ctx), responseID, m)
		if err != nil {
			subs.mu.Lock()
			delete(subs.subscriberIDs, connectionID)
			subs.mu.Unlock()
			return err
		}
		subs.mu.Lock()
		subs.brokerSub = brokerSub
		subs.mu.Unlock()
	}

	return m.SendMessage(ctx, connectionID, FrameConnectionEstablished, map[string]string{"response_id": responseID})
}

// UnsubscribeFromResponse removes connectionID from responseID's listener
// set. When the last subscriber leaves, the broker subscription is closed and
// the response's fan-out state is discarded.
func (m *Manager) UnsubscribeFromResponse(responseID, connectionID string) {
	m.mu.Lock()
	subs, ok := m.responses[responseID]
	m.mu.Unlock()
	if !ok {
		return
	}

	subs.mu.Lock()
	delete(subs.subscriberIDs, connectionID)
	empty := len(subs.subscriberIDs) == 0
	var brokerSub *broker.Subscription
	if empty {
		brokerSub = subs.brokerSub
		subs.brokerSub = nil
	}
	subs.mu.Unlock()

	if empty {
		m.mu.Lock()
		delete(m.responses, responseID)
		m.mu.Unlock()
		if brokerSub != nil {
			_ = brokerSub.Close()
		}
	}
}

// Deliver fans e out to every connection subscribed to responseID. A failing
// send removes that subscriber and logs; it never aborts delivery to the
// remaining subscribers.
func (m *Manager) Deliver(ctx context.Context, responseID string, e streamevent.Event) {
	m.mu.Lock()
	subs, ok := m.responses[responseID]
	m.mu.Unlock()
	if !ok {
		return
	}

	subs.mu.Lock()
	targets := make([]string, 0, len(subs.subscriberIDs))
	for id := range subs.subscriberIDs {
		targets = append(targets, id)
	}
	subs.mu.Unlock()

	payload := streamevent.ToWebsocket(e)
	for _, connectionID := range targets {
		if err := m.SendMessage(ctx, connectionID, FrameEvent, payload); err != nil {
			m.telemetry.Logger.Warn(ctx, "session: dropping failed subscriber", "connection_id", connectionID, "response_id", responseID, "error", err.Error())
			m.UnsubscribeFromResponse(responseID, connectionID)
		}
	}
}

// HandleEvent implements broker.Handler so a Manager can be passed directly to
// Broker.Subscribe: it updates the accumulated content cache for
// content deltas, then fans the event out to subscribers.
func (m *Manager) HandleEvent(ctx context.Context, responseID string, e streamevent.Event) {
	if ce, ok := e.(*streamevent.ContentEvent); ok {
		m.trackContentForResponse(responseID, ce.Content)
	}
	m.Deliver(ctx, responseID, e)
}
