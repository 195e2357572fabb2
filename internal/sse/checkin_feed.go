package sse

import (
	"context"
	"sync"

	"ms-checkin/internal/models"
)

// CheckinFeed broadcasts check-ins to dashboard SSE subscribers, keyed by
// event.
type CheckinFeed struct {
	clients     map[string][]chan models.CheckinEvent
	clientMutex sync.RWMutex
}

func NewCheckinFeed() *CheckinFeed {
	return &CheckinFeed{
		clients: make(map[string][]chan models.CheckinEvent),
	}
}

// Subscribe adds a dashboard client for one event. The channel closes when
// the context is done.
func (f *CheckinFeed) Subscribe(ctx context.Context, eventID string) chan models.CheckinEvent {
	clientChan := make(chan models.CheckinEvent, 10)

	f.clientMutex.Lock()
	f.clients[eventID] = append(f.clients[eventID], clientChan)
	f.clientMutex.Unlock()

	go func() {
		<-ctx.Done()
		f.removeClient(eventID, clientChan)
	}()

	return clientChan
}

// EmitCheckin fans a check-in out to every subscriber of its event. Sends
// are non-blocking; a slow client misses events rather than stalling the
// gate.
func (f *CheckinFeed) EmitCheckin(event models.CheckinEvent) {
	f.clientMutex.RLock()
	clients := f.clients[event.EventID]
	f.clientMutex.RUnlock()

	for _, clientChan := range clients {
		select {
		case clientChan <- event:
		default:
		}
	}
}

// ClientCount reports how many dashboards are watching an event.
func (f *CheckinFeed) ClientCount(eventID string) int {
	f.clientMutex.RLock()
	defer f.clientMutex.RUnlock()
	return len(f.clients[eventID])
}

func (f *CheckinFeed) removeClient(eventID string, clientChan chan models.CheckinEvent) {
	f.clientMutex.Lock()
	defer f.clientMutex.Unlock()

	clients := f.clients[eventID]
	for i, ch := range clients {
		if ch == clientChan {
			f.clients[eventID] = append(clients[:i], clients[i+1:]...)
			close(ch)
			break
		}
	}
	if len(f.clients[eventID]) == 0 {
		delete(f.clients, eventID)
	}
}
