package presence

import (
	"context"
	"sync"

	"github.com/puffperksonline/puffperks/internal/models"
)

// Emitter manages SSE subscriber channels and event fan-out for the realtime
// channels ("store-dashboard-{storeID}", "customer-card-{customerID}").
type Emitter struct {
	clients     map[string][]chan models.ChannelEvent
	clientMutex sync.RWMutex
}

func NewEmitter() *Emitter {
	return &Emitter{
		clients: make(map[string][]chan models.ChannelEvent),
	}
}

// Subscribe adds a client to a channel. The subscription is removed when ctx
// is done; releasing it is not optional.
func (e *Emitter) Subscribe(ctx context.Context, channelID string) chan models.ChannelEvent {
	clientChan := make(chan models.ChannelEvent, 16)

	e.clientMutex.Lock()
	e.clients[channelID] = append(e.clients[channelID], clientChan)
	e.clientMutex.Unlock()

	go func() {
		<-ctx.Done()
		e.removeClient(channelID, clientChan)
	}()

	return clientChan
}

// Emit broadcasts an event to every subscriber of a channel. Slow clients
// whose buffer is full are skipped rather than blocking the emitter.
func (e *Emitter) Emit(channelID string, event models.ChannelEvent) {
	e.clientMutex.RLock()
	clients := e.clients[channelID]
	e.clientMutex.RUnlock()

	for _, clientChan := range clients {
		select {
		case clientChan <- event:
		default:
		}
	}
}

func (e *Emitter) removeClient(channelID string, clientChan chan models.ChannelEvent) {
	e.clientMutex.Lock()
	defer e.clientMutex.Unlock()

	clients := e.clients[channelID]
	for i, ch := range clients {
		if ch == clientChan {
			e.clients[channelID] = append(clients[:i], clients[i+1:]...)
			close(clientChan)
			break
		}
	}

	if len(e.clients[channelID]) == 0 {
		delete(e.clients, channelID)
	}
}

// ClientCount returns the number of subscribers currently on a channel.
func (e *Emitter) ClientCount(channelID string) int {
	e.clientMutex.RLock()
	defer e.clientMutex.RUnlock()
	return len(e.clients[channelID])
}
