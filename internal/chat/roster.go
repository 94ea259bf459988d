package chat

import "sync"

// Roster tracks the clients currently connected to the endpoint and the
// display names they registered. All sessions share one Roster.
type Roster struct {
	mu      sync.RWMutex
	clients map[string]string
}

// NewRoster creates an empty Roster.
func NewRoster() *Roster {
	return &Roster{
		clients: make(map[string]string),
	}
}

// Add registers a client. The display name of a returning client survives.
func (r *Roster) Add(clientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.clients[clientID]; !ok {
		r.clients[clientID] = ""
	}
}

// SetName records the display name a client chose.
func (r *Roster) SetName(clientID, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[clientID] = name
}

// Name returns the client's display name, falling back to the client
// identity when none was set.
func (r *Roster) Name(clientID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if name := r.clients[clientID]; name != "" {
		return name
	}
	return clientID
}

// Remove drops a client from the roster.
func (r *Roster) Remove(clientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, clientID)
}

// Count returns the number of connected clients.
func (r *Roster) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}
