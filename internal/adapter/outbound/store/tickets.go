package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// Ticket is a stored ticket row.
type Ticket struct {
	ID      string `json:"ticket_id"`
	Project string `json:"project"`
	Title   string `json:"title"`
	Body    string `json:"body"`
}

// ticketID derives a stable id from the ticket payload, so repeated runs of a
// deterministic scenario produce identical ids.
func ticketID(project, title, body string) string {
	payload, _ := json.Marshal(map[string]string{
		"project": project,
		"title":   title,
		"body":    body,
	})
	return fmt.Sprintf("TICKET-%d", xxhash.Sum64(payload)%100000)
}

// Tickets is the deterministic in-memory ticket store.
type Tickets struct {
	mu      sync.RWMutex
	tickets []Ticket
}

// NewTickets builds an empty in-memory store.
func NewTickets() *Tickets {
	return &Tickets{}
}

// Create stores a ticket and returns its id.
func (t *Tickets) Create(_ context.Context, project, title, body string) (map[string]any, error) {
	ticket := Ticket{
		ID:      ticketID(project, title, body),
		Project: project,
		Title:   title,
		Body:    body,
	}
	t.mu.Lock()
	t.tickets = append(t.tickets, ticket)
	t.mu.Unlock()
	return map[string]any{"ticket_id": ticket.ID}, nil
}

// Count returns the number of stored tickets.
func (t *Tickets) Count(_ context.Context) (int, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.tickets), nil
}

// All returns a copy of every stored ticket.
func (t *Tickets) All() []Ticket {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]Ticket(nil), t.tickets...)
}
