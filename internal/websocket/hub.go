package websocket

import "github.com/rs/zerolog/log"

// Hub maintains the set of active clients and broadcasts messages to them.
type Hub struct {
	// Registered clients.
	clients map[*Client]bool

	// Inbound messages from the services for global broadcast.
	Broadcast chan []byte

	// Register requests from the clients.
	Register chan *Client

	// Unregister requests from clients.
	Unregister chan *Client

	// A map of site IDs to a set of clients subscribed to it.
	subscriptions map[string]map[*Client]bool
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{
		Broadcast:     make(chan []byte),
		Register:      make(chan *Client),
		Unregister:    make(chan *Client),
		clients:       make(map[*Client]bool),
		subscriptions: make(map[string]map[*Client]bool),
	}
}

// Run starts the Hub's message processing loop.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.Register:
			h.clients[client] = true
			log.Info().Int("total_clients", len(h.clients)).Msg("Client connected")
			// If the client has a site ID on registration, subscribe them.
			if client.SiteID != "" {
				h.addSubscription(client, client.SiteID)
			}
		case client := <-h.Unregister:
			if _, ok := h.clients[client]; ok {
				// Remove from global clients and any subscriptions
				delete(h.clients, client)
				close(client.Send)
				h.removeSubscription(client)
				log.Info().Int("total_clients", len(h.clients)).Msg("Client disconnected")
			}
		case message := <-h.Broadcast:
			for client := range h.clients {
				select {
				case client.Send <- message:
				default:
					close(client.Send)
					delete(h.clients, client)
					h.removeSubscription(client)
				}
			}
		}
	}
}

// BroadcastTo sends a message to all clients subscribed to a specific site ID.
func (h *Hub) BroadcastTo(siteID string, message []byte) {
	if subs, ok := h.subscriptions[siteID]; ok {
		for client := range subs {
			select {
			case client.Send <- message:
			default:
				close(client.Send)
				delete(h.clients, client)
				delete(h.subscriptions[siteID], client)
			}
		}
	}
}

func (h *Hub) addSubscription(client *Client, siteID string) {
	if h.subscriptions[siteID] == nil {
		h.subscriptions[siteID] = make(map[*Client]bool)
	}
	h.subscriptions[siteID][client] = true
}

func (h *Hub) removeSubscription(client *Client) {
	for siteID, subs := range h.subscriptions {
		if _, ok := subs[client]; ok {
			delete(subs, client)
			if len(subs) == 0 {
				delete(h.subscriptions, siteID)
			}
		}
	}
}
