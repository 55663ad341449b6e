package backendtest

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

func (s *Server) inventoryFeed(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.calls["GET /ws/inventory/{productId}"]++
	status, fail := s.failures["GET /ws/inventory/{productId}"]
	s.mu.Unlock()
	if fail {
		writeError(w, status, http.StatusText(status))
		return
	}

	pid := chi.URLParam(r, "productId")
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	s.feedMu.Lock()
	if s.feeds[pid] == nil {
		s.feeds[pid] = make(map[*websocket.Conn]struct{})
	}
	s.feeds[pid][conn] = struct{}{}
	s.feedCond.Broadcast()
	s.feedMu.Unlock()

	// Drain until the client goes away.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	s.feedMu.Lock()
	delete(s.feeds[pid], conn)
	s.feedCond.Broadcast()
	s.feedMu.Unlock()
	conn.Close()
}

// Subscribers returns the number of open feed connections for productID.
func (s *Server) Subscribers(productID string) int {
	s.feedMu.Lock()
	defer s.feedMu.Unlock()
	return len(s.feeds[productID])
}

// WaitSubscribers blocks until productID has exactly n feed connections or
// the timeout expires.
func (s *Server) WaitSubscribers(productID string, n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	timer := time.AfterFunc(timeout, func() {
		s.feedMu.Lock()
		s.feedCond.Broadcast()
		s.feedMu.Unlock()
	})
	defer timer.Stop()

	s.feedMu.Lock()
	defer s.feedMu.Unlock()
	for len(s.feeds[productID]) != n {
		if !time.Now().Before(deadline) {
			return false
		}
		s.feedCond.Wait()
	}
	return true
}

// PublishStock sends {"productId", "newStock"} to every subscriber of
// the feed for feedProductID, with msgProductID as the payload's id.
func (s *Server) PublishStock(feedProductID, msgProductID string, newStock int) {
	id, err := strconv.Atoi(msgProductID)
	var payload []byte
	if err == nil {
		payload, _ = json.Marshal(map[string]int{"productId": id, "newStock": newStock})
	} else {
		payload, _ = json.Marshal(map[string]any{"productId": msgProductID, "newStock": newStock})
	}
	s.PublishRaw(feedProductID, payload)
}

// PublishRaw sends payload verbatim to every subscriber of productID.
func (s *Server) PublishRaw(productID string, payload []byte) {
	s.feedMu.Lock()
	defer s.feedMu.Unlock()
	for c := range s.feeds[productID] {
		c.WriteMessage(websocket.TextMessage, payload)
	}
}
