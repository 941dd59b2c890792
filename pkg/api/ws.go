package api

import (
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// WSMessage is the envelope for controller->agent commands and agent
// reports.
type WSMessage struct {
	Type    string      `json:"type"`              // run_task, set_task_enabled, remove_task, task_result
	AgentID string      `json:"agentId,omitempty"` // source/target agent
	Payload interface{} `json:"payload,omitempty"`
}

// WSHub maintains agent connections keyed by external agent id.
type WSHub struct {
	upgrader websocket.Upgrader
	mu       sync.RWMutex
	agents   map[string]*websocket.Conn
}

func NewWSHub() *WSHub {
	return &WSHub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		agents: map[string]*websocket.Conn{},
	}
}

// HandleAgentWS upgrades and stores the connection for an agent; expects
// ?agentId=xxx
func (h *WSHub) HandleAgentWS(w http.ResponseWriter, r *http.Request) {
	agentID := r.URL.Query().Get("agentId")
	if agentID == "" {
		http.Error(w, "agentId required", http.StatusBadRequest)
		return
	}
	c, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade failed agent=%s err=%v", agentID, err)
		return
	}
	h.mu.Lock()
	if old, ok := h.agents[agentID]; ok {
		_ = old.Close()
	}
	h.agents[agentID] = c
	h.mu.Unlock()
	log.Printf("agent ws connected: %s", agentID)
	go h.readLoop(agentID, c)
}

// Send sends a message to an agent if connected. Disconnected agents pick up
// their state on the next reconcile, so a miss is only logged.
func (h *WSHub) Send(agentID string, msg WSMessage) {
	h.mu.RLock()
	c := h.agents[agentID]
	h.mu.RUnlock()
	if c == nil {
		log.Printf("ws send skipped; agent %s not connected", agentID)
		return
	}
	if err := c.WriteJSON(msg); err != nil {
		log.Printf("ws send to %s failed: %v", agentID, err)
	}
}

// RunTask pushes an immediate-execution command for a task instance.
func (h *WSHub) RunTask(agentID string, taskInstanceID uint) {
	h.Send(agentID, WSMessage{Type: "run_task", AgentID: agentID, Payload: map[string]uint{"taskId": taskInstanceID}})
}

// RemoveTask tells the agent to drop the scheduled task.
func (h *WSHub) RemoveTask(agentID string, taskInstanceID uint) {
	h.Send(agentID, WSMessage{Type: "remove_task", AgentID: agentID, Payload: map[string]uint{"taskId": taskInstanceID}})
}

// SetTaskEnabled toggles a scheduled task on the agent.
func (h *WSHub) SetTaskEnabled(agentID string, taskInstanceID uint, enabled bool) {
	h.Send(agentID, WSMessage{Type: "set_task_enabled", AgentID: agentID, Payload: map[string]interface{}{
		"taskId":  taskInstanceID,
		"enabled": enabled,
	}})
}

func (h *WSHub) readLoop(agentID string, c *websocket.Conn) {
	defer func() {
		c.Close()
		h.mu.Lock()
		delete(h.agents, agentID)
		h.mu.Unlock()
		log.Printf("agent ws disconnected: %s", agentID)
	}()
	for {
		var msg WSMessage
		if err := c.ReadJSON(&msg); err != nil {
			return
		}
		// Results are informational; check/task state lives in the database.
		log.Printf("ws recv from %s type=%s", agentID, msg.Type)
	}
}
