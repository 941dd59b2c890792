// Package agentclient is the endpoint side of the websocket command channel.
// It keeps one connection to the backend, applies task commands to a local
// schedule, and reports results back.
package agentclient

import (
	"context"
	"log"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const redialDelay = 5 * time.Second

// Runner executes a scheduled task on the endpoint and returns its output.
type Runner func(taskID uint) (string, error)

// Client maintains a single ws connection to the backend.
type Client struct {
	endpoint string
	agentID  string
	token    string
	runner   Runner

	mu   sync.Mutex
	conn *websocket.Conn

	// scheduled task instances pushed by the backend, by instance id
	tasks map[uint]bool
}

// New builds a client for the backend at base (http/https URL). Returns nil
// when the base URL is unusable.
func New(base, agentID, token string, runner Runner) *Client {
	u, err := url.Parse(base)
	if err != nil || agentID == "" {
		return nil
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/api/v1/ws/agent"
	q := u.Query()
	q.Set("agentId", agentID)
	u.RawQuery = q.Encode()
	return &Client{
		endpoint: u.String(),
		agentID:  agentID,
		token:    token,
		runner:   runner,
		tasks:    map[uint]bool{},
	}
}

// Run dials and re-dials the backend until ctx is cancelled.
func (c *Client) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		header := http.Header{}
		if c.token != "" {
			header.Set("Authorization", "Bearer "+c.token)
		}
		conn, resp, err := websocket.DefaultDialer.DialContext(ctx, c.endpoint, header)
		if err != nil {
			status := 0
			if resp != nil {
				status = resp.StatusCode
			}
			log.Printf("ws dial failed: %v (url=%s status=%d)", err, c.endpoint, status)
			select {
			case <-ctx.Done():
				return
			case <-time.After(redialDelay):
			}
			continue
		}
		c.mu.Lock()
		c.conn = conn
		c.mu.Unlock()
		log.Printf("connected to backend url=%s agent=%s", c.endpoint, c.agentID)
		c.readLoop(conn)
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		log.Printf("ws disconnected, retrying in %s", redialDelay)
		select {
		case <-ctx.Done():
			return
		case <-time.After(redialDelay):
		}
	}
}

type message struct {
	Type    string                 `json:"type"`
	AgentID string                 `json:"agentId,omitempty"`
	Payload map[string]interface{} `json:"payload,omitempty"`
}

func (c *Client) readLoop(conn *websocket.Conn) {
	defer conn.Close()
	for {
		var msg message
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		c.handle(msg)
	}
}

func (c *Client) handle(msg message) {
	taskID := payloadTaskID(msg.Payload)
	switch msg.Type {
	case "run_task":
		c.runTask(taskID)
	case "remove_task":
		c.mu.Lock()
		delete(c.tasks, taskID)
		c.mu.Unlock()
		log.Printf("task removed id=%d", taskID)
	case "set_task_enabled":
		enabled, _ := msg.Payload["enabled"].(bool)
		c.mu.Lock()
		c.tasks[taskID] = enabled
		c.mu.Unlock()
		log.Printf("task id=%d enabled=%v", taskID, enabled)
	default:
		log.Printf("ws recv unknown type=%s", msg.Type)
	}
}

func (c *Client) runTask(taskID uint) {
	c.mu.Lock()
	c.tasks[taskID] = true
	c.mu.Unlock()
	if c.runner == nil {
		return
	}
	go func() {
		out, err := c.runner(taskID)
		result := map[string]interface{}{"taskId": taskID, "output": out}
		if err != nil {
			result["error"] = err.Error()
		}
		c.send(message{Type: "task_result", AgentID: c.agentID, Payload: result})
	}()
}

// ScheduledTasks returns the instance ids the backend has pushed, with their
// enabled state.
func (c *Client) ScheduledTasks() map[uint]bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[uint]bool, len(c.tasks))
	for id, enabled := range c.tasks {
		out[id] = enabled
	}
	return out
}

func (c *Client) send(msg message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return
	}
	if err := c.conn.WriteJSON(msg); err != nil {
		log.Printf("ws send failed: %v", err)
	}
}

func payloadTaskID(payload map[string]interface{}) uint {
	v, _ := payload["taskId"].(float64)
	return uint(v)
}
