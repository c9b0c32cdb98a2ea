package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/eayunstack/notifyqueue/internal/monitor"
	"github.com/eayunstack/notifyqueue/internal/obs"
)

// MonitorStream fans out monitor update deltas to connected operator
// dashboards over `/v2/monitors/stream`. Single-process fan-out only, no
// cross-region replication.
type MonitorStream struct {
	upgrader websocket.Upgrader
	mu       sync.Mutex
	clients  map[*websocket.Conn]chan []byte
}

func NewMonitorStream() *MonitorStream {
	return &MonitorStream{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients: make(map[*websocket.Conn]chan []byte),
	}
}

func (ms *MonitorStream) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := ms.upgrader.Upgrade(w, r, nil)
	if err != nil {
		obs.Logger(r.Context()).Warn().Err(err).Msg("monitor stream upgrade failed")
		return
	}

	out := make(chan []byte, 16)
	ms.mu.Lock()
	ms.clients[conn] = out
	ms.mu.Unlock()

	defer func() {
		ms.mu.Lock()
		delete(ms.clients, conn)
		ms.mu.Unlock()
		conn.Close()
	}()

	for msg := range out {
		if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

// Delta is one notification pushed to subscribed dashboards whenever a
// monitor update is applied.
type Delta struct {
	Key       string            `json:"key"`
	CountType monitor.CountType `json:"count_type"`
	Success   bool              `json:"success"`
	N         int               `json:"n"`
	Bytes     int64             `json:"bytes"`
}

// Publish broadcasts delta to every connected client, dropping it for any
// client whose send buffer is full rather than blocking the writer.
func (ms *MonitorStream) Publish(delta Delta) {
	payload, err := json.Marshal(delta)
	if err != nil {
		return
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()
	for _, ch := range ms.clients {
		select {
		case ch <- payload:
		default:
		}
	}
}

// ObservingController wraps a monitor.Controller so every Update also
// publishes a Delta to connected /v2/monitors/stream clients.
type ObservingController struct {
	monitor.Controller
	stream *MonitorStream
}

func WrapWithStream(inner monitor.Controller, stream *MonitorStream) *ObservingController {
	return &ObservingController{Controller: inner, stream: stream}
}

func (o *ObservingController) Update(ctx context.Context, project, name string, countType monitor.CountType, success bool, n int, b int64) error {
	err := o.Controller.Update(ctx, project, name, countType, success, n, b)
	if err == nil {
		o.stream.Publish(Delta{Key: project + "/" + name, CountType: countType, Success: success, N: n, Bytes: b})
	}
	return err
}
