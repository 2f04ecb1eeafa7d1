package httpapi

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/pos/internal/domain"
	"github.com/vladislavdragonenkov/pos/internal/service/orders"
)

const (
	feedWriteWait  = 10 * time.Second
	feedPongWait   = 60 * time.Second
	feedPingPeriod = feedPongWait * 9 / 10
	feedBufferSize = 32
)

// Feed рассылает события заказов подключённым по websocket кассам.
// Каждый клиент получает только события своего владельца; клиент,
// не успевающий читать, отключается.
type Feed struct {
	mu       sync.RWMutex
	clients  map[string]map[*feedClient]struct{}
	upgrader websocket.Upgrader
	logger   *log.Entry
}

type feedClient struct {
	owner string
	conn  *websocket.Conn
	send  chan domain.OrderEvent
}

var _ orders.Notifier = (*Feed)(nil)

// NewFeed создаёт пустую ленту.
func NewFeed(logger *log.Entry) *Feed {
	if logger == nil {
		logger = log.WithField("component", "order-feed")
	}
	return &Feed{
		clients: make(map[string]map[*feedClient]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// источники ограничивает CORS-конфигурация и bearer-токен
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger: logger,
	}
}

// Notify доставляет событие всем клиентам владельца без блокировки.
func (f *Feed) Notify(event domain.OrderEvent) {
	var slow []*feedClient

	f.mu.RLock()
	for client := range f.clients[event.Owner] {
		select {
		case client.send <- event:
		default:
			slow = append(slow, client)
		}
	}
	f.mu.RUnlock()

	for _, client := range slow {
		f.logger.WithField("owner", client.owner).Warn("feed client is too slow, disconnecting")
		f.remove(client)
	}
}

// Subscribers возвращает число подключённых клиентов владельца.
func (f *Feed) Subscribers(owner string) int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.clients[owner])
}

// Close отключает всех клиентов.
func (f *Feed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for owner, set := range f.clients {
		for client := range set {
			close(client.send)
		}
		delete(f.clients, owner)
	}
}

func (f *Feed) serve(c *gin.Context) {
	conn, err := f.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		f.logger.WithError(err).Warn("websocket upgrade failed")
		return
	}

	client := &feedClient{
		owner: ownerFrom(c),
		conn:  conn,
		send:  make(chan domain.OrderEvent, feedBufferSize),
	}
	f.add(client)
	f.logger.WithField("owner", client.owner).Debug("feed client connected")

	go f.writePump(client)
	f.readPump(client)
}

func (f *Feed) add(client *feedClient) {
	f.mu.Lock()
	defer f.mu.Unlock()
	set, ok := f.clients[client.owner]
	if !ok {
		set = make(map[*feedClient]struct{})
		f.clients[client.owner] = set
	}
	set[client] = struct{}{}
}

// remove закрывает канал клиента ровно один раз: под write-lock никто не пишет в send.
func (f *Feed) remove(client *feedClient) {
	f.mu.Lock()
	defer f.mu.Unlock()
	set := f.clients[client.owner]
	if _, ok := set[client]; !ok {
		return
	}
	delete(set, client)
	if len(set) == 0 {
		delete(f.clients, client.owner)
	}
	close(client.send)
}

// readPump читает только управляющие кадры; клиент ничего не присылает.
func (f *Feed) readPump(client *feedClient) {
	defer func() {
		f.remove(client)
		_ = client.conn.Close()
		f.logger.WithField("owner", client.owner).Debug("feed client disconnected")
	}()

	client.conn.SetReadLimit(512)
	_ = client.conn.SetReadDeadline(time.Now().Add(feedPongWait))
	client.conn.SetPongHandler(func(string) error {
		return client.conn.SetReadDeadline(time.Now().Add(feedPongWait))
	})
	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (f *Feed) writePump(client *feedClient) {
	ticker := time.NewTicker(feedPingPeriod)
	defer func() {
		ticker.Stop()
		_ = client.conn.Close()
	}()

	for {
		select {
		case event, ok := <-client.send:
			_ = client.conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
			if !ok {
				_ = client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.conn.WriteJSON(event); err != nil {
				f.logger.WithError(err).WithField("owner", client.owner).Debug("feed write failed")
				return
			}
		case <-ticker.C:
			_ = client.conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
