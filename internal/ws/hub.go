package ws

import "sync"

// Subscriber abstracts a streaming client.
type Subscriber interface {
	Send([]byte) error
	Close()
}

// Hub manages live subscriptions keyed by deployment id. Each session drains
// its own bounded queue, so a slow subscriber on one channel never delays
// delivery to other sessions anywhere; a session that falls behind its queue
// is disconnected and expected to reconnect and backfill from the log store.
type Hub struct {
	queueSize int
	channels  map[string]map[Subscriber]*session
	register  chan subscription
	unreg     chan subscription
	broadcast chan message
}

type session struct {
	sub   Subscriber
	queue chan []byte
	once  sync.Once
}

func (s *session) stop() {
	s.once.Do(func() {
		close(s.queue)
		s.sub.Close()
	})
}

// message couples payload with channel identifier.
type message struct {
	channel string
	payload []byte
}

// subscription defines register/unregister requests.
type subscription struct {
	channel string
	client  Subscriber
}

// NewHub creates an initialized Hub. queueSize bounds each session's
// in-flight payloads.
func NewHub(queueSize int) *Hub {
	if queueSize <= 0 {
		queueSize = 256
	}
	h := &Hub{
		queueSize: queueSize,
		channels:  make(map[string]map[Subscriber]*session),
		register:  make(chan subscription),
		unreg:     make(chan subscription),
		broadcast: make(chan message, 64),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	for {
		select {
		case sub := <-h.register:
			sessions, ok := h.channels[sub.channel]
			if !ok {
				sessions = make(map[Subscriber]*session)
				h.channels[sub.channel] = sessions
			}
			if _, exists := sessions[sub.client]; exists {
				continue
			}
			sess := &session{sub: sub.client, queue: make(chan []byte, h.queueSize)}
			sessions[sub.client] = sess
			go h.writeLoop(sub.channel, sess)
		case sub := <-h.unreg:
			h.drop(sub.channel, sub.client)
		case msg := <-h.broadcast:
			sessions, ok := h.channels[msg.channel]
			if !ok {
				continue
			}
			for client, sess := range sessions {
				select {
				case sess.queue <- msg.payload:
				default:
					// Queue full: the subscriber cannot keep up.
					h.dropSession(msg.channel, client, sess)
				}
			}
		}
	}
}

func (h *Hub) drop(channel string, client Subscriber) {
	sessions, ok := h.channels[channel]
	if !ok {
		return
	}
	sess, ok := sessions[client]
	if !ok {
		return
	}
	h.dropSession(channel, client, sess)
}

func (h *Hub) dropSession(channel string, client Subscriber, sess *session) {
	sessions := h.channels[channel]
	delete(sessions, client)
	if len(sessions) == 0 {
		delete(h.channels, channel)
	}
	sess.stop()
}

func (h *Hub) writeLoop(channel string, sess *session) {
	for payload := range sess.queue {
		if err := sess.sub.Send(payload); err != nil {
			h.Unregister(channel, sess.sub)
			return
		}
	}
}

// Register adds a client to a channel.
func (h *Hub) Register(channel string, client Subscriber) {
	h.register <- subscription{channel: channel, client: client}
}

// Unregister removes a client and closes its session.
func (h *Hub) Unregister(channel string, client Subscriber) {
	h.unreg <- subscription{channel: channel, client: client}
}

// Broadcast queues payload for every subscriber on the channel.
func (h *Hub) Broadcast(channel string, payload []byte) {
	h.broadcast <- message{channel: channel, payload: payload}
}
