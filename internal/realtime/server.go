package realtime

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// ServerOptions tunes the websocket endpoint.
type ServerOptions struct {
	// PingInterval is how often the server pings an idle client.
	PingInterval time.Duration
	// PongWait bounds the silence tolerated from the client.
	PongWait time.Duration
	// WriteTimeout bounds every frame write.
	WriteTimeout time.Duration
	// AllowTopic rejects unknown topics before upgrading. Nil allows
	// the well-known topics.
	AllowTopic func(topic string) bool
	// CheckOrigin is passed to the upgrader. Nil accepts any origin.
	CheckOrigin func(r *http.Request) bool
}

func (o *ServerOptions) withDefaults() ServerOptions {
	out := *o
	if out.PingInterval <= 0 {
		out.PingInterval = 25 * time.Second
	}
	if out.PongWait <= out.PingInterval {
		out.PongWait = out.PingInterval * 12 / 5
	}
	if out.WriteTimeout <= 0 {
		out.WriteTimeout = 10 * time.Second
	}
	if out.AllowTopic == nil {
		out.AllowTopic = KnownTopic
	}
	if out.CheckOrigin == nil {
		out.CheckOrigin = func(*http.Request) bool { return true }
	}
	return out
}

// KnownTopic accepts the staff chat and push topics and any store's
// requests topic.
func KnownTopic(topic string) bool {
	switch {
	case topic == TopicStaffChat, topic == TopicStaffPush:
		return true
	default:
		_, ok := StoreOf(topic)
		return ok
	}
}

// Handler upgrades GET /realtime/ws?topic=... and streams the topic's events
// as Frames until either side goes away.
func Handler(sub Subscriber, opts ServerOptions, log zerolog.Logger) gin.HandlerFunc {
	o := opts.withDefaults()
	upgrader := websocket.Upgrader{CheckOrigin: o.CheckOrigin}

	return func(c *gin.Context) {
		topic := strings.TrimSpace(c.Query("topic"))
		if !o.AllowTopic(topic) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"code":    "bad_request",
				"message": "unknown or missing topic",
			})
			return
		}

		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			// Upgrade already wrote an HTTP error.
			log.Warn().Err(err).Str("topic", topic).Msg("websocket upgrade failed")
			return
		}
		wsConnsGauge.Inc()
		defer wsConnsGauge.Dec()

		cw := &conn{c: ws}
		lg := log.With().Str("topic", topic).Str("remote", c.ClientIP()).Logger()
		serve(c.Request.Context(), cw, sub, topic, o, lg)
	}
}

func serve(parent context.Context, cw *conn, sub Subscriber, topic string, o ServerOptions, lg zerolog.Logger) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	stream, err := sub.Subscribe(ctx, topic)
	if err != nil {
		_ = cw.writeFrame(&Frame{Type: FrameError, Topic: topic, Message: err.Error()}, o.WriteTimeout)
		_ = cw.closeWith(websocket.CloseTryAgainLater, "subscribe failed", o.WriteTimeout)
		return
	}
	defer stream.Close()

	if err := cw.writeFrame(&Frame{Type: FrameReady, Topic: topic}, o.WriteTimeout); err != nil {
		_ = cw.c.Close()
		return
	}
	lg.Debug().Msg("realtime client attached")

	// Reader: the client sends nothing meaningful, but reading is required to
	// process pong and close control frames.
	go func() {
		defer cancel()
		_ = cw.c.SetReadDeadline(time.Now().Add(o.PongWait))
		cw.c.SetPongHandler(func(string) error {
			return cw.c.SetReadDeadline(time.Now().Add(o.PongWait))
		})
		for {
			if _, _, err := cw.c.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					lg.Debug().Err(err).Msg("realtime read error")
				}
				return
			}
		}
	}()

	ticker := time.NewTicker(o.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = cw.closeWith(websocket.CloseGoingAway, "", o.WriteTimeout)
			return
		case ev, ok := <-stream.Events():
			if !ok {
				_ = cw.closeWith(websocket.CloseTryAgainLater, "stream ended", o.WriteTimeout)
				return
			}
			if err := cw.writeFrame(&Frame{Type: FrameEvent, Topic: topic, Event: &ev}, o.WriteTimeout); err != nil {
				lg.Debug().Err(err).Msg("realtime write failed")
				_ = cw.c.Close()
				return
			}
		case <-ticker.C:
			if err := cw.writePing(o.WriteTimeout); err != nil {
				_ = cw.c.Close()
				return
			}
		}
	}
}
