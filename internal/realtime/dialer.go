package realtime

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Dialer opens remote streams against the server's websocket endpoint.
type Dialer struct {
	// BaseURL is the server root, http(s):// or ws(s)://.
	BaseURL string
	// Path defaults to /realtime/ws.
	Path   string
	Header http.Header

	HandshakeTimeout time.Duration
	// ReadTimeout bounds silence from the server; pings refresh it.
	ReadTimeout time.Duration

	Log zerolog.Logger
}

// URL builds the websocket URL for topic. Only ws and wss are dialed.
func (d *Dialer) URL(topic string) (string, error) {
	u, err := url.Parse(d.BaseURL)
	if err != nil {
		return "", fmt.Errorf("invalid realtime URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("URL scheme must be http(s) or ws(s), got %q", u.Scheme)
	}
	path := d.Path
	if path == "" {
		path = "/realtime/ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + path
	q := u.Query()
	q.Set("topic", topic)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Subscribe dials the server and returns once the server confirmed the
// subscription with a ready frame.
func (d *Dialer) Subscribe(ctx context.Context, topic string) (Stream, error) {
	target, err := d.URL(topic)
	if err != nil {
		return nil, err
	}
	hs := d.HandshakeTimeout
	if hs <= 0 {
		hs = 10 * time.Second
	}
	readTimeout := d.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 60 * time.Second
	}

	wd := &websocket.Dialer{HandshakeTimeout: hs}
	ws, resp, err := wd.DialContext(ctx, target, d.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", topic, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", topic, err)
	}

	_ = ws.SetReadDeadline(time.Now().Add(hs))
	_, first, err := ws.ReadMessage()
	if err != nil {
		_ = ws.Close()
		return nil, fmt.Errorf("await ready %s: %w", topic, err)
	}
	f, err := UnmarshalFrame(first)
	if err != nil || f.Type != FrameReady {
		_ = ws.Close()
		if err == nil {
			err = fmt.Errorf("unexpected %q frame: %s", f.Type, f.Message)
		}
		return nil, fmt.Errorf("await ready %s: %w", topic, err)
	}

	rs := &remoteStream{
		cw:      &conn{c: ws},
		topic:   topic,
		ch:      make(chan Event, subscriberBufferSize),
		closing: make(chan struct{}),
		log:     d.Log.With().Str("topic", topic).Logger(),
	}
	_ = ws.SetReadDeadline(time.Now().Add(readTimeout))
	ws.SetPingHandler(func(data string) error {
		_ = ws.SetReadDeadline(time.Now().Add(readTimeout))
		return ws.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(5*time.Second))
	})
	go rs.readLoop(ctx, readTimeout)
	return rs, nil
}

type remoteStream struct {
	cw      *conn
	topic   string
	ch      chan Event
	closing chan struct{}
	once    sync.Once
	log     zerolog.Logger

	mu  sync.Mutex
	err error
}

func (s *remoteStream) Topic() string        { return s.topic }
func (s *remoteStream) Events() <-chan Event { return s.ch }

func (s *remoteStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *remoteStream) Close() error {
	var err error
	s.once.Do(func() {
		close(s.closing)
		err = s.cw.closeWith(websocket.CloseNormalClosure, "", 2*time.Second)
	})
	return err
}

func (s *remoteStream) readLoop(ctx context.Context, readTimeout time.Duration) {
	var cause error
	defer func() {
		select {
		case <-s.closing:
			cause = nil
		default:
		}
		s.mu.Lock()
		s.err = cause
		s.mu.Unlock()
		close(s.ch)
		_ = s.cw.c.Close()
	}()

	go func() {
		select {
		case <-ctx.Done():
			_ = s.Close()
		case <-s.closing:
		}
	}()

	for {
		_, msg, err := s.cw.c.ReadMessage()
		if err != nil {
			cause = fmt.Errorf("%w: %v", ErrStreamLost, err)
			return
		}
		_ = s.cw.c.SetReadDeadline(time.Now().Add(readTimeout))

		f, err := UnmarshalFrame(msg)
		if err != nil {
			s.log.Debug().Err(err).Msg("skip undecodable frame")
			continue
		}
		switch f.Type {
		case FrameEvent:
			if f.Event == nil {
				continue
			}
			select {
			case s.ch <- *f.Event:
			case <-s.closing:
				return
			}
		case FrameError:
			cause = fmt.Errorf("%w: server: %s", ErrStreamLost, f.Message)
			return
		}
	}
}
