package transport

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/go-stomp/stomp/v3"
	"github.com/gorilla/websocket"
)

// StompDialer opens STOMP 1.2 sessions over a WebSocket.
type StompDialer struct {
	HeartBeat        time.Duration
	HandshakeTimeout time.Duration
}

// NewStompDialer returns a dialer with heart-beats in both directions.
func NewStompDialer(heartBeat time.Duration) *StompDialer {
	return &StompDialer{
		HeartBeat:        heartBeat,
		HandshakeTimeout: 10 * time.Second,
	}
}

// Dial connects to target.URL, passing token as a query parameter.
func (d *StompDialer) Dial(ctx context.Context, target Target, token string) (Session, error) {
	u, err := url.Parse(target.URL)
	if err != nil {
		return nil, fmt.Errorf("parse socket url: %w", err)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: d.HandshakeTimeout,
		Subprotocols:     []string{"v12.stomp", "v11.stomp"},
	}

	ws, resp, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket handshake: %s: %w", resp.Status, err)
		}
		return nil, fmt.Errorf("websocket handshake: %w", err)
	}

	conn := newWSConn(ws)

	// bound the STOMP CONNECT/CONNECTED exchange
	ws.SetReadDeadline(time.Now().Add(d.HandshakeTimeout))
	client, err := stomp.Connect(conn,
		stomp.ConnOpt.HeartBeat(d.HeartBeat, d.HeartBeat),
		stomp.ConnOpt.Host(u.Hostname()),
	)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("stomp connect: %w", err)
	}
	ws.SetReadDeadline(time.Time{})

	return &stompSession{client: client, conn: conn}, nil
}

type stompSession struct {
	client *stomp.Conn
	conn   *wsConn
}

func (s *stompSession) Subscribe(destination string) (Subscription, error) {
	sub, err := s.client.Subscribe(destination, stomp.AckAuto)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", destination, err)
	}
	return newStompSubscription(sub), nil
}

func (s *stompSession) Send(destination string, body []byte) error {
	if err := s.client.Send(destination, "application/json", body); err != nil {
		return fmt.Errorf("send %s: %w", destination, err)
	}
	return nil
}

func (s *stompSession) Done() <-chan struct{} {
	return s.conn.Done()
}

func (s *stompSession) Close() error {
	s.client.MustDisconnect()
	return s.conn.Close()
}

// stompSubscription forwards message bodies until the subscription or the
// connection ends.
type stompSubscription struct {
	sub  *stomp.Subscription
	out  chan []byte
	stop chan struct{}
	once sync.Once
}

func newStompSubscription(sub *stomp.Subscription) *stompSubscription {
	s := &stompSubscription{
		sub:  sub,
		out:  make(chan []byte, 64),
		stop: make(chan struct{}),
	}
	go s.forward()
	return s
}

func (s *stompSubscription) forward() {
	defer close(s.out)
	for {
		select {
		case <-s.stop:
			return
		case msg, ok := <-s.sub.C:
			if !ok || msg.Err != nil {
				return
			}
			select {
			case s.out <- msg.Body:
			case <-s.stop:
				return
			}
		}
	}
}

func (s *stompSubscription) Messages() <-chan []byte {
	return s.out
}

func (s *stompSubscription) Unsubscribe() error {
	var err error
	s.once.Do(func() {
		close(s.stop)
		err = s.sub.Unsubscribe()
	})
	return err
}
