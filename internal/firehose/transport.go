package firehose

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"

	"github.com/gorilla/websocket"
)

const subscribeReposPath = "/xrpc/com.atproto.sync.subscribeRepos"

// Credentials authenticate against the PDS before the stream socket opens.
// Use an app password.
type Credentials struct {
	Username string
	Password string
}

// Authenticator performs the pre-connect login when credentials are set.
type Authenticator interface {
	Login(ctx context.Context, identifier, password string) error
}

// Transport manages the duplex firehose connection. It does not self-heal:
// on error or idle timeout the owning worker must call Connect again. The
// idle-reconnect policy itself (arming a timer on every frame) belongs to
// the worker, not here.
type Transport struct {
	host        string
	scheme      string
	credentials *Credentials
	auth        Authenticator
	logger      *slog.Logger

	// OnOpen fires once the socket is established.
	OnOpen func()

	// OnFrame fires for every raw frame read from the socket. The frame
	// buffer is owned by the callback for the duration of the call only.
	OnFrame func(frame []byte)

	// OnError fires when the current connection fails. It never fires for a
	// connection that was replaced by a newer Connect call.
	OnError func(err error)

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewTransport creates a transport for the given service host (e.g.
// "bsky.network"). Credentials and auth may be nil for anonymous streaming.
func NewTransport(host string, credentials *Credentials, auth Authenticator, logger *slog.Logger) *Transport {
	return &Transport{
		host:        host,
		scheme:      "wss",
		credentials: credentials,
		auth:        auth,
		logger:      logger,
	}
}

// Connect terminates any previous connection and dials the firehose. A
// non-zero cursor is passed as the resume point. Frames are delivered on a
// reader goroutine until the connection fails or is replaced.
func (t *Transport) Connect(ctx context.Context, cursor int64) error {
	if t.credentials != nil && t.auth != nil {
		if err := t.auth.Login(ctx, t.credentials.Username, t.credentials.Password); err != nil {
			return fmt.Errorf("login before connect: %w", err)
		}
	}

	// Terminate any prior connection before dialing so two live
	// connections never overlap, not even for the dial window.
	t.mu.Lock()
	prev := t.conn
	t.conn = nil
	t.mu.Unlock()
	if prev != nil {
		prev.Close()
	}

	u := url.URL{Scheme: t.scheme, Host: t.host, Path: subscribeReposPath}
	if cursor > 0 {
		q := u.Query()
		q.Set("cursor", fmt.Sprintf("%d", cursor))
		u.RawQuery = q.Encode()
	}

	t.logger.Info("connecting to firehose", "url", u.String())

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("dial firehose: %w", err)
	}

	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()

	if t.OnOpen != nil {
		t.OnOpen()
	}

	go t.readLoop(conn)

	return nil
}

// Close terminates the current connection, if any.
func (t *Transport) Close() error {
	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()

	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (t *Transport) readLoop(conn *websocket.Conn) {
	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			t.mu.Lock()
			current := t.conn == conn
			t.mu.Unlock()

			// A replaced or closed connection is expected to fail its read;
			// only the live connection's errors reach the owner.
			if current && t.OnError != nil {
				t.OnError(err)
			}
			return
		}

		if t.OnFrame != nil {
			t.OnFrame(frame)
		}
	}
}
