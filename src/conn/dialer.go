package conn

import (
	"fmt"
	"net/http"
	"time"

	"github.com/fasthttp/websocket"

	"github.com/waseem2959/flextasker-realtime/src/types"
)

// Dialer opens the websocket channel. The default implementation uses
// fasthttp/websocket; tests substitute an in-memory dialer.
type Dialer interface {
	Dial(url string, header http.Header) (types.Conn, error)
}

type wsDialer struct {
	handshakeTimeout time.Duration
}

func (d wsDialer) Dial(url string, header http.Header) (types.Conn, error) {
	dialer := &websocket.Dialer{HandshakeTimeout: d.handshakeTimeout}
	c, resp, err := dialer.Dial(url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %s)", url, err, resp.Status)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return c, nil
}
