package connection

import (
	"errors"
	"net/http"
	"time"

	"github.com/rickgao/tqsdk-go/internal/metrics"
)

// Errors
var (
	ErrNotConnected    = errors.New("not connected")
	ErrStaleConnection = errors.New("connection stale (no ping)")
	ErrAlreadyClosed   = errors.New("already closed")
	// ErrPermissionDenied is returned when the server rejects the handshake
	// for a policy reason. It is never retried.
	ErrPermissionDenied = errors.New("backtest permission denied")
)

// Handshake header the server sets when it refuses a session by policy.
const (
	authCheckHeader = "x-shinny-auth-check"
	authCheckDenied = "Backtest Permission Denied"
)

// TimestampedMessage wraps raw message data with receive timestamp.
type TimestampedMessage struct {
	Data       []byte    // Raw message bytes from WebSocket
	ReceivedAt time.Time // Local timestamp when ReadMessage() returned
}

// ClientConfig configures a WebSocket client.
type ClientConfig struct {
	URL              string        // WebSocket URL (e.g., wss://openmd.shinnytech.com/t/md/front/mobile)
	Header           http.Header   // Extra handshake headers (User-Agent, Authorization, ...)
	PingTimeout      time.Duration // Max time without ping before considering connection stale
	WriteTimeout     time.Duration // Write deadline for sends
	HandshakeTimeout time.Duration // Dial timeout
	BufferSize       int           // Message channel buffer size
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		PingTimeout:      60 * time.Second,
		WriteTimeout:     5 * time.Second,
		HandshakeTimeout: 10 * time.Second,
		BufferSize:       1000,
	}
}

// SessionConfig configures a reconnecting Session.
type SessionConfig struct {
	Client ClientConfig
	// ConnID tags log lines and notifies. Empty means a generated id.
	ConnID string
	// Metrics is optional.
	Metrics *metrics.Collectors
}

// Notify contents. The codes are in protocol.
const (
	contentConnected    = "connection to %s established"
	contentReconnected  = "connection to %s restored"
	contentReconnecting = "reconnecting to %s"
	contentDisconnected = "connection to %s lost, check the client and the network"
)

// Request limits the server enforces. Exceeding them only warns.
const (
	maxInsListLength    = 100000
	subscribesPerSecond = 100
)
