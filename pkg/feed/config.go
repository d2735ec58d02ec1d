package feed

import (
	"net/url"
	"os"
	"time"

	"github.com/deskstream/deskstream/internal/codec"
	"github.com/deskstream/deskstream/pkg/logger"
)

const (
	// DefaultTimeout bounds each RPC round trip (subscribe, unsubscribe,
	// authenticate). Zero disables the bound and leaves deadlines to the
	// caller's context.
	DefaultTimeout = 10 * time.Second

	// DefaultEventBuffer is the per-subscription delivery buffer. The sync
	// core drains promptly, so the buffer only has to absorb short bursts.
	DefaultEventBuffer = 100
)

// Config carries everything needed to establish a feed connection.
type Config struct {
	// URL is the backend endpoint, e.g. wss://desk.example.com. The /rpc
	// path is appended when dialing.
	URL *url.URL

	Marshaler   codec.Marshaler
	Unmarshaler codec.Unmarshaler
	Logger      logger.Logger

	Timeout     time.Duration
	EventBuffer int
}

// NewConfig returns a Config with the CBOR codec and stderr logging. It is
// not mandatory to build configs through here, but it ensures every field
// the connection needs is populated.
func NewConfig(u *url.URL) *Config {
	c := codec.NewCBOR()
	return &Config{
		URL:         u,
		Marshaler:   c,
		Unmarshaler: c,
		Logger:      logger.New(os.Stderr),
		Timeout:     DefaultTimeout,
		EventBuffer: DefaultEventBuffer,
	}
}
