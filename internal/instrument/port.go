package instrument

import (
	"io"
	"time"
)

// Porter defines the minimal interface needed for an instrument port.
// This abstraction enables unit testing without real serial hardware.
type Porter interface {
	io.ReadWriter
	io.Closer
}

// TimeoutPorter extends Porter with a read timeout. Ports that implement it
// (go.bug.st/serial does) are configured with the transport's reply timeout
// at open time.
type TimeoutPorter interface {
	Porter
	SetReadTimeout(timeout time.Duration) error
}
