package instrument

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/banshee-data/sweepstation/internal/monitoring"
	"github.com/banshee-data/sweepstation/internal/param"
)

// MockAddrPrefix selects the built-in mock port instead of real hardware.
// The remainder of the address after the prefix is ignored, so configs can
// label mocks ("mock:dac1") for readability.
const MockAddrPrefix = "mock:"

// DefaultReplyTimeout bounds how long a query waits for the instrument's
// reply line.
const DefaultReplyTimeout = 2 * time.Second

// Instrument is a command/reply device on a serial line. All traffic is
// serialized through one mutex so a reply is always matched to its own
// command, even when several parameters of the same instrument are polled
// concurrently.
type Instrument struct {
	name string
	addr string

	mu   sync.Mutex
	port Porter
	rd   *bufio.Reader
}

// Open connects to the instrument at addr. Addresses with the "mock:" prefix
// get an in-memory mock port; anything else is opened as a serial device
// path with the given options.
func Open(name, addr string, opts PortOptions) (*Instrument, error) {
	var port Porter
	if strings.HasPrefix(addr, MockAddrPrefix) {
		port = NewMockPort()
		monitoring.Logf("[instrument] %s: using mock port (%s)", name, addr)
	} else {
		mode, err := opts.SerialMode()
		if err != nil {
			return nil, fmt.Errorf("instrument %s: %w", name, err)
		}
		p, err := serial.Open(addr, mode)
		if err != nil {
			return nil, fmt.Errorf("instrument %s: open %s: %w", name, addr, err)
		}
		port = p
	}
	if tp, ok := port.(TimeoutPorter); ok {
		if err := tp.SetReadTimeout(DefaultReplyTimeout); err != nil {
			port.Close()
			return nil, fmt.Errorf("instrument %s: set read timeout: %w", name, err)
		}
	}
	return &Instrument{
		name: name,
		addr: addr,
		port: port,
		rd:   bufio.NewReader(port),
	}, nil
}

// NewWithPort builds an Instrument on an already-open port. Used by tests
// and by callers that manage port lifetime themselves.
func NewWithPort(name string, port Porter) *Instrument {
	return &Instrument{name: name, addr: "port:" + name, port: port, rd: bufio.NewReader(port)}
}

func (in *Instrument) Name() string { return in.name }

// Describe labels the instrument for dataset metadata.
func (in *Instrument) Describe() string { return in.name + "@" + in.addr }

func (in *Instrument) Close() error {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.port.Close()
}

// Query sends cmd and returns the single reply line, without the trailing
// newline.
func (in *Instrument) Query(cmd string) (string, error) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if err := in.send(cmd); err != nil {
		return "", err
	}
	line, err := in.rd.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("reply to %q: %w", cmd, err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// Set sends cmd without waiting for a reply.
func (in *Instrument) Set(cmd string) error {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.send(cmd)
}

func (in *Instrument) send(cmd string) error {
	if _, err := in.port.Write([]byte(cmd + "\n")); err != nil {
		return fmt.Errorf("send %q: %w", cmd, err)
	}
	return nil
}

// Param exposes one instrument setting or reading as a sweepable parameter.
// getCmd is the query command ("VOLT?"); setCmd is a fmt verb template for
// the write command ("VOLT %.6g"). An empty command disables that capability.
func (in *Instrument) Param(id param.Identity, getCmd, setCmd string) param.Parameter {
	return &serialParameter{inst: in, id: id, getCmd: getCmd, setCmd: setCmd}
}

type serialParameter struct {
	inst   *Instrument
	id     param.Identity
	getCmd string
	setCmd string
}

func (p *serialParameter) Identity() param.Identity { return p.id }
func (p *serialParameter) Readable() bool           { return p.getCmd != "" }
func (p *serialParameter) Writable() bool           { return p.setCmd != "" }

func (p *serialParameter) Read() (float64, error) {
	if p.getCmd == "" {
		return 0, param.Errf("read", p.id.Name, fmt.Errorf("no query command"))
	}
	reply, err := p.inst.Query(p.getCmd)
	if err != nil {
		return 0, param.Errf("read", p.id.Name, err)
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(reply), 64)
	if err != nil {
		return 0, param.Errf("read", p.id.Name, fmt.Errorf("bad reply %q: %w", reply, err))
	}
	return v, nil
}

func (p *serialParameter) Write(value float64) error {
	if p.setCmd == "" {
		return param.Errf("write", p.id.Name, fmt.Errorf("no set command"))
	}
	if err := p.inst.Set(fmt.Sprintf(p.setCmd, value)); err != nil {
		return param.Errf("write", p.id.Name, err)
	}
	return nil
}
