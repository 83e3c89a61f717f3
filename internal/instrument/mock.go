package instrument

import (
	"bytes"
	"errors"
	"strconv"
	"strings"
	"sync"
)

// MockPort emulates a command/reply instrument in memory. It understands two
// command shapes on its write side:
//
//	NAME?        query, replies with the register value and a newline
//	NAME <num>   set, stores the value in the register
//
// Unset registers read as 0, so a mock behaves like an idle instrument with
// every output at zero. Useful for dry runs and tests.
type MockPort struct {
	mu        sync.Mutex
	registers map[string]float64
	pending   bytes.Buffer // reply bytes not yet read
	closed    bool

	// Commands records every line written, in order.
	Commands []string
}

func NewMockPort() *MockPort {
	return &MockPort{registers: make(map[string]float64)}
}

// SetRegister seeds a register value, for tests that need a nonzero reading.
func (m *MockPort) SetRegister(name string, v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.registers[name] = v
}

// Register returns the current value of a register.
func (m *MockPort) Register(name string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.registers[name]
}

func (m *MockPort) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, errors.New("mock port closed")
	}
	for _, line := range strings.Split(string(p), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		m.Commands = append(m.Commands, line)
		m.handle(line)
	}
	return len(p), nil
}

func (m *MockPort) handle(line string) {
	if name, ok := strings.CutSuffix(line, "?"); ok {
		m.pending.WriteString(strconv.FormatFloat(m.registers[name], 'g', -1, 64))
		m.pending.WriteByte('\n')
		return
	}
	if i := strings.LastIndexByte(line, ' '); i > 0 {
		if v, err := strconv.ParseFloat(line[i+1:], 64); err == nil {
			m.registers[line[:i]] = v
		}
	}
}

func (m *MockPort) Read(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, errors.New("mock port closed")
	}
	return m.pending.Read(p)
}

func (m *MockPort) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
