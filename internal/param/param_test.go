package param

import (
	"errors"
	"math"
	"testing"
)

func TestIdentityString(t *testing.T) {
	tests := []struct {
		name string
		id   Identity
		want string
	}{
		{"label and unit", Identity{Name: "vg", Label: "Gate voltage", Unit: "V"}, "Gate voltage (V)"},
		{"no unit", Identity{Name: "idx", Label: "Index"}, "Index"},
		{"name fallback", Identity{Name: "vg", Unit: "V"}, "vg (V)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.id.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestVirtualReadWrite(t *testing.T) {
	v := NewVirtual(Identity{Name: "x"}, 1.5)

	got, err := v.Read()
	if err != nil {
		t.Fatalf("Read() error: %v", err)
	}
	if got != 1.5 {
		t.Errorf("Read() = %v, want 1.5", got)
	}

	if err := v.Write(-2.25); err != nil {
		t.Fatalf("Write() error: %v", err)
	}
	got, _ = v.Read()
	if got != -2.25 {
		t.Errorf("Read() after Write = %v, want -2.25", got)
	}
}

func TestScaledRoundTrip(t *testing.T) {
	base := NewVirtual(Identity{Name: "raw"}, 0)
	s, err := NewScaled(Identity{Name: "vdiv", Unit: "mV"}, base, 0.01, -0.5)
	if err != nil {
		t.Fatalf("NewScaled: %v", err)
	}

	// Writing the reported value must set the raw value through the inverse
	// transform.
	if err := s.Write(1.0); err != nil {
		t.Fatalf("Write: %v", err)
	}
	raw, _ := base.Read()
	if math.Abs(raw-150.0) > 1e-12 {
		t.Errorf("raw = %v, want 150", raw)
	}

	got, err := s.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if math.Abs(got-1.0) > 1e-12 {
		t.Errorf("Read() = %v, want 1.0", got)
	}
}

func TestScaledZeroGain(t *testing.T) {
	base := NewVirtual(Identity{Name: "raw"}, 0)
	if _, err := NewScaled(Identity{Name: "bad"}, base, 0, 0); err == nil {
		t.Fatal("expected error for zero gain")
	}
}

func TestInstrumentErrorUnwrap(t *testing.T) {
	inner := errors.New("port closed")
	err := Errf("read", "vg", inner)

	var ie *InstrumentError
	if !errors.As(err, &ie) {
		t.Fatalf("errors.As failed for %T", err)
	}
	if ie.Op != "read" || ie.Param != "vg" {
		t.Errorf("InstrumentError = %+v", ie)
	}
	if !errors.Is(err, inner) {
		t.Error("errors.Is did not find wrapped error")
	}
}

func TestFuncCapabilities(t *testing.T) {
	readOnly := &Func{
		ID:       Identity{Name: "temp"},
		ReadFunc: func() (float64, error) { return 4.2, nil },
	}
	if !readOnly.Readable() || readOnly.Writable() {
		t.Errorf("capabilities = (%v, %v), want (true, false)", readOnly.Readable(), readOnly.Writable())
	}
	if err := readOnly.Write(1); err == nil {
		t.Error("Write on read-only parameter should fail")
	}
	v, err := readOnly.Read()
	if err != nil || v != 4.2 {
		t.Errorf("Read() = %v, %v", v, err)
	}
}
