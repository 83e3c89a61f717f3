package param

import "fmt"

// Scaled wraps a base parameter and applies an affine transform on read:
//
//	reported = gain*raw + offset
//
// and the exact inverse on write. Its identity is independent of the base
// parameter's, so a voltage source behind a 1:100 divider can present itself
// as the divided voltage with its own name and unit.
type Scaled struct {
	id     Identity
	base   Parameter
	gain   float64
	offset float64
}

// NewScaled creates a Scaled view over base. Gain must be non-zero or the
// inverse transform on write is undefined.
func NewScaled(id Identity, base Parameter, gain, offset float64) (*Scaled, error) {
	if gain == 0 {
		return nil, fmt.Errorf("scaled parameter %q: gain must be non-zero", id.Name)
	}
	return &Scaled{id: id, base: base, gain: gain, offset: offset}, nil
}

func (s *Scaled) Identity() Identity { return s.id }
func (s *Scaled) Readable() bool     { return s.base.Readable() }
func (s *Scaled) Writable() bool     { return s.base.Writable() }

func (s *Scaled) Read() (float64, error) {
	raw, err := s.base.Read()
	if err != nil {
		return 0, err
	}
	return s.gain*raw + s.offset, nil
}

func (s *Scaled) Write(value float64) error {
	return s.base.Write((value - s.offset) / s.gain)
}
