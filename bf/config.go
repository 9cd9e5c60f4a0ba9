package bf

import (
	"fmt"
	"math"
	"math/big"
	"strings"
)

// Policy decides what happens when a value or the cell pointer would leave
// its domain.
type Policy byte

const (
	PolicyError  Policy = 'e'
	PolicyIgnore Policy = 'i' // saturate at the bound
	PolicyWrap   Policy = 'w'
)

var policyNames = map[Policy]string{
	PolicyError:  "error",
	PolicyIgnore: "ignore",
	PolicyWrap:   "wrap",
}

func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "e", "error":
		return PolicyError, nil
	case "i", "ignore", "saturate":
		return PolicyIgnore, nil
	case "w", "wrap":
		return PolicyWrap, nil
	}
	return 0, fmt.Errorf("%w: unknown overflow behaviour %q", ErrInvalidConfiguration, s)
}

func (p Policy) String() string {
	if name, ok := policyNames[p]; ok {
		return name
	}
	return fmt.Sprintf("Policy(%q)", byte(p))
}

func (p Policy) MarshalText() ([]byte, error) {
	if _, ok := policyNames[p]; !ok {
		return nil, fmt.Errorf("%w: unknown overflow behaviour %q", ErrInvalidConfiguration, byte(p))
	}
	return []byte(p.String()), nil
}

func (p *Policy) UnmarshalText(text []byte) error {
	v, err := ParsePolicy(string(text))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// EOFMode is the value stored in the current cell when input runs out.
type EOFMode byte

const (
	EOFZero      EOFMode = '0'
	EOFMin       EOFMode = 'a'
	EOFMax       EOFMode = 'b'
	EOFNegOne    EOFMode = 'n'
	EOFUnchanged EOFMode = 'x'
)

var eofNames = map[EOFMode]string{
	EOFZero:      "zero",
	EOFMin:       "min",
	EOFMax:       "max",
	EOFNegOne:    "negone",
	EOFUnchanged: "unchanged",
}

func ParseEOFMode(s string) (EOFMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "0", "zero":
		return EOFZero, nil
	case "a", "min", "minimum":
		return EOFMin, nil
	case "b", "max", "maximum":
		return EOFMax, nil
	case "n", "negone", "-1":
		return EOFNegOne, nil
	case "x", "unchanged":
		return EOFUnchanged, nil
	}
	return 0, fmt.Errorf("%w: unknown EOF behaviour %q", ErrInvalidConfiguration, s)
}

func (m EOFMode) String() string {
	if name, ok := eofNames[m]; ok {
		return name
	}
	return fmt.Sprintf("EOFMode(%q)", byte(m))
}

func (m EOFMode) MarshalText() ([]byte, error) {
	if _, ok := eofNames[m]; !ok {
		return nil, fmt.Errorf("%w: unknown EOF behaviour %q", ErrInvalidConfiguration, byte(m))
	}
	return []byte(m.String()), nil
}

func (m *EOFMode) UnmarshalText(text []byte) error {
	v, err := ParseEOFMode(string(text))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// Mode selects between printing the compiled program and running it.
type Mode byte

const (
	ModeDump Mode = 'd'
	ModeRun  Mode = 'r'
)

func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "d", "dump":
		return ModeDump, nil
	case "r", "run":
		return ModeRun, nil
	}
	return 0, fmt.Errorf("%w: unknown mode %q", ErrInvalidConfiguration, s)
}

func (m Mode) String() string {
	switch m {
	case ModeDump:
		return "dump"
	case ModeRun:
		return "run"
	default:
		return fmt.Sprintf("Mode(%q)", byte(m))
	}
}

func (m Mode) MarshalText() ([]byte, error) {
	if m != ModeDump && m != ModeRun {
		return nil, fmt.Errorf("%w: unknown mode %q", ErrInvalidConfiguration, byte(m))
	}
	return []byte(m.String()), nil
}

func (m *Mode) UnmarshalText(text []byte) error {
	v, err := ParseMode(string(text))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

const (
	DefaultMinValue = 0
	DefaultMaxValue = 255
	DefaultCells    = 30_000

	// MaxCells is the largest tape the engine will allocate.
	MaxCells = math.MaxInt32
)

// Config is everything the engine needs besides the program and its I/O.
type Config struct {
	MinValue      int64   `yaml:"min"`
	MaxValue      int64   `yaml:"max"`
	Cells         int     `yaml:"cells"`
	EOF           EOFMode `yaml:"eof"`
	ValuePolicy   Policy  `yaml:"value"`
	PointerPolicy Policy  `yaml:"pointer"`
	Mode          Mode    `yaml:"mode"`
}

func DefaultConfig() Config {
	return Config{
		MinValue:      DefaultMinValue,
		MaxValue:      DefaultMaxValue,
		Cells:         DefaultCells,
		EOF:           EOFZero,
		ValuePolicy:   PolicyWrap,
		PointerPolicy: PolicyError,
		Mode:          ModeRun,
	}
}

func (c Config) Validate() error {
	if c.MinValue > c.MaxValue {
		return fmt.Errorf("%w: minimum value %d is greater than maximum value %d", ErrInvalidConfiguration, c.MinValue, c.MaxValue)
	}
	if c.Cells <= 0 {
		return fmt.Errorf("%w: cell count must be positive, got %d", ErrInvalidConfiguration, c.Cells)
	}
	if c.Cells > MaxCells {
		return fmt.Errorf("%w: cell count %d exceeds the maximum of %d", ErrInvalidConfiguration, c.Cells, MaxCells)
	}
	if _, ok := eofNames[c.EOF]; !ok {
		return fmt.Errorf("%w: unknown EOF behaviour %q", ErrInvalidConfiguration, byte(c.EOF))
	}
	if _, ok := policyNames[c.ValuePolicy]; !ok {
		return fmt.Errorf("%w: unknown value-end behaviour %q", ErrInvalidConfiguration, byte(c.ValuePolicy))
	}
	if _, ok := policyNames[c.PointerPolicy]; !ok {
		return fmt.Errorf("%w: unknown cell-end behaviour %q", ErrInvalidConfiguration, byte(c.PointerPolicy))
	}
	if _, err := c.Mode.MarshalText(); err != nil {
		return err
	}
	return nil
}

// Wrap reduces v into [lo, hi] with floored modulo, so the result is always
// inside the range whatever the sign of v-lo. It is exact over the whole
// int64 range. Requires lo <= hi.
func Wrap(v, lo, hi int64) int64 {
	return wrapBig(big.NewInt(v), lo, hi)
}

func wrapBig(v *big.Int, lo, hi int64) int64 {
	low := big.NewInt(lo)
	width := new(big.Int).Sub(big.NewInt(hi), low)
	width.Add(width, big.NewInt(1))
	r := new(big.Int).Sub(v, low)
	r.Mod(r, width) // euclidean, never negative
	return r.Add(r, low).Int64()
}
