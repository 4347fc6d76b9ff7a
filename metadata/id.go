package metadata

import (
	"fmt"
	"math/big"
	"math/bits"
)

// ID is an unsigned arbitrary-precision chunk index.
//
// Indices at shallow depths fit comfortably in a uint64, so ID keeps a
// uint64 fast path and only spills into a big.Int once arithmetic
// overflows. The zero value is the root index 0.
type ID struct {
	lo  uint64
	big *big.Int // nil while the value fits in lo
}

// NewID returns an ID holding the given uint64 value.
func NewID(v uint64) ID {
	return ID{lo: v}
}

// ParseID parses a base-10 ID string.
func ParseID(s string) (ID, error) {
	b, ok := new(big.Int).SetString(s, 10)
	if !ok || b.Sign() < 0 {
		return ID{}, fmt.Errorf("invalid id %q", s)
	}
	return fromBig(b), nil
}

func fromBig(b *big.Int) ID {
	if b.IsUint64() {
		return ID{lo: b.Uint64()}
	}
	return ID{big: b}
}

func (id ID) toBig() *big.Int {
	if id.big != nil {
		return id.big
	}
	return new(big.Int).SetUint64(id.lo)
}

// Uint64 returns the value and whether it fits in a uint64.
func (id ID) Uint64() (uint64, bool) {
	if id.big == nil {
		return id.lo, true
	}
	return 0, false
}

// Simple returns the low 64 bits. Callers use it only after routing has
// bounded the value (e.g. chunk offsets below pointsPerChunk).
func (id ID) Simple() uint64 {
	if id.big == nil {
		return id.lo
	}
	return id.big.Uint64()
}

// String returns the base-10 representation.
func (id ID) String() string {
	if id.big == nil {
		return fmt.Sprintf("%d", id.lo)
	}
	return id.big.String()
}

// Add returns id + other.
func (id ID) Add(other ID) ID {
	if id.big == nil && other.big == nil {
		sum, carry := bits.Add64(id.lo, other.lo, 0)
		if carry == 0 {
			return ID{lo: sum}
		}
	}
	return fromBig(new(big.Int).Add(id.toBig(), other.toBig()))
}

// AddUint64 returns id + v.
func (id ID) AddUint64(v uint64) ID {
	return id.Add(ID{lo: v})
}

// Sub returns id - other. Underflow is a caller bug; routing arithmetic
// never subtracts a larger index from a smaller one.
func (id ID) Sub(other ID) ID {
	if id.big == nil && other.big == nil && other.lo <= id.lo {
		return ID{lo: id.lo - other.lo}
	}
	return fromBig(new(big.Int).Sub(id.toBig(), other.toBig()))
}

// Mul returns id * v.
func (id ID) Mul(v uint64) ID {
	if id.big == nil {
		hi, lo := bits.Mul64(id.lo, v)
		if hi == 0 {
			return ID{lo: lo}
		}
	}
	return fromBig(new(big.Int).Mul(id.toBig(), new(big.Int).SetUint64(v)))
}

// DivMod returns (id / v, id mod v).
func (id ID) DivMod(v uint64) (ID, uint64) {
	if id.big == nil {
		return ID{lo: id.lo / v}, id.lo % v
	}
	q, m := new(big.Int).QuoRem(id.toBig(), new(big.Int).SetUint64(v), new(big.Int))
	return fromBig(q), m.Uint64()
}

// Lsh returns id << n.
func (id ID) Lsh(n uint) ID {
	if id.big == nil && n < 64 && bits.LeadingZeros64(id.lo) >= int(n) {
		return ID{lo: id.lo << n}
	}
	return fromBig(new(big.Int).Lsh(id.toBig(), n))
}

// Rsh returns id >> n.
func (id ID) Rsh(n uint) ID {
	if id.big == nil {
		if n >= 64 {
			return ID{}
		}
		return ID{lo: id.lo >> n}
	}
	return fromBig(new(big.Int).Rsh(id.toBig(), n))
}

// Cmp returns -1, 0, or +1 comparing id against other.
func (id ID) Cmp(other ID) int {
	if id.big == nil && other.big == nil {
		switch {
		case id.lo < other.lo:
			return -1
		case id.lo > other.lo:
			return 1
		default:
			return 0
		}
	}
	return id.toBig().Cmp(other.toBig())
}

// Less reports id < other.
func (id ID) Less(other ID) bool { return id.Cmp(other) < 0 }

// Equal reports id == other.
func (id ID) Equal(other ID) bool { return id.Cmp(other) == 0 }

// MarshalText implements encoding.TextMarshaler for JSON map keys and
// metadata fields.
func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *ID) UnmarshalText(text []byte) error {
	parsed, err := ParseID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
