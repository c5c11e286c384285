package snmp

import (
	"fmt"
	"strconv"
	"strings"
)

// OID is an SNMP object identifier. OID values are treated as immutable: no
// method modifies its receiver, and methods returning an OID return a new slice.
type OID []uint32

// ParseOID parses a dotted OID such as "1.3.6.1.2.1.1" or ".1.3.6.1.2.1.1".
func ParseOID(s string) (OID, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), ".")
	if s == "" {
		return nil, fmt.Errorf("invalid OID: empty string")
	}
	parts := strings.Split(s, ".")
	oid := make(OID, len(parts))
	for i, part := range parts {
		v, err := strconv.ParseUint(part, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid OID %q: sub-identifier %d: %w", s, i, err)
		}
		oid[i] = uint32(v)
	}
	return oid, nil
}

// MustParseOID is like ParseOID but panics on error. It is intended for constants and tests.
func MustParseOID(s string) OID {
	oid, err := ParseOID(s)
	if err != nil {
		panic(err)
	}
	return oid
}

// String returns the dotted representation without a leading dot.
func (o OID) String() string {
	if len(o) == 0 {
		return ""
	}
	var b strings.Builder
	b.Grow(len(o) * 4)
	for i, sub := range o {
		if i > 0 {
			b.WriteByte('.')
		}
		b.WriteString(strconv.FormatUint(uint64(sub), 10))
	}
	return b.String()
}

// Compare returns -1, 0 or +1 depending on whether o sorts before, equal to or
// after other. Comparison is lexicographic by sub-identifier and a proper prefix
// sorts before the longer OID.
func (o OID) Compare(other OID) int {
	n := min(len(o), len(other))
	for i := 0; i < n; i++ {
		switch {
		case o[i] < other[i]:
			return -1
		case o[i] > other[i]:
			return 1
		}
	}
	switch {
	case len(o) < len(other):
		return -1
	case len(o) > len(other):
		return 1
	}
	return 0
}

// Equal reports whether o and other hold the same sub-identifiers.
func (o OID) Equal(other OID) bool {
	return o.Compare(other) == 0
}

// HasPrefix reports whether prefix is a leading part of o. An OID is a prefix of itself.
func (o OID) HasPrefix(prefix OID) bool {
	if len(prefix) > len(o) {
		return false
	}
	for i, sub := range prefix {
		if o[i] != sub {
			return false
		}
	}
	return true
}

// Within reports whether o lies strictly below root in the OID tree.
func (o OID) Within(root OID) bool {
	return len(o) > len(root) && o.HasPrefix(root)
}

// Suffix returns the sub-identifiers following the first n, such as the row
// index of a columnar instance when n is the column OID length.
func (o OID) Suffix(n int) OID {
	if n >= len(o) {
		return OID{}
	}
	return o.Clone()[n:]
}

// Append returns a new OID made of o followed by subs.
func (o OID) Append(subs ...uint32) OID {
	out := make(OID, 0, len(o)+len(subs))
	out = append(out, o...)
	return append(out, subs...)
}

// Clone returns a copy of o.
func (o OID) Clone() OID {
	if o == nil {
		return nil
	}
	out := make(OID, len(o))
	copy(out, o)
	return out
}
