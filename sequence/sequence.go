package sequence

import (
	"strings"

	"github.com/pkg/errors"
)

// ErrNotComplementable is returned when a reverse complement is requested for
// a sequence whose alphabet has no complement.
var ErrNotComplementable = errors.New("alphabet is not reverse-complementable")

// Sequence is an immutable run of symbol codes over an alphabet.
type Sequence struct {
	alphabet *Alphabet
	codes    []byte
	id       string
}

// New encodes s over a.
func New(a *Alphabet, s string) (Sequence, error) {
	codes := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		c, ok := a.Code(s[i])
		if !ok {
			return Sequence{}, errors.Errorf("symbol %q at position %d is not in alphabet %s", s[i], i, a)
		}
		codes[i] = c
	}
	return Sequence{alphabet: a, codes: codes}, nil
}

// MustNew is like New but panics on error.
func MustNew(a *Alphabet, s string) Sequence {
	seq, err := New(a, s)
	if err != nil {
		panic(err)
	}
	return seq
}

// FromCodes wraps codes without copying.
func FromCodes(a *Alphabet, codes []byte) Sequence {
	return Sequence{alphabet: a, codes: codes}
}

// Encode encodes every string of ss over a.
func Encode(a *Alphabet, ss ...string) ([]Sequence, error) {
	out := make([]Sequence, len(ss))
	for i, s := range ss {
		seq, err := New(a, s)
		if err != nil {
			return nil, errors.Wrapf(err, "sequence %d", i)
		}
		out[i] = seq
	}
	return out, nil
}

func (s Sequence) Alphabet() *Alphabet { return s.alphabet }

func (s Sequence) Len() int { return len(s.codes) }

// At returns the code at position i.
func (s Sequence) At(i int) int { return int(s.codes[i]) }

// ID returns the identifier the sequence was read with, if any.
func (s Sequence) ID() string { return s.id }

// WithID returns a copy of s carrying id.
func (s Sequence) WithID(id string) Sequence {
	s.id = id
	return s
}

// ReverseComplement returns the reverse complement of s.
func (s Sequence) ReverseComplement() (Sequence, error) {
	if s.alphabet == nil || !s.alphabet.Complementable() {
		return Sequence{}, ErrNotComplementable
	}
	n := len(s.codes)
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		out[i] = s.alphabet.Complement(s.codes[n-1-i])
	}
	return Sequence{alphabet: s.alphabet, codes: out, id: s.id}, nil
}

func (s Sequence) String() string {
	if s.alphabet == nil {
		return ""
	}
	var b strings.Builder
	b.Grow(len(s.codes))
	for _, c := range s.codes {
		b.WriteByte(s.alphabet.Symbol(c))
	}
	return b.String()
}
