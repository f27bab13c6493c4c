package sequence

import (
	"sync"

	"github.com/pkg/errors"
)

// Alphabet maps upper-case symbols onto dense codes 0..Size()-1. An alphabet
// is reverse-complementable when every symbol has a complement.
type Alphabet struct {
	name       string
	symbols    string
	complement []byte // code -> complement code, nil if not complementable
	index      [256]int16
}

var (
	// DNA is the four letter nucleotide alphabet with Watson-Crick complements.
	DNA = MustNewAlphabet("DNA", "ACGT", "TGCA")
	// Binary is the two letter alphabet {0, 1}. It has no complement.
	Binary = MustNewAlphabet("binary", "01", "")

	registryMu sync.RWMutex
	registry   = map[string]*Alphabet{}
)

func init() {
	Register(DNA)
	Register(Binary)
}

// NewAlphabet creates an alphabet from its symbols. complements is either
// empty or lists, position by position, the complement of each symbol.
func NewAlphabet(name, symbols, complements string) (*Alphabet, error) {
	if name == "" {
		return nil, errors.New("alphabet name must not be empty")
	}
	if len(symbols) == 0 || len(symbols) > 255 {
		return nil, errors.Errorf("alphabet %q: need 1..255 symbols, got %d", name, len(symbols))
	}
	a := &Alphabet{name: name, symbols: symbols}
	for i := range a.index {
		a.index[i] = -1
	}
	for i := 0; i < len(symbols); i++ {
		c := symbols[i]
		if a.index[c] >= 0 {
			return nil, errors.Errorf("alphabet %q: duplicate symbol %q", name, c)
		}
		a.index[c] = int16(i)
	}
	if complements != "" {
		if len(complements) != len(symbols) {
			return nil, errors.Errorf("alphabet %q: %d complements for %d symbols", name, len(complements), len(symbols))
		}
		a.complement = make([]byte, len(symbols))
		for i := 0; i < len(complements); i++ {
			code := a.index[complements[i]]
			if code < 0 {
				return nil, errors.Errorf("alphabet %q: complement %q is not a symbol", name, complements[i])
			}
			a.complement[i] = byte(code)
		}
	}
	return a, nil
}

// MustNewAlphabet is like NewAlphabet but panics on error.
func MustNewAlphabet(name, symbols, complements string) *Alphabet {
	a, err := NewAlphabet(name, symbols, complements)
	if err != nil {
		panic(err)
	}
	return a
}

// Register makes a known to Lookup, which is how persisted models find their
// alphabet again.
func Register(a *Alphabet) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[a.name] = a
}

// Lookup returns the registered alphabet with the given name.
func Lookup(name string) (*Alphabet, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	a, ok := registry[name]
	return a, ok
}

func (a *Alphabet) Name() string { return a.name }

func (a *Alphabet) Size() int { return len(a.symbols) }

// Symbol returns the symbol for code.
func (a *Alphabet) Symbol(code byte) byte { return a.symbols[code] }

// Code returns the code of symbol sym.
func (a *Alphabet) Code(sym byte) (byte, bool) {
	if sym >= 'a' && sym <= 'z' && a.index[sym] < 0 {
		sym -= 'a' - 'A'
	}
	c := a.index[sym]
	if c < 0 {
		return 0, false
	}
	return byte(c), true
}

// Complementable reports whether sequences over a can be reverse complemented.
func (a *Alphabet) Complementable() bool { return a.complement != nil }

// Complement returns the complement code of code. It panics if the alphabet
// is not complementable.
func (a *Alphabet) Complement(code byte) byte { return a.complement[code] }

// Equal reports whether a and b describe the same symbols and complements.
func (a *Alphabet) Equal(b *Alphabet) bool {
	if a == b {
		return true
	}
	if a == nil || b == nil || a.symbols != b.symbols || len(a.complement) != len(b.complement) {
		return false
	}
	for i := range a.complement {
		if a.complement[i] != b.complement[i] {
			return false
		}
	}
	return true
}

func (a *Alphabet) String() string { return a.name + "{" + a.symbols + "}" }
