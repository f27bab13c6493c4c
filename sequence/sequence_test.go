package sequence

import (
	"strings"
	"testing"
)

func TestReverseComplement(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "simple", in: "AGTC", want: "GACT"},
		{name: "palindrome", in: "ACGT", want: "ACGT"},
		{name: "lower case", in: "aacg", want: "CGTT"},
		{name: "empty", in: "", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := New(DNA, tt.in)
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			rc, err := s.ReverseComplement()
			if err != nil {
				t.Fatalf("ReverseComplement() error = %v", err)
			}
			if got := rc.String(); got != tt.want {
				t.Errorf("ReverseComplement(%s) = %s, want %s", tt.in, got, tt.want)
			}
		})
	}
}

func TestReverseComplementNotComplementable(t *testing.T) {
	s := MustNew(Binary, "0110")
	if _, err := s.ReverseComplement(); err != ErrNotComplementable {
		t.Errorf("ReverseComplement() error = %v, want %v", err, ErrNotComplementable)
	}
}

func TestNewRejectsUnknownSymbol(t *testing.T) {
	if _, err := New(DNA, "ACNT"); err == nil {
		t.Error("New() accepted a symbol outside the alphabet")
	}
}

func TestNewAlphabet(t *testing.T) {
	tests := []struct {
		name        string
		symbols     string
		complements string
		wantErr     bool
	}{
		{name: "valid", symbols: "AB", complements: "BA"},
		{name: "no complement", symbols: "XYZ"},
		{name: "empty", symbols: "", wantErr: true},
		{name: "duplicate", symbols: "AA", wantErr: true},
		{name: "complement length", symbols: "AB", complements: "B", wantErr: true},
		{name: "unknown complement", symbols: "AB", complements: "BC", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewAlphabet("test", tt.symbols, tt.complements)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewAlphabet() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLookup(t *testing.T) {
	a, ok := Lookup("DNA")
	if !ok || a != DNA {
		t.Fatalf("Lookup(DNA) = %v, %v", a, ok)
	}
	if _, ok := Lookup("no-such-alphabet"); ok {
		t.Error("Lookup() found an unregistered alphabet")
	}
	if !DNA.Equal(MustNewAlphabet("copy", "ACGT", "TGCA")) {
		t.Error("Equal() = false for identical alphabets")
	}
	if DNA.Equal(Binary) {
		t.Error("Equal() = true for different alphabets")
	}
}

func TestReadFASTA(t *testing.T) {
	input := ">seq1 first record\nACGT\nAC\n\n>seq2\nttgg\n"
	seqs, err := ReadFASTA(strings.NewReader(input), DNA)
	if err != nil {
		t.Fatalf("ReadFASTA() error = %v", err)
	}
	if len(seqs) != 2 {
		t.Fatalf("ReadFASTA() returned %d records, want 2", len(seqs))
	}
	if seqs[0].ID() != "seq1" || seqs[0].String() != "ACGTAC" {
		t.Errorf("record 0 = %s %s", seqs[0].ID(), seqs[0])
	}
	if seqs[1].ID() != "seq2" || seqs[1].String() != "TTGG" {
		t.Errorf("record 1 = %s %s", seqs[1].ID(), seqs[1])
	}
}

func TestReadFASTAErrors(t *testing.T) {
	if _, err := ReadFASTA(strings.NewReader("ACGT\n"), DNA); err == nil {
		t.Error("ReadFASTA() accepted data before a header")
	}
	if _, err := ReadFASTA(strings.NewReader(">x\nACXT\n"), DNA); err == nil {
		t.Error("ReadFASTA() accepted an unknown symbol")
	}
}
