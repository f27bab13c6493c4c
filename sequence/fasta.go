package sequence

import (
	"bufio"
	"bytes"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
)

// ReadFASTA reads every record of r and encodes it over a. Blank lines are
// skipped; a record without a header is rejected.
func ReadFASTA(r io.Reader, a *Alphabet) ([]Sequence, error) {
	br := bufio.NewReader(r)
	var (
		out  []Sequence
		id   string
		buf  []byte
		have bool
		line int
	)
	flush := func() error {
		if !have {
			return nil
		}
		seq, err := New(a, string(buf))
		if err != nil {
			return errors.Wrapf(err, "record %q", id)
		}
		out = append(out, seq.WithID(id))
		buf = buf[:0]
		return nil
	}
	for {
		raw, err := br.ReadBytes('\n')
		if len(raw) > 0 {
			line++
			raw = bytes.TrimRight(raw, "\r\n")
			switch {
			case len(raw) == 0:
			case raw[0] == '>':
				if ferr := flush(); ferr != nil {
					return nil, ferr
				}
				fields := strings.Fields(string(raw[1:]))
				id = ""
				if len(fields) > 0 {
					id = fields[0]
				}
				have = true
			default:
				if !have {
					return nil, errors.Errorf("line %d: sequence data before first header", line)
				}
				buf = append(buf, bytes.TrimSpace(raw)...)
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, "read fasta")
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return out, nil
}

// ReadFASTAFile opens path and reads it with ReadFASTA.
func ReadFASTAFile(path string, a *Alphabet) ([]Sequence, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open fasta")
	}
	defer f.Close()
	return ReadFASTA(f, a)
}
