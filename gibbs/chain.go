package gibbs

import (
	"bufio"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

var (
	// ErrChainBusy is returned when a chain is opened for replay while it is
	// being written, or when a second chain is extended before Stop.
	ErrChainBusy = errors.New("chain is open for writing")
	// ErrNoChain is returned for chain indices outside the initialised range.
	ErrNoChain = errors.New("no such chain")
	// ErrNotWriting is returned by Append when no chain is being extended.
	ErrNotWriting = errors.New("no chain is open for writing")
)

// ChainStore keeps one append-only trajectory file per sampling chain. Every
// line holds the step counter followed by the sampled values, tab separated.
//
// A chain is either being written (between Extend and Stop) or replayed
// (Parse / ParseNext), never both. Files are created lazily in Dir and are
// removed by Close.
type ChainStore struct {
	dir    string
	prefix string

	files   []string // "" until the chain is first extended
	counter []int

	active int // chain being written, -1 if none
	wf     *os.File
	w      *bufio.Writer

	reading int // chain being replayed, -1 if none
	rf      *os.File
	r       *bufio.Reader
}

// NewChainStore returns an empty store that creates its files in dir (the
// system temp dir when empty) with names starting with prefix.
func NewChainStore(dir, prefix string) *ChainStore {
	if prefix == "" {
		prefix = "chain"
	}
	return &ChainStore{dir: dir, prefix: prefix, active: -1, reading: -1}
}

// Init prepares starts chains with zero steps. Existing files are truncated
// when the number of chains is unchanged and removed otherwise.
func (c *ChainStore) Init(starts int) error {
	if starts < 1 {
		return errors.Errorf("number of chains must be positive, got %d", starts)
	}
	if err := c.closeHandles(); err != nil {
		return err
	}
	if len(c.files) == starts {
		for i, f := range c.files {
			if f != "" {
				if err := os.Truncate(f, 0); err != nil {
					return errors.Wrapf(err, "truncate chain %d", i)
				}
			}
			c.counter[i] = 0
		}
		return nil
	}
	if err := c.removeFiles(); err != nil {
		return err
	}
	c.files = make([]string, starts)
	c.counter = make([]int, starts)
	return nil
}

// Chains returns the number of initialised chains.
func (c *ChainStore) Chains() int { return len(c.files) }

// Counter returns the number of steps written to chain.
func (c *ChainStore) Counter(chain int) int { return c.counter[chain] }

// Counters returns a copy of all step counters.
func (c *ChainStore) Counters() []int {
	out := make([]int, len(c.counter))
	copy(out, c.counter)
	return out
}

// Active returns the chain currently open for writing, or -1.
func (c *ChainStore) Active() int { return c.active }

// Files returns the paths of the chain files; "" marks a chain without samples.
func (c *ChainStore) Files() []string {
	out := make([]string, len(c.files))
	copy(out, c.files)
	return out
}

// Extend opens chain for appending. When the chain already holds samples the
// most recent one is returned so the caller can resume from it; otherwise the
// returned slice is nil.
func (c *ChainStore) Extend(chain int) ([]float64, error) {
	if chain < 0 || chain >= len(c.files) {
		return nil, errors.Wrapf(ErrNoChain, "extend chain %d", chain)
	}
	if c.active >= 0 {
		return nil, errors.Wrapf(ErrChainBusy, "extend chain %d while chain %d is open", chain, c.active)
	}
	var last []float64
	if c.files[chain] == "" {
		f, err := os.CreateTemp(c.dir, c.prefix+"-*.dat")
		if err != nil {
			return nil, errors.Wrapf(err, "create chain %d", chain)
		}
		c.files[chain] = f.Name()
		if err := f.Close(); err != nil {
			return nil, errors.Wrapf(err, "create chain %d", chain)
		}
	} else if c.counter[chain] > 0 {
		values, ok, err := c.Parse(chain, c.counter[chain]-1)
		if err != nil {
			return nil, err
		}
		if err := c.CloseReader(); err != nil {
			return nil, err
		}
		if ok {
			last = values
		}
	}
	if err := c.CloseReader(); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(c.files[chain], os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o600)
	if err != nil {
		return nil, errors.Wrapf(err, "open chain %d", chain)
	}
	c.wf = f
	c.w = bufio.NewWriter(f)
	c.active = chain
	return last, nil
}

// Truncate drops every sample of chain.
func (c *ChainStore) Truncate(chain int) error {
	if chain < 0 || chain >= len(c.files) {
		return errors.Wrapf(ErrNoChain, "truncate chain %d", chain)
	}
	if c.active == chain {
		return errors.Wrapf(ErrChainBusy, "truncate chain %d", chain)
	}
	if c.files[chain] != "" {
		if err := os.Truncate(c.files[chain], 0); err != nil {
			return errors.Wrapf(err, "truncate chain %d", chain)
		}
	}
	c.counter[chain] = 0
	return nil
}

// Append writes values as the next step of the active chain and advances its
// counter.
func (c *ChainStore) Append(values []float64) error {
	if c.active < 0 {
		return ErrNotWriting
	}
	var sb strings.Builder
	sb.WriteString(strconv.Itoa(c.counter[c.active]))
	for _, v := range values {
		sb.WriteByte('\t')
		sb.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
	}
	sb.WriteByte('\n')
	if _, err := c.w.WriteString(sb.String()); err != nil {
		return errors.Wrapf(err, "write chain %d", c.active)
	}
	if err := c.w.Flush(); err != nil {
		return errors.Wrapf(err, "flush chain %d", c.active)
	}
	c.counter[c.active]++
	return nil
}

// Stop flushes and closes the chain opened by Extend.
func (c *ChainStore) Stop() error {
	if c.active < 0 {
		return nil
	}
	chain := c.active
	c.active = -1
	ferr := c.w.Flush()
	cerr := c.wf.Close()
	c.w, c.wf = nil, nil
	if ferr != nil {
		return errors.Wrapf(ferr, "flush chain %d", chain)
	}
	if cerr != nil {
		return errors.Wrapf(cerr, "close chain %d", chain)
	}
	return nil
}

// Parse scans chain from the beginning up to the line of step and returns its
// values. The reader stays positioned after that line so ParseNext continues
// the replay. ok is false when the chain has no such step.
func (c *ChainStore) Parse(chain, step int) (values []float64, ok bool, err error) {
	if chain < 0 || chain >= len(c.files) {
		return nil, false, errors.Wrapf(ErrNoChain, "parse chain %d", chain)
	}
	if c.active == chain {
		return nil, false, errors.Wrapf(ErrChainBusy, "parse chain %d", chain)
	}
	if err := c.CloseReader(); err != nil {
		return nil, false, err
	}
	if c.files[chain] == "" {
		return nil, false, nil
	}
	f, err := os.Open(c.files[chain])
	if err != nil {
		return nil, false, errors.Wrapf(err, "open chain %d", chain)
	}
	c.rf = f
	c.r = bufio.NewReader(f)
	c.reading = chain
	for {
		s, values, ok, err := c.readLine()
		if err != nil || !ok {
			if cerr := c.CloseReader(); err == nil {
				err = cerr
			}
			return nil, false, err
		}
		if s == step {
			return values, true, nil
		}
	}
}

// ParseNext returns the values of the line following the last parsed one.
// ok is false once the chain is exhausted, at which point the reader is closed.
func (c *ChainStore) ParseNext() (values []float64, ok bool, err error) {
	if c.r == nil {
		return nil, false, nil
	}
	_, values, ok, err = c.readLine()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, c.CloseReader()
	}
	return values, true, nil
}

func (c *ChainStore) readLine() (step int, values []float64, ok bool, err error) {
	line, err := c.r.ReadString('\n')
	if err != nil && err != io.EOF {
		return 0, nil, false, errors.Wrapf(err, "read chain %d", c.reading)
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return 0, nil, false, nil
	}
	step, values, err = parseLine(line)
	if err != nil {
		return 0, nil, false, errors.Wrapf(err, "chain %d", c.reading)
	}
	return step, values, true, nil
}

func parseLine(line string) (int, []float64, error) {
	fields := strings.Split(line, "\t")
	step, err := strconv.Atoi(fields[0])
	if err != nil {
		return 0, nil, errors.Wrapf(err, "malformed step in %q", line)
	}
	values := make([]float64, 0, len(fields)-1)
	for _, f := range fields[1:] {
		if f == "" {
			continue
		}
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return 0, nil, errors.Wrapf(err, "malformed value in %q", line)
		}
		values = append(values, v)
	}
	return step, values, nil
}

// CloseReader ends a replay started by Parse.
func (c *ChainStore) CloseReader() error {
	if c.rf == nil {
		return nil
	}
	err := c.rf.Close()
	c.rf, c.r, c.reading = nil, nil, -1
	return errors.Wrap(err, "close chain reader")
}

// Contents returns the full text of every chain file, "" for chains without
// samples.
func (c *ChainStore) Contents() ([]string, error) {
	if c.active >= 0 {
		if err := c.w.Flush(); err != nil {
			return nil, errors.Wrapf(err, "flush chain %d", c.active)
		}
	}
	out := make([]string, len(c.files))
	for i, f := range c.files {
		if f == "" {
			continue
		}
		b, err := os.ReadFile(f)
		if err != nil {
			return nil, errors.Wrapf(err, "read chain %d", i)
		}
		out[i] = string(b)
	}
	return out, nil
}

// Restore replaces the store's chains with counters and contents, writing
// every non-empty content to a fresh file.
func (c *ChainStore) Restore(counters []int, contents []string) error {
	if len(counters) != len(contents) {
		return errors.Errorf("%d counters for %d chains", len(counters), len(contents))
	}
	if err := c.Close(); err != nil {
		return err
	}
	c.files = make([]string, len(contents))
	c.counter = make([]int, len(counters))
	copy(c.counter, counters)
	for i, content := range contents {
		if content == "" {
			continue
		}
		f, err := os.CreateTemp(c.dir, c.prefix+"-*.dat")
		if err != nil {
			return errors.Wrapf(err, "create chain %d", i)
		}
		c.files[i] = f.Name()
		_, werr := f.WriteString(content)
		cerr := f.Close()
		if werr != nil {
			return errors.Wrapf(werr, "write chain %d", i)
		}
		if cerr != nil {
			return errors.Wrapf(cerr, "write chain %d", i)
		}
	}
	return nil
}

// Clone copies every chain file into a new store. Open readers and writers are
// not carried over.
func (c *ChainStore) Clone() (*ChainStore, error) {
	clone := NewChainStore(c.dir, c.prefix)
	if c.files == nil {
		return clone, nil
	}
	contents, err := c.Contents()
	if err != nil {
		return nil, err
	}
	if err := clone.Restore(c.counter, contents); err != nil {
		clone.Close()
		return nil, err
	}
	return clone, nil
}

// Close releases open handles and deletes every chain file. The store can be
// re-initialised afterwards.
func (c *ChainStore) Close() error {
	herr := c.closeHandles()
	rerr := c.removeFiles()
	c.files, c.counter = nil, nil
	if herr != nil {
		return herr
	}
	return rerr
}

func (c *ChainStore) closeHandles() error {
	serr := c.Stop()
	rerr := c.CloseReader()
	if serr != nil {
		return serr
	}
	return rerr
}

func (c *ChainStore) removeFiles() error {
	var first error
	for i, f := range c.files {
		if f == "" {
			continue
		}
		if err := os.Remove(f); err != nil && !os.IsNotExist(err) && first == nil {
			first = errors.Wrapf(err, "remove chain %d", i)
		}
		c.files[i] = ""
	}
	return first
}
