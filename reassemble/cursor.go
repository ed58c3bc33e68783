package reassemble

import (
	"errors"
	"io"

	"github.com/pithecene-io/loupe/types"
)

// Source yields frames one at a time.
// *frame.Parser and *transcript.Replayer both satisfy it.
type Source interface {
	Next() (types.StreamFrame, error)
}

// State is the view of a result after one pull.
type State struct {
	// Text is the full reassembled text so far.
	Text string
	// Fragment is the fragment appended by this pull, including any
	// inserted line break. Empty for the final state.
	Fragment string
	// Seq is the 1-based count of fragments appended so far.
	Seq int
	// Done is set once the stream has ended and the result is frozen.
	Done bool
}

// Cursor pulls frames from a source into a result, one per call.
// The presentation layer drives it: nothing is read from the source until
// the previous state has been handed back.
type Cursor struct {
	src  Source
	res  *Result
	seq  int
	done bool
	err  error
}

// NewCursor creates a cursor feeding src into res.
func NewCursor(src Source, res *Result) *Cursor {
	return &Cursor{src: src, res: res}
}

// Next pulls exactly one frame and returns the resulting state.
//
// The state with Done set is returned once, when the terminal frame arrives
// or the source ends cleanly; later calls return io.EOF. Any other source
// error freezes the result, keeping the text received so far, and is
// returned on this and every later call.
func (c *Cursor) Next() (State, error) {
	if c.err != nil {
		return State{}, c.err
	}
	if c.done {
		return State{}, io.EOF
	}

	f, err := c.src.Next()
	if errors.Is(err, io.EOF) {
		return c.finish(), nil
	}
	if err != nil {
		c.res.Freeze()
		c.err = err
		return State{}, err
	}
	if f.IsTerminal {
		if err := c.res.Append(f); err != nil {
			c.err = err
			return State{}, err
		}
		return c.finish(), nil
	}

	fragment, err := c.res.append(f)
	if err != nil {
		c.err = err
		return State{}, err
	}
	c.seq++
	return State{Text: c.res.Text(), Fragment: fragment, Seq: c.seq}, nil
}

// Drain pulls until the stream ends, calling fn with every state.
func (c *Cursor) Drain(fn func(State)) error {
	for {
		st, err := c.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if fn != nil {
			fn(st)
		}
		if st.Done {
			return nil
		}
	}
}

// Result returns the result being filled.
func (c *Cursor) Result() *Result {
	return c.res
}

func (c *Cursor) finish() State {
	c.res.Freeze()
	c.done = true
	return State{Text: c.res.Text(), Seq: c.seq, Done: true}
}
