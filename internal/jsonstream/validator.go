package jsonstream

import (
	"bytes"
	"fmt"
	"time"
)

// Config holds the structural limits enforced per request body.
type Config struct {
	MaxChunkSize   int           // largest single chunk accepted
	MaxTotalSize   int           // cumulative byte limit for the document
	MaxDepth       int           // maximum nesting depth
	MaxArrayLength int           // maximum elements per array
	ChunkTimeout   time.Duration // caller's per-chunk read deadline
}

// DefaultConfig returns the limits used when none are configured.
func DefaultConfig() Config {
	return Config{
		MaxChunkSize:   64 * 1024,
		MaxTotalSize:   10 * 1024 * 1024,
		MaxDepth:       64,
		MaxArrayLength: 10000,
		ChunkTimeout:   30 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxChunkSize <= 0 {
		c.MaxChunkSize = d.MaxChunkSize
	}
	if c.MaxTotalSize <= 0 {
		c.MaxTotalSize = d.MaxTotalSize
	}
	if c.MaxDepth <= 0 {
		c.MaxDepth = d.MaxDepth
	}
	if c.MaxArrayLength <= 0 {
		c.MaxArrayLength = d.MaxArrayLength
	}
	if c.ChunkTimeout <= 0 {
		c.ChunkTimeout = d.ChunkTimeout
	}
	return c
}

// Result is the outcome of feeding one chunk to the validator.
type Result struct {
	Valid         bool
	Err           error
	IsComplete    bool
	NeedsMoreData bool
}

// Validator incrementally checks structural limits on a chunked JSON
// document. Not safe for concurrent use; one instance per request.
type Validator struct {
	cfg Config

	depth          int
	inString       bool
	escaped        bool
	arrayLens      []int
	bytesProcessed int
	buf            bytes.Buffer
	complete       bool
	failure        error
}

// NewValidator creates a validator with the given limits.
func NewValidator(cfg Config) *Validator {
	return &Validator{cfg: cfg.withDefaults()}
}

// Config returns the limits this validator enforces.
func (v *Validator) Config() Config {
	return v.cfg
}

// BytesProcessed returns the cumulative number of bytes scanned.
func (v *Validator) BytesProcessed() int {
	return v.bytesProcessed
}

// Bytes returns the accumulated document for the single post-completion
// parse.
func (v *Validator) Bytes() []byte {
	return v.buf.Bytes()
}

// ValidateChunk scans one chunk. Chunks must arrive in order; a failed
// result is terminal for the request. Chunk boundaries may fall anywhere,
// including inside string content or an escape sequence.
func (v *Validator) ValidateChunk(chunk []byte) Result {
	if v.failure != nil {
		return Result{Err: v.failure}
	}
	if v.complete {
		return Result{Valid: true, IsComplete: true}
	}

	if len(chunk) > v.cfg.MaxChunkSize {
		return v.fail(&StructureError{Kind: LimitSize, Limit: v.cfg.MaxChunkSize, Actual: len(chunk)})
	}

	// Size accounting happens before per-character scanning so oversized
	// input is rejected without wasted work.
	if v.bytesProcessed+len(chunk) > v.cfg.MaxTotalSize {
		return v.fail(&StructureError{Kind: LimitSize, Limit: v.cfg.MaxTotalSize, Actual: v.bytesProcessed + len(chunk)})
	}

	v.buf.Write(chunk)
	v.bytesProcessed += len(chunk)

	for _, c := range chunk {
		if err := v.scan(c); err != nil {
			return v.fail(err)
		}
	}

	v.complete = v.depth == 0 && v.bytesProcessed > 0 && !v.inString

	return Result{Valid: true, IsComplete: v.complete, NeedsMoreData: !v.complete}
}

func (v *Validator) scan(c byte) error {
	if v.escaped {
		v.escaped = false
		return nil
	}

	if c == '\\' && v.inString {
		v.escaped = true
		return nil
	}

	if c == '"' {
		v.inString = !v.inString
		return nil
	}

	if v.inString {
		return nil
	}

	switch c {
	case '{', '[':
		v.depth++
		if c == '[' {
			v.arrayLens = append(v.arrayLens, 0)
		}
		if v.depth > v.cfg.MaxDepth {
			return &StructureError{Kind: LimitDepth, Limit: v.cfg.MaxDepth, Actual: v.depth}
		}

	case '}', ']':
		if v.depth == 0 {
			return &MalformedPayloadError{Err: fmt.Errorf("unmatched %q", c)}
		}
		v.depth--
		if c == ']' && len(v.arrayLens) > 0 {
			v.arrayLens = v.arrayLens[:len(v.arrayLens)-1]
		}

	case ',':
		if n := len(v.arrayLens); n > 0 {
			v.arrayLens[n-1]++
			// commas+1 elements so far; exactly MaxArrayLength is fine
			if v.arrayLens[n-1]+1 > v.cfg.MaxArrayLength {
				return &StructureError{Kind: LimitArray, Limit: v.cfg.MaxArrayLength, Actual: v.arrayLens[n-1] + 1}
			}
		}
	}

	return nil
}

func (v *Validator) fail(err error) Result {
	v.failure = err
	return Result{Err: err}
}

// Complete reports whether the full document has arrived.
func (v *Validator) Complete() bool {
	return v.complete
}

// Reset clears all state so the instance can serve another request.
func (v *Validator) Reset() {
	v.depth = 0
	v.inString = false
	v.escaped = false
	v.arrayLens = v.arrayLens[:0]
	v.bytesProcessed = 0
	v.buf.Reset()
	v.complete = false
	v.failure = nil
}
