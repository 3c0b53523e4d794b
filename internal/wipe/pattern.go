package wipe

import (
	cryptorand "crypto/rand"
	"math/rand/v2"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
)

// Method is a fill pattern for free-space passes.
type Method string

const (
	MethodZeros  Method = "zeros"
	MethodOnes   Method = "ones"
	MethodRandom Method = "random"
	Method3487   Method = "3487"
)

// Methods lists every method in rotation order.
var Methods = []Method{MethodZeros, MethodRandom, MethodOnes, Method3487}

// ParseMethod validates a method name.
func ParseMethod(s string) (Method, error) {
	m := Method(strings.ToLower(strings.TrimSpace(s)))
	switch m {
	case MethodZeros, MethodOnes, MethodRandom, Method3487:
		return m, nil
	default:
		return "", errors.Newf("unsupported wipe method: %s", s)
	}
}

// Next returns the method that follows m when cycling between passes:
// zeros -> random -> ones -> 3487 -> zeros.
func (m Method) Next() Method {
	for i, candidate := range Methods {
		if candidate == m {
			return Methods[(i+1)%len(Methods)]
		}
	}
	return MethodZeros
}

func (m Method) String() string { return string(m) }

var pattern3487 = []byte("3487")

// PatternGenerator fills buffers for a method. Random data comes from a
// ChaCha8 stream seeded once from crypto/rand; it is a fast uniform stream,
// not a key source. Safe for concurrent use.
type PatternGenerator struct {
	mu  sync.Mutex
	rng *rand.ChaCha8
}

func NewPatternGenerator() *PatternGenerator {
	var seed [32]byte
	if _, err := cryptorand.Read(seed[:]); err != nil {
		// crypto/rand does not fail on supported Linux kernels.
		panic(errors.Wrap(err, "seed pattern generator"))
	}
	return &PatternGenerator{rng: rand.NewChaCha8(seed)}
}

// NewSeededPatternGenerator gives a reproducible stream.
func NewSeededPatternGenerator(seed [32]byte) *PatternGenerator {
	return &PatternGenerator{rng: rand.NewChaCha8(seed)}
}

// Fill overwrites buf with the pattern for method.
func (g *PatternGenerator) Fill(method Method, buf []byte) error {
	switch method {
	case MethodZeros:
		clear(buf)
	case MethodOnes:
		for i := range buf {
			buf[i] = 0xFF
		}
	case Method3487:
		tile(buf, pattern3487)
	case MethodRandom:
		g.mu.Lock()
		_, _ = g.rng.Read(buf)
		g.mu.Unlock()
	default:
		return errors.Newf("unsupported wipe method: %s", method)
	}
	return nil
}

// Chunk returns a new buffer of size bytes filled for method.
func (g *PatternGenerator) Chunk(method Method, size int) ([]byte, error) {
	if size < 0 {
		return nil, errors.Newf("negative chunk size %d", size)
	}
	buf := make([]byte, size)
	if err := g.Fill(method, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func tile(buf, unit []byte) {
	if len(buf) == 0 {
		return
	}
	n := copy(buf, unit)
	for n < len(buf) {
		n += copy(buf[n:], buf[:n])
	}
}

const filenameAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// RandomFilename returns prefix_middle_suffix.ext with alphanumeric parts
// of 10-20, 15-25, 5-10 and 3-4 characters.
func (g *PatternGenerator) RandomFilename() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	var b strings.Builder
	b.WriteString(g.alnum(10, 20))
	b.WriteByte('_')
	b.WriteString(g.alnum(15, 25))
	b.WriteByte('_')
	b.WriteString(g.alnum(5, 10))
	b.WriteByte('.')
	b.WriteString(g.alnum(3, 4))
	return b.String()
}

// alnum must be called with g.mu held.
func (g *PatternGenerator) alnum(minLen, maxLen int) string {
	n := minLen + g.intN(maxLen-minLen+1)
	out := make([]byte, n)
	for i := range out {
		out[i] = filenameAlphabet[g.intN(len(filenameAlphabet))]
	}
	return string(out)
}

func (g *PatternGenerator) intN(n int) int {
	return int(g.rng.Uint64() % uint64(n))
}
