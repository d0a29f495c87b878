package service

import (
	"crypto/rand"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
)

const (
	codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	// Largest multiple of len(codeAlphabet) that fits in a byte; higher bytes are
	// rejected so every character is equally likely.
	codeByteCeiling = 252

	recentCodeCapacity = 10000
	recentCodeFPRate   = 0.001
	maxCodeDraws       = 3
)

// TokenGenerator produces challenge tokens.
type TokenGenerator interface {
	Generate() (string, error)
}

// CodeGenerator issues human-typable verification codes: a fixed prefix and
// uppercase alphanumerics. It remembers recently issued codes in a bloom filter
// and redraws likely repeats; the store's unique index remains the guarantee.
type CodeGenerator struct {
	prefix string
	length int
	rand   io.Reader

	mu     sync.Mutex
	recent *bloom.BloomFilter
	issued uint
}

// NewCodeGenerator returns a generator producing prefix followed by length characters.
func NewCodeGenerator(prefix string, length int) *CodeGenerator {
	return &CodeGenerator{
		prefix: prefix,
		length: length,
		rand:   rand.Reader,
		recent: bloom.NewWithEstimates(recentCodeCapacity, recentCodeFPRate),
	}
}

// Generate returns a fresh code such as VERIFY-7K2QX9AB.
func (g *CodeGenerator) Generate() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	var code string
	for i := 0; i < maxCodeDraws; i++ {
		drawn, err := g.draw()
		if err != nil {
			return "", fmt.Errorf("generate code: %w", err)
		}
		code = drawn
		if !g.recent.TestString(code) {
			break
		}
	}

	g.remember(code)
	return code, nil
}

func (g *CodeGenerator) draw() (string, error) {
	var sb strings.Builder
	sb.Grow(len(g.prefix) + g.length)
	sb.WriteString(g.prefix)

	buf := make([]byte, g.length*2)
	written := 0
	for written < g.length {
		if _, err := io.ReadFull(g.rand, buf); err != nil {
			return "", err
		}
		for _, b := range buf {
			if b >= codeByteCeiling {
				continue
			}
			sb.WriteByte(codeAlphabet[int(b)%len(codeAlphabet)])
			written++
			if written == g.length {
				break
			}
		}
	}
	return sb.String(), nil
}

func (g *CodeGenerator) remember(code string) {
	if g.issued >= recentCodeCapacity {
		g.recent.ClearAll()
		g.issued = 0
	}
	g.recent.AddString(code)
	g.issued++
}
