package services

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"
)

const (
	defaultBarcodePrefix = "20"
	barcodeTimestampMod  = 10_000_000_000
	barcodeSuffixRange   = 10_000
)

// BarcodeGenerator produces identifiers for newly created service line items.
type BarcodeGenerator interface {
	Generate() string
}

// BarcodeGeneratorDeps configures the default generator.
type BarcodeGeneratorDeps struct {
	Prefix string
	Clock  func() time.Time
	// Random returns a value in [0, n).
	Random func(n int) int
}

type barcodeGenerator struct {
	prefix string
	clock  func() time.Time
	random func(n int) int
}

// NewBarcodeGenerator builds a generator producing prefix + 10 timestamp digits + 4 random digits.
func NewBarcodeGenerator(deps BarcodeGeneratorDeps) (BarcodeGenerator, error) {
	prefix := strings.TrimSpace(deps.Prefix)
	if prefix == "" {
		prefix = defaultBarcodePrefix
	}
	if len(prefix) != 2 || !isDigits(prefix) {
		return nil, errors.New("barcode generator: prefix must be two digits")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	random := deps.Random
	if random == nil {
		random = rand.IntN
	}

	return &barcodeGenerator{
		prefix: prefix,
		clock:  clock,
		random: random,
	}, nil
}

func (g *barcodeGenerator) Generate() string {
	millis := g.clock().UnixMilli() % barcodeTimestampMod
	if millis < 0 {
		millis = -millis
	}
	suffix := g.random(barcodeSuffixRange)
	if suffix < 0 {
		suffix = -suffix
	}
	return fmt.Sprintf("%s%010d%04d", g.prefix, millis, suffix%barcodeSuffixRange)
}

func isDigits(value string) bool {
	for _, r := range value {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
