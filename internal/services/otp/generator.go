// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package otp issues, rate-limits and verifies one-time passcodes.
package otp

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

// DefaultLength is the number of digits in a passcode.
const DefaultLength = 6

var digitBound = big.NewInt(10)

// Generator produces numeric passcodes from a cryptographically secure source.
type Generator struct {
	length int
}

// NewGenerator returns a Generator for codes of the given length.
// A non-positive length falls back to DefaultLength.
func NewGenerator(length int) *Generator {
	if length <= 0 {
		length = DefaultLength
	}
	return &Generator{length: length}
}

// Length returns the number of digits per code.
func (g *Generator) Length() int {
	return g.length
}

// Generate returns a code whose digits are each drawn uniformly from 0-9.
func (g *Generator) Generate() (string, error) {
	var b strings.Builder
	b.Grow(g.length)
	for range g.length {
		n, err := rand.Int(rand.Reader, digitBound)
		if err != nil {
			return "", fmt.Errorf("reading random digit: %w", err)
		}
		b.WriteByte(byte('0' + n.Int64()))
	}
	return b.String(), nil
}
