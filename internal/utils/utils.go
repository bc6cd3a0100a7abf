// Package utils provides common utility functions for data validation.
//
// This package contains utilities for working with Hive account names and
// Hive-Engine token tickers, including validation and the ticker normalization
// applied before rows are exported.
package utils

import (
	"errors"
	"fmt"
	"strings"

	"hivetax/internal/model"
)

// Error definitions for validation functions
var (
	ErrInvalidAccount = errors.New("invalid account name")
	ErrInvalidSymbol  = errors.New("invalid token symbol")
)

const (
	minAccountLength = 3
	maxAccountLength = 16
	maxSymbolLength  = 10
)

// ValidateAccount checks a Hive account name.
//
// Hive account names are 3 to 16 characters long and made of dot separated
// segments. Every segment is at least 3 characters, starts with a lowercase
// letter, ends with a letter or digit and contains only lowercase letters,
// digits and hyphens.
func ValidateAccount(name string) error {
	if name == "" {
		return fmt.Errorf("%w: account cannot be empty", ErrInvalidAccount)
	}

	if len(name) < minAccountLength || len(name) > maxAccountLength {
		return fmt.Errorf("%w: %q must be %d-%d characters long",
			ErrInvalidAccount, name, minAccountLength, maxAccountLength)
	}

	for _, segment := range strings.Split(name, ".") {
		if err := validateAccountSegment(segment); err != nil {
			return fmt.Errorf("%w: %q: %v", ErrInvalidAccount, name, err)
		}
	}

	return nil
}

func validateAccountSegment(segment string) error {
	if len(segment) < minAccountLength {
		return fmt.Errorf("segment %q shorter than %d characters", segment, minAccountLength)
	}

	if !isLower(rune(segment[0])) {
		return fmt.Errorf("segment %q must start with a lowercase letter", segment)
	}

	last := rune(segment[len(segment)-1])
	if !isLower(last) && !isDigit(last) {
		return fmt.Errorf("segment %q must end with a letter or digit", segment)
	}

	for _, r := range segment {
		if !isLower(r) && !isDigit(r) && r != '-' {
			return fmt.Errorf("segment %q contains invalid character %q", segment, r)
		}
	}

	return nil
}

// ValidateSymbol checks a Hive-Engine token ticker: 1 to 10 uppercase letters
// or dots, not starting or ending with a dot.
func ValidateSymbol(symbol string) error {
	if symbol == "" {
		return fmt.Errorf("%w: symbol cannot be empty", ErrInvalidSymbol)
	}

	if len(symbol) > maxSymbolLength {
		return fmt.Errorf("%w: %q longer than %d characters", ErrInvalidSymbol, symbol, maxSymbolLength)
	}

	if strings.HasPrefix(symbol, ".") || strings.HasSuffix(symbol, ".") {
		return fmt.Errorf("%w: %q cannot start or end with a dot", ErrInvalidSymbol, symbol)
	}

	for _, r := range symbol {
		if !(r >= 'A' && r <= 'Z') && r != '.' {
			return fmt.Errorf("%w: %q contains invalid character %q", ErrInvalidSymbol, symbol, r)
		}
	}

	return nil
}

// StripMarketMakerPrefix removes one leading market-maker prefix, revealing the
// underlying asset ticker ("SWAP.HIVE" -> "HIVE"). Other tickers are returned unchanged.
func StripMarketMakerPrefix(symbol string) string {
	return strings.TrimPrefix(symbol, model.MarketMakerPrefix)
}

// IsBaseAsset reports whether symbol is the market settlement token.
func IsBaseAsset(symbol string) bool {
	return symbol == model.BaseAsset
}

func isLower(r rune) bool {
	return r >= 'a' && r <= 'z'
}

func isDigit(r rune) bool {
	return r >= '0' && r <= '9'
}
