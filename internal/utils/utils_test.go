package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// Test_ValidateAccount tests the ValidateAccount function with various inputs
func Test_ValidateAccount(t *testing.T) {
	tests := []struct {
		name        string
		account     string
		expectError bool
		errorMsg    string
	}{
		// Valid cases
		{name: "Simple name", account: "alice"},
		{name: "Digits and hyphen", account: "bob-99"},
		{name: "Dotted segments", account: "hive.engine"},
		{name: "Maximum length", account: "abcdefghijklmnop"},

		// Invalid cases
		{name: "Empty", account: "", expectError: true, errorMsg: "account cannot be empty"},
		{name: "Too short", account: "ab", expectError: true, errorMsg: "must be 3-16 characters long"},
		{name: "Too long", account: "abcdefghijklmnopq", expectError: true, errorMsg: "must be 3-16 characters long"},
		{name: "Uppercase", account: "Alice", expectError: true, errorMsg: "must start with a lowercase letter"},
		{name: "Starts with digit", account: "1alice", expectError: true, errorMsg: "must start with a lowercase letter"},
		{name: "Ends with hyphen", account: "alice-", expectError: true, errorMsg: "must end with a letter or digit"},
		{name: "Short segment", account: "ab.alice", expectError: true, errorMsg: "shorter than 3 characters"},
		{name: "Invalid character", account: "ali_ce", expectError: true, errorMsg: "invalid character"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateAccount(tt.account)
			if tt.expectError {
				assert.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidAccount)
				assert.Contains(t, err.Error(), tt.errorMsg)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func Test_ValidateSymbol(t *testing.T) {
	tests := []struct {
		name        string
		symbol      string
		expectError bool
	}{
		{name: "Plain token", symbol: "BEE"},
		{name: "Market maker token", symbol: "SWAP.HIVE"},
		{name: "Empty", symbol: "", expectError: true},
		{name: "Lowercase", symbol: "bee", expectError: true},
		{name: "Leading dot", symbol: ".BEE", expectError: true},
		{name: "Trailing dot", symbol: "BEE.", expectError: true},
		{name: "Too long", symbol: "ABCDEFGHIJK", expectError: true},
		{name: "Digits", symbol: "BEE2", expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSymbol(tt.symbol)
			if tt.expectError {
				assert.ErrorIs(t, err, ErrInvalidSymbol)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func Test_StripMarketMakerPrefix(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{input: "SWAP.HIVE", expected: "HIVE"},
		{input: "SWAP.BTC", expected: "BTC"},
		{input: "SWAP.SWAP.ETH", expected: "SWAP.ETH"},
		{input: "BEE", expected: "BEE"},
		{input: "SWAPX", expected: "SWAPX"},
		{input: "", expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, StripMarketMakerPrefix(tt.input))
		})
	}
}

func Test_IsBaseAsset(t *testing.T) {
	assert.True(t, IsBaseAsset("SWAP.HIVE"))
	assert.False(t, IsBaseAsset("HIVE"))
	assert.False(t, IsBaseAsset("BEE"))
}
