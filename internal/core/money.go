// Package core provides money parsing and handling utilities.
//
// Trip expenses are settled in whole yen, so amounts are plain integers
// with no minor unit.
package core

import (
	"errors"
	"strconv"
	"strings"
	"unicode"
)

// Yen is an integral amount of Japanese yen.
type Yen int64

var ErrInvalidAmount = errors.New("invalid amount")

// ParseYen converts user input to a yen amount.
//
// It accepts an optional leading currency sign (¥ or ￥) and comma group
// separators. Signs and decimals are rejected; zero is a valid amount.
//
// Examples:
//
//	ParseYen("12000")   -> 12000, nil
//	ParseYen("12,000")  -> 12000, nil
//	ParseYen("¥12,000") -> 12000, nil
//	ParseYen("12.5")    -> 0, ErrInvalidAmount
func ParseYen(s string) (Yen, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "¥")
	s = strings.TrimPrefix(s, "￥")
	s = strings.ReplaceAll(s, ",", "")
	if s == "" {
		return 0, ErrInvalidAmount
	}
	for _, r := range s {
		if !unicode.IsDigit(r) || r > unicode.MaxASCII {
			return 0, ErrInvalidAmount
		}
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, ErrInvalidAmount
	}
	return Yen(v), nil
}

func (y Yen) Validate() error {
	if y < 0 {
		return ErrInvalidAmount
	}
	return nil
}

// Int64 returns the raw amount.
func (y Yen) Int64() int64 {
	return int64(y)
}
