// Package validation normalizes EVM addresses and validates request fields
// before any decoding or ledger work happens.
package validation

import (
	"errors"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// MaxRequestSize is the maximum request body size (1MB)
const MaxRequestSize = 1 << 20

// MaxStringLength bounds free-text fields such as activity log details.
const MaxStringLength = 10000

// ErrInvalidAddress is returned for anything that is not 20 bytes of hex.
var ErrInvalidAddress = errors.New("validation: invalid address")

// NormalizeAddress parses an address in any letter case, with or without the
// 0x prefix. The checksum of mixed-case input is not enforced; the returned
// address renders in EIP-55 form via Hex().
func NormalizeAddress(s string) (common.Address, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		s = s[2:]
	}
	if len(s) != 2*common.AddressLength || !isHex(s) {
		return common.Address{}, ErrInvalidAddress
	}
	return common.HexToAddress(s), nil
}

// ChecksumAddress is NormalizeAddress rendered as a string.
func ChecksumAddress(s string) (string, error) {
	addr, err := NormalizeAddress(s)
	if err != nil {
		return "", err
	}
	return addr.Hex(), nil
}

// IsValidAddress reports whether s normalizes.
func IsValidAddress(s string) bool {
	_, err := NormalizeAddress(s)
	return err == nil
}

func isHex(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}

// SanitizeString trims, strips NUL bytes and caps the length.
func SanitizeString(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	if len(s) > maxLen {
		s = s[:maxLen]
	}
	return strings.ReplaceAll(s, "\x00", "")
}

// RequestSizeMiddleware limits request body size
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	return e[0].Field + ": " + e[0].Message
}

// Code is the API error code for the first failure.
func (e ValidationErrors) Code() string {
	if len(e) == 0 {
		return "validation_failed"
	}
	switch e[0].Message {
	case msgRequired:
		return "missing_field"
	case msgAddress:
		return "invalid_address"
	case msgAmountFormat, msgAmountPositive, msgAmountRange:
		return "invalid_amount"
	}
	return "validation_failed"
}

const (
	msgRequired       = "is required"
	msgAddress        = "must be a valid address (0x + 40 hex chars)"
	msgAmountFormat   = "invalid amount format"
	msgAmountPositive = "amount must be greater than zero"
	msgAmountRange    = "amount is out of range"
)

// MaxAmountDigits bounds both the integer and fractional digits of an amount.
// 78 digits covers any uint256.
const MaxAmountDigits = 78

// AmountInRange reports whether d has at most MaxAmountDigits integer digits
// and at most MaxAmountDigits fractional digits. It never expands d, so a
// huge exponent is rejected in constant time.
func AmountInRange(d decimal.Decimal) bool {
	exp := int64(d.Exponent())
	if exp < -MaxAmountDigits {
		return false
	}
	return int64(d.NumDigits())+exp <= MaxAmountDigits
}

// Validate runs validators in order and collects their failures.
func Validate(validators ...func() *ValidationError) ValidationErrors {
	var errs ValidationErrors
	for _, v := range validators {
		if err := v(); err != nil {
			errs = append(errs, *err)
		}
	}
	return errs
}

// Required checks if a field is non-empty
func Required(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if strings.TrimSpace(value) == "" {
			return &ValidationError{Field: field, Message: msgRequired}
		}
		return nil
	}
}

// ValidAddress checks that a non-empty field is an address.
func ValidAddress(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" {
			return nil // Use Required for required fields
		}
		if !IsValidAddress(value) {
			return &ValidationError{Field: field, Message: msgAddress}
		}
		return nil
	}
}

// MaxLength checks if a field exceeds max length
func MaxLength(field, value string, max int) func() *ValidationError {
	return func() *ValidationError {
		if len(value) > max {
			return &ValidationError{Field: field, Message: "exceeds maximum length"}
		}
		return nil
	}
}

// PositiveAmount checks that a non-empty field is a decimal greater than zero.
func PositiveAmount(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" {
			return nil
		}
		d, err := decimal.NewFromString(strings.TrimSpace(value))
		if err != nil {
			return &ValidationError{Field: field, Message: msgAmountFormat}
		}
		if !d.IsPositive() {
			return &ValidationError{Field: field, Message: msgAmountPositive}
		}
		if !AmountInRange(d) {
			return &ValidationError{Field: field, Message: msgAmountRange}
		}
		return nil
	}
}

// Amount checks an already decoded amount: present, greater than zero and
// within AmountInRange.
func Amount(field string, d *decimal.Decimal) func() *ValidationError {
	return func() *ValidationError {
		switch {
		case d == nil:
			return &ValidationError{Field: field, Message: msgRequired}
		case !d.IsPositive():
			return &ValidationError{Field: field, Message: msgAmountPositive}
		case !AmountInRange(*d):
			return &ValidationError{Field: field, Message: msgAmountRange}
		}
		return nil
	}
}

// AddressQueryMiddleware rejects requests whose ?address= is present but not
// an address, and stores the checksummed form under the "address" key.
func AddressQueryMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.Query("address")
		if raw == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":   "missing_field",
				"message": "address is required",
			})
			return
		}
		addr, err := NormalizeAddress(raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_address",
				"message": "address must be a valid address (0x + 40 hex chars)",
			})
			return
		}
		c.Set("address", addr)
		c.Next()
	}
}
