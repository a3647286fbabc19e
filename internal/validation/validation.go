// Package validation provides input validation middleware for the potionwatch API.
package validation

import (
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// MaxRequestSize is the maximum request body size (1MB)
const MaxRequestSize = 1 << 20 // 1MB

// MaxStringLength is the maximum length for string fields
const MaxStringLength = 10000

// DayLayout is the wire format for audit day parameters.
const DayLayout = "2006-01-02"

// TimestampLayout is the wire format for minute-resolution timestamps,
// without the upstream's +00:00 suffix.
const TimestampLayout = "2006-01-02T15:04:05"

// cauldronIDRegex validates cauldron and courier identifiers
var cauldronIDRegex = regexp.MustCompile(`^[A-Za-z0-9_.-]{1,64}$`)

// RequestSizeMiddleware limits request body size
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// IsValidDay checks if a string is a calendar day in 2006-01-02 form
func IsValidDay(s string) bool {
	_, err := time.Parse(DayLayout, s)
	return err == nil
}

// IsValidTimestamp checks if a string is a minute timestamp, with or
// without the upstream's +00:00 suffix
func IsValidTimestamp(s string) bool {
	s = strings.TrimSuffix(s, "+00:00")
	_, err := time.Parse(TimestampLayout, s)
	return err == nil
}

// IsValidID checks if a string is a well-formed cauldron or courier ID
func IsValidID(s string) bool {
	return cauldronIDRegex.MatchString(s)
}

// SanitizeString removes dangerous characters and limits length
func SanitizeString(s string, maxLen int) string {
	// Trim whitespace
	s = strings.TrimSpace(s)

	// Limit length
	if len(s) > maxLen {
		s = s[:maxLen]
	}

	// Remove null bytes
	s = strings.ReplaceAll(s, "\x00", "")

	return s
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

// Validate validates a request and returns errors
func Validate(validators ...func() *ValidationError) ValidationErrors {
	var errors ValidationErrors
	for _, v := range validators {
		if err := v(); err != nil {
			errors = append(errors, *err)
		}
	}
	return errors
}

// Required checks if a field is non-empty
func Required(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if strings.TrimSpace(value) == "" {
			return &ValidationError{Field: field, Message: "is required"}
		}
		return nil
	}
}

// ValidDay checks if a field is a calendar day in 2006-01-02 form
func ValidDay(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" {
			return nil // Use Required for required fields
		}
		if !IsValidDay(value) {
			return &ValidationError{Field: field, Message: "must be a day in YYYY-MM-DD form"}
		}
		return nil
	}
}

// ValidTimestamp checks if a field is a minute timestamp
func ValidTimestamp(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" {
			return nil
		}
		if !IsValidTimestamp(value) {
			return &ValidationError{Field: field, Message: "must be a timestamp in YYYY-MM-DDTHH:MM:SS form"}
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

// DateParamMiddleware validates the :date URL parameter on routes that use it.
// Apply to route groups that include :date params to reject malformed days early.
func DateParamMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		date := c.Param("date")
		if date != "" && !IsValidDay(date) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_date",
				"message": "date must be a day in YYYY-MM-DD form",
			})
			return
		}
		c.Next()
	}
}
