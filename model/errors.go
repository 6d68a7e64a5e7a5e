package model

import (
	"errors"
	"fmt"
)

var (
	errNotPositive = errors.New("must be positive")
	errNegative    = errors.New("must not be negative")
)

// A ConfigError reports an invalid configuration field.
type ConfigError struct {
	Field string
	Value interface{}
	Err   error
}

// Error returns a message naming the field and value.
func (c *ConfigError) Error() string {
	return fmt.Sprintf("config %s (%v): %v", c.Field, c.Value, c.Err)
}

// Unwrap returns the underlying error.
func (c *ConfigError) Unwrap() error {
	return c.Err
}
