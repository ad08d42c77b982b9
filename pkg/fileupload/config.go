package fileupload

import "sync/atomic"

// Unlimited disables a size limit.
const Unlimited int64 = -1

// Config holds the runtime-mutable upload limits of a Handler. Both limits
// default to Unlimited. Setters may be called at any time; the handler
// reads the values fresh for every request.
type Config struct {
	maxFileSize    atomic.Int64
	maxRequestSize atomic.Int64
}

// NewConfig returns a Config with no limits set.
func NewConfig() *Config {
	c := &Config{}
	c.maxFileSize.Store(Unlimited)
	c.maxRequestSize.Store(Unlimited)
	return c
}

// MaxFileSize returns the maximum accepted file size in bytes, or
// Unlimited.
func (c *Config) MaxFileSize() int64 {
	return c.maxFileSize.Load()
}

// SetMaxFileSize sets the maximum accepted file size in bytes. Values below
// zero mean Unlimited.
func (c *Config) SetMaxFileSize(n int64) {
	if n < 0 {
		n = Unlimited
	}
	c.maxFileSize.Store(n)
}

// MaxRequestSize returns the maximum accepted total request size in bytes,
// or Unlimited.
func (c *Config) MaxRequestSize() int64 {
	return c.maxRequestSize.Load()
}

// SetMaxRequestSize sets the maximum accepted total request size in bytes.
// Values below zero mean Unlimited.
func (c *Config) SetMaxRequestSize(n int64) {
	if n < 0 {
		n = Unlimited
	}
	c.maxRequestSize.Store(n)
}
