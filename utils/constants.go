package utils

import (
	"time"
)

// Link token and access code constants
const (
	// LinkTokenBytes is the number of random bytes in a link or status token (256 bits)
	LinkTokenBytes = 32

	// MinAccessCodeLength is the shortest access code a link may use
	MinAccessCodeLength = 4

	// MaxAccessCodeLength is the longest access code a link may use
	MaxAccessCodeLength = 8

	// DefaultAccessCodeLength is used when a clinic does not choose a length
	DefaultAccessCodeLength = 6
)

// Demo progression timing constants
const (
	// DemoBaseStep is the base delay between demo progression callbacks
	DemoBaseStep = 45 * time.Second

	// FastProgressionStep is the fixed delay between fast progression callbacks
	FastProgressionStep = 30 * time.Second
)

// CORS and security constants
const (
	// CORSMaxAge is the maximum age for CORS preflight requests (24 hours)
	CORSMaxAge = 86400
)
