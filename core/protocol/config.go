package protocol

import (
	"time"

	"github.com/koscakluka/ema-speech/core/audio"
)

// Mode selects the recognition endpoint flavour.
type Mode string

const (
	ModeInteractive  Mode = "interactive"
	ModeConversation Mode = "conversation"
	ModeDictation    Mode = "dictation"
)

type OutputFormat string

const (
	FormatSimple   OutputFormat = "simple"
	FormatDetailed OutputFormat = "detailed"
)

const (
	DefaultConnectTimeout = 10 * time.Second
	DefaultShutdownGrace  = 5 * time.Second
	DefaultLanguage       = "en-US"
)

// Config is everything a connection needs. It is read once per connect.
type Config struct {
	// Endpoint overrides the endpoint derived from Region.
	Endpoint           string
	Region             string
	SubscriptionKey    string
	AuthorizationToken string

	Language string
	Mode     Mode
	Format   OutputFormat

	// TargetLanguages enables translation when non-empty.
	TargetLanguages []string
	// Voice names the synthesis voice for translated speech.
	Voice string

	Encoding audio.EncodingInfo

	ConnectTimeout time.Duration
	ShutdownGrace  time.Duration
}

func (c Config) Translation() bool {
	return len(c.TargetLanguages) > 0
}

func (c Config) withDefaults() Config {
	if c.Language == "" {
		c.Language = DefaultLanguage
	}
	if c.Mode == "" {
		c.Mode = ModeInteractive
	}
	if c.Format == "" {
		c.Format = FormatSimple
	}
	if c.Encoding.IsZero() {
		c.Encoding = audio.GetDefaultEncodingInfo()
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = DefaultShutdownGrace
	}
	return c
}
