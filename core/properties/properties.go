// Package properties holds the key/value settings a recognizer reads when it
// connects: endpoint, credentials and feature flags.
package properties

import (
	"strings"
	"sync"
)

type PropertyID string

const (
	SubscriptionKey     PropertyID = "SpeechServiceConnection_Key"
	Region              PropertyID = "SpeechServiceConnection_Region"
	Endpoint            PropertyID = "SpeechServiceConnection_Endpoint"
	AuthorizationToken  PropertyID = "SpeechServiceAuthorization_Token"
	RecognitionLanguage PropertyID = "SpeechServiceConnection_RecoLanguage"
	// RecognitionMode is one of interactive, conversation or dictation.
	RecognitionMode PropertyID = "SpeechServiceConnection_RecoMode"
	// OutputFormat is simple or detailed.
	OutputFormat PropertyID = "SpeechServiceResponse_OutputFormat"
	// TranslationTargetLanguages is a comma separated list of languages.
	TranslationTargetLanguages PropertyID = "SpeechServiceConnection_TranslationToLanguages"
	TranslationVoice           PropertyID = "SpeechServiceConnection_TranslationVoice"
)

// Source is a read-only view of a property collection.
type Source interface {
	Get(id PropertyID, defaultValue string) string
}

// Collection is a concurrency-safe property store.
type Collection struct {
	mu     sync.RWMutex
	values map[PropertyID]string
}

func New(values map[PropertyID]string) *Collection {
	c := &Collection{values: make(map[PropertyID]string, len(values))}
	for id, value := range values {
		c.values[id] = value
	}
	return c
}

// Get returns the value of id, or defaultValue when it is unset or empty.
func (c *Collection) Get(id PropertyID, defaultValue string) string {
	if c == nil {
		return defaultValue
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if value := c.values[id]; value != "" {
		return value
	}
	return defaultValue
}

func (c *Collection) Set(id PropertyID, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.values == nil {
		c.values = map[PropertyID]string{}
	}
	c.values[id] = value
}

// Snapshot returns a copy of every set property.
func (c *Collection) Snapshot() map[PropertyID]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snapshot := make(map[PropertyID]string, len(c.values))
	for id, value := range c.values {
		snapshot[id] = value
	}
	return snapshot
}

// List splits a comma separated property into its trimmed, non-empty parts.
func List(source Source, id PropertyID) []string {
	var values []string
	for _, value := range strings.Split(source.Get(id, ""), ",") {
		if value = strings.TrimSpace(value); value != "" {
			values = append(values, value)
		}
	}
	return values
}
