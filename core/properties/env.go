package properties

import "os"

var envKeys = map[PropertyID][]string{
	SubscriptionKey:            {"SPEECH_KEY", "DEEPGRAM_API_KEY"},
	Region:                     {"SPEECH_REGION"},
	Endpoint:                   {"SPEECH_ENDPOINT"},
	RecognitionLanguage:        {"SPEECH_LANGUAGE"},
	RecognitionMode:            {"SPEECH_RECOGNITION_MODE"},
	OutputFormat:               {"SPEECH_OUTPUT_FORMAT"},
	TranslationTargetLanguages: {"SPEECH_TRANSLATION_TARGETS"},
	TranslationVoice:           {"SPEECH_TRANSLATION_VOICE"},
}

// FromEnv builds a collection from the process environment. The first set
// variable of each property wins.
func FromEnv() *Collection {
	c := New(nil)
	for id, keys := range envKeys {
		for _, key := range keys {
			if value := getEnv(key, ""); value != "" {
				c.Set(id, value)
				break
			}
		}
	}
	return c
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
