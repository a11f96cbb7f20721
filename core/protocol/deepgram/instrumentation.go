package deepgram

import "go.opentelemetry.io/contrib/bridges/otelslog"

const scopeName = "github.com/koscakluka/ema-speech/core/protocol/deepgram"

var logger = otelslog.NewLogger(scopeName)
