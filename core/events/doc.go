// Package events defines the typed recognition event contract and the error
// taxonomy shared by the protocol client and the recognizer session.
//
// Event kinds mirror the service message paths they are decoded from:
//
//   - TurnStart (turn.start): the service opened a turn for a request.
//   - SpeechStartDetected (speech.startDetected): speech activity began,
//     offset is relative to the start of the request audio.
//   - Hypothesis (speech.hypothesis): provisional partial result. Carries
//     translations when decoded from translation.hypothesis.
//   - SpeechEndDetected (speech.endDetected): speech activity ended.
//   - Phrase (speech.phrase): final result of the turn with its recognition
//     status. Carries translations when decoded from translation.phrase.
//   - TurnEnd (turn.end): the service closed the turn.
//   - TranslationSynthesis (translation.synthesis): synthesized audio of the
//     translated speech. An event with End set marks the end of synthesis
//     for the turn.
//
// Two kinds are produced locally rather than decoded:
//
//   - Error (error): a contained fault with an ErrorCode.
//   - Canceled (canceled): a turn was canceled with a CancellationReason.
//
// Events are immutable values. Slices and maps they carry are shared between
// subscribers and must be treated as read-only.
package events
