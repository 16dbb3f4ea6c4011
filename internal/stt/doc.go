// Package stt manages speech recognition: one exclusive microphone session
// at a time, partial and final transcripts, deadline-bounded one-shot
// recognition and pronunciation scoring against expected text.
//
// Recognizers are pluggable. StreamingRecognizer talks to a cloud streaming
// endpoint over a websocket, WhisperRecognizer runs whisper.cpp on device,
// and MockRecognizer replays a script for tests.
package stt
