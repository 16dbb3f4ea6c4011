// Package audio is the Playback Lifecycle Manager. It decodes synthesized
// payloads with beep, plays them on an output device (oto in production, a
// clock-driven mock in tests) and keeps at most one session per player id,
// reporting progress while a session plays.
package audio
