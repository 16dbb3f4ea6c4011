// Package speech is the entry point to the speech subsystem. A Core is
// built once from configuration and wires synthesis, playback, recognition
// and pronunciation scoring behind a small set of operations.
package speech
