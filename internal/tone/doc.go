// Package tone prepares lesson text for speech providers. It normalizes and
// cleans text, converts between numbered and accented pinyin, renders
// provider-specific pronunciation markup for tonal languages, and produces
// the comparison form used for pronunciation scoring.
//
// Tone information is advisory: every function degrades to the plain text
// when it cannot produce markup.
package tone
