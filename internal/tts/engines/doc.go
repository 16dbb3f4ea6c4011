// Package engines provides the speech synthesis provider adapters: cloud
// adapters that return audio bytes (Google Cloud TTS, Azure Speech, gTTS),
// on-device adapters that can only play (eSpeak, the OS voice), a mock for
// tests, the voice catalog and the prioritized fallback chain.
package engines
