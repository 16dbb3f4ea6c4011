package engines

import (
	"context"

	"github.com/dacbuione/chinese-learning-sub000/internal/ttypes"
)

// Provider names used in configuration, logs and the source tag.
const (
	ProviderGoogle = "google"
	ProviderAzure  = "azure"
	ProviderGTTS   = "gtts"
	ProviderESpeak = "espeak"
	ProviderNative = "native"
	ProviderMock   = "mock"
)

// allLocales is the locale list of adapters that voice every supported locale.
var allLocales = []ttypes.Locale{ttypes.LocaleZhCN, ttypes.LocaleZhTW, ttypes.LocaleViVN, ttypes.LocaleEnUS}

// bytesOnly is embedded by byte-returning adapters to reject the play-only path.
type bytesOnly struct{}

func (bytesOnly) Speak(context.Context, ttypes.SynthesisRequest) (ttypes.Utterance, error) {
	return nil, ttypes.ErrUnsupported
}

// playOnly is embedded by play-only adapters to reject the byte path.
type playOnly struct{}

func (playOnly) Synthesize(context.Context, ttypes.SynthesisRequest) (ttypes.AudioPayload, error) {
	return ttypes.AudioPayload{}, ttypes.ErrUnsupported
}
