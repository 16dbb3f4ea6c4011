package engines

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	texttospeech "cloud.google.com/go/texttospeech/apiv1"
	"google.golang.org/api/option"
	texttospeechpb "google.golang.org/genproto/googleapis/cloud/texttospeech/v1"

	"github.com/dacbuione/chinese-learning-sub000/internal/tone"
	"github.com/dacbuione/chinese-learning-sub000/internal/ttypes"
)

// GoogleConfig holds configuration for the Google Cloud TTS engine.
type GoogleConfig struct {
	// CredentialsFile is a service account key; empty uses application default credentials.
	CredentialsFile string
	Priority        int
	Timeout         time.Duration
}

// GoogleEngine implements ttypes.Provider on Google Cloud Text-to-Speech.
// It returns MP3 bytes and accepts SSML <phoneme alphabet="pinyin">.
type GoogleEngine struct {
	bytesOnly

	priority int
	timeout  time.Duration
	catalog  *Catalog

	client *texttospeech.Client
	synth  func(context.Context, *texttospeechpb.SynthesizeSpeechRequest) (*texttospeechpb.SynthesizeSpeechResponse, error)
	list   func(context.Context, *texttospeechpb.ListVoicesRequest) (*texttospeechpb.ListVoicesResponse, error)
}

// NewGoogleEngine creates the API client. It fails when no credentials can be found.
func NewGoogleEngine(ctx context.Context, config GoogleConfig, catalog *Catalog) (*GoogleEngine, error) {
	var opts []option.ClientOption
	if config.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(config.CredentialsFile))
	}

	client, err := texttospeech.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create TTS client: %w", err)
	}

	e := newGoogleEngine(config, catalog)
	e.client = client
	e.synth = func(ctx context.Context, req *texttospeechpb.SynthesizeSpeechRequest) (*texttospeechpb.SynthesizeSpeechResponse, error) {
		return client.SynthesizeSpeech(ctx, req)
	}
	e.list = func(ctx context.Context, req *texttospeechpb.ListVoicesRequest) (*texttospeechpb.ListVoicesResponse, error) {
		return client.ListVoices(ctx, req)
	}
	return e, nil
}

func newGoogleEngine(config GoogleConfig, catalog *Catalog) *GoogleEngine {
	if config.Timeout == 0 {
		config.Timeout = 15 * time.Second
	}
	if catalog == nil {
		catalog = NewCatalog()
	}
	return &GoogleEngine{
		priority: config.Priority,
		timeout:  config.Timeout,
		catalog:  catalog,
	}
}

// Descriptor returns the adapter's static configuration.
func (e *GoogleEngine) Descriptor() ttypes.ProviderDescriptor {
	return ttypes.ProviderDescriptor{
		Name:     ProviderGoogle,
		Priority: e.priority,
		Capabilities: ttypes.Capabilities{
			ReturnsBytes:    true,
			SupportsMarkup:  true,
			MarkupDialect:   tone.DialectGoogle,
			RequiresNetwork: true,
			Locales:         allLocales,
			RateRange:       ttypes.Range{Min: 0.25, Max: 4.0},
			PitchRange:      ttypes.Range{Min: -20, Max: 20},
			VolumeRange:     ttypes.Range{Min: 0, Max: 1},
		},
	}
}

// IsAvailable reports whether a client was created.
func (e *GoogleEngine) IsAvailable(context.Context) bool {
	return e.synth != nil
}

// Synthesize renders the request to MP3.
func (e *GoogleEngine) Synthesize(ctx context.Context, req ttypes.SynthesisRequest) (ttypes.AudioPayload, error) {
	if e.synth == nil {
		return ttypes.AudioPayload{}, ttypes.ErrProviderUnavailable
	}
	if req.Text == "" {
		return ttypes.AudioPayload{}, ttypes.ErrEmptyText
	}

	voice, ok := e.catalog.Resolve(ProviderGoogle, req.Locale, req.VoiceID)
	if !ok {
		return ttypes.AudioPayload{}, fmt.Errorf("google: locale %s: %w", req.Locale, ttypes.ErrUnsupported)
	}

	input := &texttospeechpb.SynthesisInput{
		InputSource: &texttospeechpb.SynthesisInput_Text{Text: req.Text},
	}
	if req.Markup != "" {
		input.InputSource = &texttospeechpb.SynthesisInput_Ssml{Ssml: tone.Envelope(req.Markup, req.Locale)}
	}

	speakingRate := req.Rate
	if speakingRate == 0 {
		speakingRate = ttypes.NormalRate
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	resp, err := e.synth(ctx, &texttospeechpb.SynthesizeSpeechRequest{
		Input: input,
		Voice: &texttospeechpb.VoiceSelectionParams{
			LanguageCode: googleLanguage(req.Locale),
			Name:         voice.ID,
		},
		AudioConfig: &texttospeechpb.AudioConfig{
			AudioEncoding: texttospeechpb.AudioEncoding_MP3,
			SpeakingRate:  speakingRate,
			Pitch:         req.Pitch,
		},
	})
	if err != nil {
		return ttypes.AudioPayload{}, fmt.Errorf("google synthesize: %w", err)
	}
	if len(resp.GetAudioContent()) == 0 {
		return ttypes.AudioPayload{}, errors.New("google synthesize: empty audio content")
	}

	return ttypes.AudioPayload{Data: resp.GetAudioContent(), Format: ttypes.FormatMP3}, nil
}

// RefreshVoices adds the voices the API reports for the supported locales to
// the catalog and returns how many were added.
func (e *GoogleEngine) RefreshVoices(ctx context.Context) (int, error) {
	if e.list == nil {
		return 0, ttypes.ErrProviderUnavailable
	}

	known := make(map[string]bool)
	for _, v := range e.catalog.Voices(ProviderGoogle, "") {
		known[v.ID] = true
	}

	added := 0
	for _, locale := range allLocales {
		resp, err := e.list(ctx, &texttospeechpb.ListVoicesRequest{LanguageCode: googleLanguage(locale)})
		if err != nil {
			return added, fmt.Errorf("google list voices: %w", err)
		}
		for _, v := range resp.GetVoices() {
			if known[v.GetName()] {
				continue
			}
			known[v.GetName()] = true
			e.catalog.Add(Voice{
				ID:       v.GetName(),
				Provider: ProviderGoogle,
				Locale:   locale,
				Name:     v.GetName(),
				Gender:   strings.ToLower(v.GetSsmlGender().String()),
			})
			added++
		}
	}
	return added, nil
}

// Close releases the API client.
func (e *GoogleEngine) Close() error {
	if e.client == nil {
		return nil
	}
	return e.client.Close()
}

// googleLanguage maps a locale to the BCP-47 code Google uses for its voices.
func googleLanguage(l ttypes.Locale) string {
	switch l {
	case ttypes.LocaleZhCN:
		return "cmn-CN"
	case ttypes.LocaleZhTW:
		return "cmn-TW"
	default:
		return string(l)
	}
}

var _ ttypes.Provider = (*GoogleEngine)(nil)
