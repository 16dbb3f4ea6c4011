package engines

import (
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/dacbuione/chinese-learning-sub000/internal/tone"
	"github.com/dacbuione/chinese-learning-sub000/internal/ttypes"
)

// DefaultAzureFormat is MP3 so payloads share the decode path with Google and gTTS.
const DefaultAzureFormat = "audio-24khz-48kbitrate-mono-mp3"

// AzureConfig holds configuration for the Azure Speech engine.
type AzureConfig struct {
	Key      string
	Region   string
	Priority int
	Timeout  time.Duration

	// Endpoint overrides the regional URL.
	Endpoint string

	// RequestsPerSecond throttles outgoing calls (default 5)
	RequestsPerSecond float64
}

// AzureEngine implements ttypes.Provider on the Azure Speech REST API. The
// request body is always SSML; tone hints use <phoneme alphabet="sapi">.
type AzureEngine struct {
	bytesOnly

	key        string
	endpoint   string
	priority   int
	catalog    *Catalog
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewAzureEngine creates an Azure Speech client with the given credentials.
func NewAzureEngine(config AzureConfig, catalog *Catalog) *AzureEngine {
	if config.Timeout == 0 {
		config.Timeout = 15 * time.Second
	}
	if config.RequestsPerSecond == 0 {
		config.RequestsPerSecond = 5
	}
	if config.Endpoint == "" && config.Region != "" {
		config.Endpoint = fmt.Sprintf("https://%s.tts.speech.microsoft.com/cognitiveservices/v1", config.Region)
	}
	if catalog == nil {
		catalog = NewCatalog()
	}

	return &AzureEngine{
		key:        config.Key,
		endpoint:   config.Endpoint,
		priority:   config.Priority,
		catalog:    catalog,
		httpClient: &http.Client{Timeout: config.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(config.RequestsPerSecond), 1),
	}
}

// Descriptor returns the adapter's static configuration.
func (e *AzureEngine) Descriptor() ttypes.ProviderDescriptor {
	return ttypes.ProviderDescriptor{
		Name:     ProviderAzure,
		Priority: e.priority,
		Capabilities: ttypes.Capabilities{
			ReturnsBytes:    true,
			SupportsMarkup:  true,
			MarkupDialect:   tone.DialectAzure,
			RequiresNetwork: true,
			Locales:         allLocales,
			RateRange:       ttypes.Range{Min: 0.5, Max: 3.0},
			PitchRange:      ttypes.Range{Min: -12, Max: 12},
			VolumeRange:     ttypes.Range{Min: 0, Max: 1},
		},
	}
}

// IsAvailable reports whether credentials are configured.
func (e *AzureEngine) IsAvailable(context.Context) bool {
	return e.key != "" && e.endpoint != ""
}

// Synthesize converts the request to MP3 bytes.
func (e *AzureEngine) Synthesize(ctx context.Context, req ttypes.SynthesisRequest) (ttypes.AudioPayload, error) {
	if !e.IsAvailable(ctx) {
		return ttypes.AudioPayload{}, ttypes.ErrProviderUnavailable
	}
	if req.Text == "" {
		return ttypes.AudioPayload{}, ttypes.ErrEmptyText
	}

	voice, ok := e.catalog.Resolve(ProviderAzure, req.Locale, req.VoiceID)
	if !ok {
		return ttypes.AudioPayload{}, fmt.Errorf("azure: locale %s: %w", req.Locale, ttypes.ErrUnsupported)
	}

	if err := e.limiter.Wait(ctx); err != nil {
		return ttypes.AudioPayload{}, fmt.Errorf("rate limit wait cancelled: %w", err)
	}

	ssml := buildAzureSSML(req, voice.ID)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, strings.NewReader(ssml))
	if err != nil {
		return ttypes.AudioPayload{}, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Ocp-Apim-Subscription-Key", e.key)
	httpReq.Header.Set("Content-Type", "application/ssml+xml")
	httpReq.Header.Set("X-Microsoft-OutputFormat", DefaultAzureFormat)
	httpReq.Header.Set("User-Agent", "tingshuo")

	resp, err := e.httpClient.Do(httpReq)
	if err != nil {
		return ttypes.AudioPayload{}, fmt.Errorf("azure tts request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return ttypes.AudioPayload{}, fmt.Errorf("azure tts error %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return ttypes.AudioPayload{}, fmt.Errorf("reading audio data: %w", err)
	}
	if len(audio) == 0 {
		return ttypes.AudioPayload{}, fmt.Errorf("azure tts returned no audio")
	}

	return ttypes.AudioPayload{Data: audio, Format: ttypes.FormatMP3}, nil
}

// Close releases idle connections.
func (e *AzureEngine) Close() error {
	e.httpClient.CloseIdleConnections()
	return nil
}

// buildAzureSSML wraps the (possibly annotated) text in voice and prosody elements.
func buildAzureSSML(req ttypes.SynthesisRequest, voice string) string {
	body := req.Markup
	if body == "" {
		body = tone.Escape(req.Text)
	}

	r := req.Rate
	if r == 0 {
		r = ttypes.NormalRate
	}
	prosody := fmt.Sprintf(`<prosody rate="%+d%%" pitch="%+dst">%s</prosody>`,
		int(math.Round((r-1)*100)), int(math.Round(req.Pitch)), body)

	return fmt.Sprintf(
		`<speak version="1.0" xmlns="http://www.w3.org/2001/10/synthesis" xml:lang="%s"><voice name="%s">%s</voice></speak>`,
		req.Locale, voice, prosody)
}

var _ ttypes.Provider = (*AzureEngine)(nil)
