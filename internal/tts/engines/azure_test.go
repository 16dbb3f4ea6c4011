package engines

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dacbuione/chinese-learning-sub000/internal/ttypes"
)

func TestAzureEngine_Synthesize(t *testing.T) {
	var body, key, format string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		body = string(b)
		key = r.Header.Get("Ocp-Apim-Subscription-Key")
		format = r.Header.Get("X-Microsoft-OutputFormat")
		if r.Header.Get("Content-Type") != "application/ssml+xml" {
			http.Error(w, "bad content type", http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte("mp3-bytes"))
	}))
	defer srv.Close()

	e := NewAzureEngine(AzureConfig{Key: "secret", Endpoint: srv.URL}, nil)
	if !e.IsAvailable(context.Background()) {
		t.Fatal("engine with key and endpoint should be available")
	}

	payload, err := e.Synthesize(context.Background(), ttypes.SynthesisRequest{
		Text:   "好",
		Locale: ttypes.LocaleZhCN,
		Rate:   1.5,
		Pitch:  -3,
		Markup: `<phoneme alphabet="sapi" ph="hao 3">好</phoneme>`,
	})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if string(payload.Data) != "mp3-bytes" || payload.Format != ttypes.FormatMP3 {
		t.Errorf("payload = %+v", payload)
	}
	if key != "secret" {
		t.Errorf("subscription key = %q", key)
	}
	if format != DefaultAzureFormat {
		t.Errorf("output format = %q", format)
	}

	for _, want := range []string{
		`xml:lang="zh-CN"`,
		`<voice name="zh-CN-XiaoxiaoNeural">`,
		`rate="+50%"`,
		`pitch="-3st"`,
		`ph="hao 3"`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("ssml %q missing %q", body, want)
		}
	}
}

func TestAzureEngine_EscapesPlainText(t *testing.T) {
	ssml := buildAzureSSML(ttypes.SynthesisRequest{Text: "Tom & Jerry", Locale: ttypes.LocaleEnUS}, "en-US-JennyNeural")
	if !strings.Contains(ssml, "Tom &amp; Jerry") {
		t.Errorf("ssml = %q", ssml)
	}
	if !strings.Contains(ssml, `rate="+0%"`) {
		t.Errorf("zero rate should render as normal: %q", ssml)
	}
}

func TestAzureEngine_Errors(t *testing.T) {
	t.Run("no credentials", func(t *testing.T) {
		e := NewAzureEngine(AzureConfig{}, nil)
		if e.IsAvailable(context.Background()) {
			t.Error("engine without key should be unavailable")
		}
		_, err := e.Synthesize(context.Background(), ttypes.SynthesisRequest{Text: "hi", Locale: ttypes.LocaleEnUS})
		if !errors.Is(err, ttypes.ErrProviderUnavailable) {
			t.Errorf("err = %v, want ErrProviderUnavailable", err)
		}
	})

	t.Run("region builds endpoint", func(t *testing.T) {
		e := NewAzureEngine(AzureConfig{Key: "k", Region: "eastasia"}, nil)
		if e.endpoint != "https://eastasia.tts.speech.microsoft.com/cognitiveservices/v1" {
			t.Errorf("endpoint = %q", e.endpoint)
		}
	})

	t.Run("http error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "quota exceeded", http.StatusTooManyRequests)
		}))
		defer srv.Close()

		e := NewAzureEngine(AzureConfig{Key: "k", Endpoint: srv.URL}, nil)
		_, err := e.Synthesize(context.Background(), ttypes.SynthesisRequest{Text: "hi", Locale: ttypes.LocaleEnUS})
		if err == nil || !strings.Contains(err.Error(), "429") {
			t.Errorf("err = %v, want status 429", err)
		}
	})

	t.Run("empty body", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		defer srv.Close()

		e := NewAzureEngine(AzureConfig{Key: "k", Endpoint: srv.URL}, nil)
		if _, err := e.Synthesize(context.Background(), ttypes.SynthesisRequest{Text: "hi", Locale: ttypes.LocaleEnUS}); err == nil {
			t.Error("expected error for empty audio")
		}
	})
}
