package engines

import (
	"context"
	"errors"
	"strings"
	"testing"

	texttospeechpb "google.golang.org/genproto/googleapis/cloud/texttospeech/v1"

	"github.com/dacbuione/chinese-learning-sub000/internal/ttypes"
)

func TestGoogleEngine_Synthesize(t *testing.T) {
	var got *texttospeechpb.SynthesizeSpeechRequest

	e := newGoogleEngine(GoogleConfig{Priority: 1}, nil)
	e.synth = func(_ context.Context, req *texttospeechpb.SynthesizeSpeechRequest) (*texttospeechpb.SynthesizeSpeechResponse, error) {
		got = req
		return &texttospeechpb.SynthesizeSpeechResponse{AudioContent: []byte("mp3")}, nil
	}

	payload, err := e.Synthesize(context.Background(), ttypes.SynthesisRequest{
		Text:   "你好",
		Locale: ttypes.LocaleZhCN,
		Rate:   1.5,
		Pitch:  -2,
	})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if string(payload.Data) != "mp3" || payload.Format != ttypes.FormatMP3 {
		t.Errorf("payload = %+v", payload)
	}

	if got.GetInput().GetText() != "你好" {
		t.Errorf("input text = %q", got.GetInput().GetText())
	}
	if got.GetVoice().GetLanguageCode() != "cmn-CN" {
		t.Errorf("language = %q, want cmn-CN", got.GetVoice().GetLanguageCode())
	}
	if got.GetVoice().GetName() != "cmn-CN-Wavenet-A" {
		t.Errorf("voice = %q", got.GetVoice().GetName())
	}
	if got.GetAudioConfig().GetSpeakingRate() != 1.5 || got.GetAudioConfig().GetPitch() != -2 {
		t.Errorf("audio config = %+v", got.GetAudioConfig())
	}
	if got.GetAudioConfig().GetAudioEncoding() != texttospeechpb.AudioEncoding_MP3 {
		t.Errorf("encoding = %v", got.GetAudioConfig().GetAudioEncoding())
	}
}

func TestGoogleEngine_Markup(t *testing.T) {
	var got *texttospeechpb.SynthesizeSpeechRequest

	e := newGoogleEngine(GoogleConfig{}, nil)
	e.synth = func(_ context.Context, req *texttospeechpb.SynthesizeSpeechRequest) (*texttospeechpb.SynthesizeSpeechResponse, error) {
		got = req
		return &texttospeechpb.SynthesizeSpeechResponse{AudioContent: []byte("mp3")}, nil
	}

	fragment := `<phoneme alphabet="pinyin" ph="ma1">妈</phoneme>`
	_, err := e.Synthesize(context.Background(), ttypes.SynthesisRequest{
		Text:   "妈",
		Locale: ttypes.LocaleZhTW,
		Markup: fragment,
	})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}

	ssml := got.GetInput().GetSsml()
	if !strings.HasPrefix(ssml, "<speak") || !strings.Contains(ssml, fragment) {
		t.Errorf("ssml = %q", ssml)
	}
	if got.GetVoice().GetLanguageCode() != "cmn-TW" {
		t.Errorf("language = %q, want cmn-TW", got.GetVoice().GetLanguageCode())
	}
}

func TestGoogleEngine_Errors(t *testing.T) {
	e := newGoogleEngine(GoogleConfig{}, nil)
	if e.IsAvailable(context.Background()) {
		t.Error("engine without client should be unavailable")
	}
	_, err := e.Synthesize(context.Background(), ttypes.SynthesisRequest{Text: "hi", Locale: ttypes.LocaleEnUS})
	if !errors.Is(err, ttypes.ErrProviderUnavailable) {
		t.Errorf("err = %v, want ErrProviderUnavailable", err)
	}

	quota := errors.New("resource exhausted")
	e.synth = func(context.Context, *texttospeechpb.SynthesizeSpeechRequest) (*texttospeechpb.SynthesizeSpeechResponse, error) {
		return nil, quota
	}
	_, err = e.Synthesize(context.Background(), ttypes.SynthesisRequest{Text: "hi", Locale: ttypes.LocaleEnUS})
	if !errors.Is(err, quota) {
		t.Errorf("err = %v, want %v", err, quota)
	}

	e.synth = func(context.Context, *texttospeechpb.SynthesizeSpeechRequest) (*texttospeechpb.SynthesizeSpeechResponse, error) {
		return &texttospeechpb.SynthesizeSpeechResponse{}, nil
	}
	if _, err = e.Synthesize(context.Background(), ttypes.SynthesisRequest{Text: "hi", Locale: ttypes.LocaleEnUS}); err == nil {
		t.Error("empty audio content should be an error")
	}
}

func TestGoogleEngine_RefreshVoices(t *testing.T) {
	catalog := NewCatalog()
	e := newGoogleEngine(GoogleConfig{}, catalog)
	e.list = func(_ context.Context, req *texttospeechpb.ListVoicesRequest) (*texttospeechpb.ListVoicesResponse, error) {
		if req.GetLanguageCode() != "vi-VN" {
			return &texttospeechpb.ListVoicesResponse{}, nil
		}
		return &texttospeechpb.ListVoicesResponse{Voices: []*texttospeechpb.Voice{
			{Name: "vi-VN-Wavenet-A", SsmlGender: texttospeechpb.SsmlVoiceGender_FEMALE},
			{Name: "vi-VN-Neural2-A", SsmlGender: texttospeechpb.SsmlVoiceGender_FEMALE},
		}}, nil
	}

	added, err := e.RefreshVoices(context.Background())
	if err != nil {
		t.Fatalf("RefreshVoices: %v", err)
	}
	if added != 1 {
		t.Errorf("added = %d, want 1 (Wavenet-A is built in)", added)
	}

	v, ok := catalog.Resolve(ProviderGoogle, ttypes.LocaleViVN, "neural2")
	if !ok || v.ID != "vi-VN-Neural2-A" {
		t.Errorf("Resolve(neural2) = %+v, %v", v, ok)
	}
}
