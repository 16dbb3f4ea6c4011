package engines

import (
	"testing"

	"github.com/dacbuione/chinese-learning-sub000/internal/ttypes"
)

func TestCatalogResolve(t *testing.T) {
	c := NewCatalog()

	tests := []struct {
		name     string
		provider string
		locale   ttypes.Locale
		query    string
		wantID   string
		wantOK   bool
	}{
		{"default voice", ProviderAzure, ttypes.LocaleZhCN, "", "zh-CN-XiaoxiaoNeural", true},
		{"exact id", ProviderAzure, ttypes.LocaleZhCN, "zh-CN-YunxiNeural", "zh-CN-YunxiNeural", true},
		{"exact id case-insensitive", ProviderGoogle, ttypes.LocaleViVN, "VI-VN-WAVENET-B", "vi-VN-Wavenet-B", true},
		{"fuzzy name", ProviderAzure, ttypes.LocaleViVN, "namminh", "vi-VN-NamMinhNeural", true},
		{"fuzzy partial name", ProviderGoogle, ttypes.LocaleEnUS, "wavenet d", "en-US-Wavenet-D", true},
		{"no match falls back to default", ProviderAzure, ttypes.LocaleEnUS, "zzzz", "en-US-JennyNeural", true},
		{"unknown locale", ProviderAzure, "fr-FR", "", "", false},
		{"unknown provider", "polly", ttypes.LocaleZhCN, "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, ok := c.Resolve(tt.provider, tt.locale, tt.query)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if v.ID != tt.wantID {
				t.Errorf("ID = %q, want %q", v.ID, tt.wantID)
			}
		})
	}
}

func TestCatalogVoicesAndProviders(t *testing.T) {
	c := NewCatalog()

	for _, p := range []string{ProviderGoogle, ProviderAzure, ProviderGTTS, ProviderESpeak, ProviderNative} {
		for _, l := range allLocales {
			if len(c.Voices(p, l)) == 0 {
				t.Errorf("%s has no voice for %s", p, l)
			}
		}
	}

	c.Add(Voice{ID: "m1", Provider: ProviderMock, Locale: ttypes.LocaleZhCN})
	providers := c.Providers()
	want := []string{ProviderAzure, ProviderESpeak, ProviderGoogle, ProviderGTTS, ProviderMock, ProviderNative}
	if len(providers) != len(want) {
		t.Fatalf("Providers() = %v", providers)
	}
	for i := range want {
		if providers[i] != want[i] {
			t.Errorf("Providers()[%d] = %q, want %q", i, providers[i], want[i])
		}
	}

	if n := len(c.Voices("", ttypes.LocaleZhTW)); n < 5 {
		t.Errorf("zh-TW across providers = %d voices", n)
	}
}
