package engines

import (
	"sort"
	"strings"
	"sync"

	"github.com/sahilm/fuzzy"

	"github.com/dacbuione/chinese-learning-sub000/internal/ttypes"
)

// Voice represents a provider voice for one locale.
type Voice struct {
	ID       string // provider voice identifier
	Provider string
	Locale   ttypes.Locale
	Name     string // human-readable name
	Gender   string
}

// Catalog lists the voices each provider offers per locale. The first voice
// registered for a provider and locale is its default.
type Catalog struct {
	mu     sync.RWMutex
	voices []Voice
}

// NewCatalog returns a catalog seeded with the built-in voices.
func NewCatalog() *Catalog {
	c := &Catalog{}
	for _, v := range defaultVoices {
		c.Add(v)
	}
	return c
}

// Add registers a voice.
func (c *Catalog) Add(v Voice) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.voices = append(c.voices, v)
}

// Voices returns the voices of a provider for a locale, default first. An
// empty provider matches every provider.
func (c *Catalog) Voices(provider string, locale ttypes.Locale) []Voice {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []Voice
	for _, v := range c.voices {
		if (provider == "" || v.Provider == provider) && (locale == "" || v.Locale == locale) {
			out = append(out, v)
		}
	}
	return out
}

// Providers returns the provider names that have voices registered.
func (c *Catalog) Providers() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	seen := make(map[string]bool)
	var names []string
	for _, v := range c.voices {
		if !seen[v.Provider] {
			seen[v.Provider] = true
			names = append(names, v.Provider)
		}
	}
	sort.Strings(names)
	return names
}

// Resolve picks the provider voice for a request. An empty query yields the
// default voice; otherwise an exact ID match wins, then the best fuzzy match
// over IDs and names, then the default. ok is false when the provider has
// no voice for the locale.
func (c *Catalog) Resolve(provider string, locale ttypes.Locale, query string) (Voice, bool) {
	voices := c.Voices(provider, locale)
	if len(voices) == 0 {
		return Voice{}, false
	}

	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return voices[0], true
	}

	haystack := make([]string, len(voices))
	for i, v := range voices {
		if strings.ToLower(v.ID) == query {
			return v, true
		}
		haystack[i] = strings.ToLower(v.ID + " " + v.Name + " " + v.Gender)
	}

	if matches := fuzzy.Find(query, haystack); len(matches) > 0 {
		return voices[matches[0].Index], true
	}
	return voices[0], true
}

var defaultVoices = []Voice{
	// Google Cloud TTS
	{ID: "cmn-CN-Wavenet-A", Provider: ProviderGoogle, Locale: ttypes.LocaleZhCN, Name: "Wavenet A", Gender: "female"},
	{ID: "cmn-CN-Wavenet-B", Provider: ProviderGoogle, Locale: ttypes.LocaleZhCN, Name: "Wavenet B", Gender: "male"},
	{ID: "cmn-CN-Standard-A", Provider: ProviderGoogle, Locale: ttypes.LocaleZhCN, Name: "Standard A", Gender: "female"},
	{ID: "cmn-TW-Wavenet-A", Provider: ProviderGoogle, Locale: ttypes.LocaleZhTW, Name: "Wavenet A", Gender: "female"},
	{ID: "cmn-TW-Wavenet-B", Provider: ProviderGoogle, Locale: ttypes.LocaleZhTW, Name: "Wavenet B", Gender: "male"},
	{ID: "vi-VN-Wavenet-A", Provider: ProviderGoogle, Locale: ttypes.LocaleViVN, Name: "Wavenet A", Gender: "female"},
	{ID: "vi-VN-Wavenet-B", Provider: ProviderGoogle, Locale: ttypes.LocaleViVN, Name: "Wavenet B", Gender: "male"},
	{ID: "en-US-Wavenet-F", Provider: ProviderGoogle, Locale: ttypes.LocaleEnUS, Name: "Wavenet F", Gender: "female"},
	{ID: "en-US-Wavenet-D", Provider: ProviderGoogle, Locale: ttypes.LocaleEnUS, Name: "Wavenet D", Gender: "male"},

	// Azure Speech
	{ID: "zh-CN-XiaoxiaoNeural", Provider: ProviderAzure, Locale: ttypes.LocaleZhCN, Name: "Xiaoxiao", Gender: "female"},
	{ID: "zh-CN-YunxiNeural", Provider: ProviderAzure, Locale: ttypes.LocaleZhCN, Name: "Yunxi", Gender: "male"},
	{ID: "zh-TW-HsiaoChenNeural", Provider: ProviderAzure, Locale: ttypes.LocaleZhTW, Name: "HsiaoChen", Gender: "female"},
	{ID: "zh-TW-YunJheNeural", Provider: ProviderAzure, Locale: ttypes.LocaleZhTW, Name: "YunJhe", Gender: "male"},
	{ID: "vi-VN-HoaiMyNeural", Provider: ProviderAzure, Locale: ttypes.LocaleViVN, Name: "HoaiMy", Gender: "female"},
	{ID: "vi-VN-NamMinhNeural", Provider: ProviderAzure, Locale: ttypes.LocaleViVN, Name: "NamMinh", Gender: "male"},
	{ID: "en-US-JennyNeural", Provider: ProviderAzure, Locale: ttypes.LocaleEnUS, Name: "Jenny", Gender: "female"},
	{ID: "en-US-GuyNeural", Provider: ProviderAzure, Locale: ttypes.LocaleEnUS, Name: "Guy", Gender: "male"},

	// gTTS voices are language codes
	{ID: "zh-CN", Provider: ProviderGTTS, Locale: ttypes.LocaleZhCN, Name: "Mandarin (China)"},
	{ID: "zh-TW", Provider: ProviderGTTS, Locale: ttypes.LocaleZhTW, Name: "Mandarin (Taiwan)"},
	{ID: "vi", Provider: ProviderGTTS, Locale: ttypes.LocaleViVN, Name: "Vietnamese"},
	{ID: "en", Provider: ProviderGTTS, Locale: ttypes.LocaleEnUS, Name: "English"},

	// eSpeak NG
	{ID: "cmn", Provider: ProviderESpeak, Locale: ttypes.LocaleZhCN, Name: "Mandarin"},
	{ID: "cmn", Provider: ProviderESpeak, Locale: ttypes.LocaleZhTW, Name: "Mandarin"},
	{ID: "vi", Provider: ProviderESpeak, Locale: ttypes.LocaleViVN, Name: "Vietnamese"},
	{ID: "en-us", Provider: ProviderESpeak, Locale: ttypes.LocaleEnUS, Name: "American English"},

	// OS voices (macOS say names; spd-say takes the language)
	{ID: "Tingting", Provider: ProviderNative, Locale: ttypes.LocaleZhCN, Name: "Tingting", Gender: "female"},
	{ID: "Meijia", Provider: ProviderNative, Locale: ttypes.LocaleZhTW, Name: "Meijia", Gender: "female"},
	{ID: "Linh", Provider: ProviderNative, Locale: ttypes.LocaleViVN, Name: "Linh", Gender: "female"},
	{ID: "Samantha", Provider: ProviderNative, Locale: ttypes.LocaleEnUS, Name: "Samantha", Gender: "female"},
}
