package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Secrets are provider credentials read from the environment.
type Secrets struct {
	GoogleCredentials string `env:"GOOGLE_APPLICATION_CREDENTIALS"`
	AzureKey          string `env:"AZURE_SPEECH_KEY"`
	AzureRegion       string `env:"AZURE_SPEECH_REGION"`
	DeepgramKey       string `env:"DEEPGRAM_API_KEY"`
}

// LoadSecrets loads the given dotenv files, skipping ones that do not
// exist, and then parses the environment. Variables already set in the
// environment win over dotenv values.
func LoadSecrets(dotenvFiles ...string) (Secrets, error) {
	var present []string
	for _, f := range dotenvFiles {
		if _, err := os.Stat(f); err == nil {
			present = append(present, f)
		} else if !errors.Is(err, fs.ErrNotExist) {
			return Secrets{}, fmt.Errorf("unable to stat %s: %w", f, err)
		}
	}
	if len(present) > 0 {
		if err := godotenv.Load(present...); err != nil {
			return Secrets{}, fmt.Errorf("unable to load dotenv: %w", err)
		}
	}

	s, err := env.ParseAs[Secrets]()
	if err != nil {
		return Secrets{}, fmt.Errorf("error parsing environment: %w", err)
	}
	return s, nil
}

// apply copies credentials into the sections that use them. Values in the
// file take precedence so a test config can pin them.
func (s Secrets) apply(c *Config) {
	if c.Google.CredentialsFile == "" {
		c.Google.CredentialsFile = s.GoogleCredentials
	}
	if c.Azure.Key == "" {
		c.Azure.Key = s.AzureKey
	}
	if c.Azure.Region == "" {
		c.Azure.Region = s.AzureRegion
	}
	if c.Deepgram.APIKey == "" {
		c.Deepgram.APIKey = s.DeepgramKey
	}
}
