package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/spf13/viper"
)

// ErrMissingCredentials is returned when CLIENT_ID or CLIENT_SECRET is unset or blank
var ErrMissingCredentials = errors.New("CLIENT_ID and CLIENT_SECRET must both be set")

// Credentials is the single client identity accepted by the auth gate and
// used by the trading client.
type Credentials struct {
	ClientID     string
	ClientSecret string
}

// LoadCredentials reads CLIENT_ID and CLIENT_SECRET from a dotenv file and the
// process environment, the environment taking precedence. A missing envFile is
// not an error as long as the environment supplies both values.
func LoadCredentials(envFile string) (*Credentials, error) {
	v := viper.New()
	v.AutomaticEnv()

	if envFile != "" {
		v.SetConfigFile(envFile)
		v.SetConfigType("env")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("failed to read env file %s: %w", envFile, err)
			}
		}
	}

	creds := &Credentials{
		ClientID:     strings.TrimSpace(v.GetString("client_id")),
		ClientSecret: strings.TrimSpace(v.GetString("client_secret")),
	}
	if creds.ClientID == "" || creds.ClientSecret == "" {
		return nil, ErrMissingCredentials
	}
	return creds, nil
}
