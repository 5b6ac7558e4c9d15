package config

import (
	"encoding/json"
	"os"

	"github.com/avolkov/authcore/internal/flagx"
	"github.com/avolkov/authcore/internal/timex"
)

// JsonConfig is the intermediate DTO for the JSON overlay. Interval fields
// use timex.Duration so the file can hold either strings like "15m" or
// integer nanoseconds.
type JsonConfig struct {
	EndpointAddr                 string            `json:"endpoint_addr"`
	DatabaseDSN                  string            `json:"database_dsn"`
	SecretKey                    string            `json:"secret_key"`
	KeyID                        string            `json:"key_id"`
	PreviousKeys                 map[string]string `json:"previous_keys"`
	AccessTokenValidityDuration  timex.Duration    `json:"access_token_validity_duration"`
	RefreshTokenValidityDuration timex.Duration    `json:"refresh_token_validity_duration"`
	RevokedRetentionPeriod       timex.Duration    `json:"revoked_retention_period"`
}

// parseJson loads configuration values from the JSON file named by the
// -c/-config flag into config. When no such flag is given, nothing is
// loaded. An unreadable or invalid file panics: a half-applied config is
// worse than a refused start.
func parseJson(config *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	c := &JsonConfig{}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	config.EndpointAddr = c.EndpointAddr
	config.DatabaseDSN = c.DatabaseDSN
	config.SecretKey = c.SecretKey
	config.KeyID = c.KeyID
	if c.PreviousKeys != nil {
		config.PreviousKeys = c.PreviousKeys
	}
	config.AccessTokenValidityDuration = c.AccessTokenValidityDuration.Std()
	config.RefreshTokenValidityDuration = c.RefreshTokenValidityDuration.Std()
	config.RevokedRetentionPeriod = c.RevokedRetentionPeriod.Std()
}
