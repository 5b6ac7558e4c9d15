package config

import (
	"flag"
	"os"
	"strings"
	"time"

	"github.com/avolkov/authcore/internal/flagx"
)

// parseFlags populates selected server Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   HTTP bind address (e.g., ":8080")
//	-d string   PostgreSQL DSN
//	-s string   JWT HMAC secret key
//	-k string   key id for minted tokens
//	-p string   previous verification keys, "kid=secret" pairs joined by commas
//	-t int      access token validity, minutes
//	-r int      refresh token validity, minutes
//	-g int      revoked-record retention, hours
//
// The function first filters os.Args to only the flags it recognizes using
// flagx.FilterArgs, avoiding collisions with other components. Duration
// flags are accepted as integers and converted to time.Duration values.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-d", "-s", "-k", "-p", "-t", "-r", "-g"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.EndpointAddr, "a", config.EndpointAddr, "address and port to run server")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "secret key")
	fs.StringVar(&config.KeyID, "k", config.KeyID, "key id for minted tokens")

	previousKeys := fs.String("p", "", "previous verification keys, kid=secret pairs joined by commas")
	accessTokenValidityDuration := fs.Int("t", int(config.AccessTokenValidityDuration.Minutes()), "access_token_validity_duration (in minutes)")
	refreshTokenValidityDuration := fs.Int("r", int(config.RefreshTokenValidityDuration.Minutes()), "refresh_token_validity_duration (in minutes)")
	revokedRetentionPeriod := fs.Int("g", int(config.RevokedRetentionPeriod.Hours()), "revoked_record_retention (in hours)")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	if *previousKeys != "" {
		config.PreviousKeys = parsePreviousKeys(*previousKeys)
	}

	config.AccessTokenValidityDuration = time.Duration(*accessTokenValidityDuration) * time.Minute
	config.RefreshTokenValidityDuration = time.Duration(*refreshTokenValidityDuration) * time.Minute
	config.RevokedRetentionPeriod = time.Duration(*revokedRetentionPeriod) * time.Hour
}

// parsePreviousKeys splits "kid1=secret1,kid2=secret2" into a map.
// Malformed pairs are skipped.
func parsePreviousKeys(s string) map[string]string {
	keys := make(map[string]string)
	for _, pair := range strings.Split(s, ",") {
		kid, secret, ok := strings.Cut(pair, "=")
		if !ok || kid == "" || secret == "" {
			continue
		}
		keys[kid] = secret
	}
	return keys
}
