package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"time"

	"github.com/dmitrijs2005/authkeeper/internal/timex"
	"github.com/joho/godotenv"
)

// loadDotEnv exports the variables from path into the process environment.
// Variables that are already set win; a missing file is not an error.
func loadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// parseEnv overlays Config with environment variables read through getenv.
// Unset (empty) variables leave the current value untouched.
//
// PORT is honoured for platforms that only hand out a port number; HTTP_ADDR
// takes precedence when both are present.
func parseEnv(c *Config, getenv func(string) string) error {
	str := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}

	var errs []error
	dur := func(key string, dst *time.Duration) {
		if v := getenv(key); v != "" {
			d, err := timex.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}
	num := func(key string, bits int, set func(int64)) {
		if v := getenv(key); v != "" {
			n, err := strconv.ParseInt(v, 10, bits)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			set(n)
		}
	}

	if port := getenv("PORT"); port != "" {
		c.EndpointAddrHTTP = ":" + port
	}
	str("HTTP_ADDR", &c.EndpointAddrHTTP)
	str("GRPC_ADDR", &c.EndpointAddrGRPC)
	str("STORAGE", &c.Storage)
	str("DATABASE_DSN", &c.DatabaseDSN)
	str("ACCESS_TOKEN_SECRET", &c.AccessTokenSecret)
	str("REFRESH_TOKEN_SECRET", &c.RefreshTokenSecret)
	dur("ACCESS_TOKEN_EXPIRY", &c.AccessTokenValidityDuration)
	dur("REFRESH_TOKEN_EXPIRY", &c.RefreshTokenValidityDuration)
	num("BCRYPT_COST", 32, func(n int64) { c.BcryptCost = int(n) })
	str("CORS_ORIGIN", &c.CORSOrigin)
	str("COOKIE_DOMAIN", &c.CookieDomain)
	str("UPLOAD_DIR", &c.UploadDir)
	num("MAX_UPLOAD_SIZE", 64, func(n int64) { c.MaxUploadSize = n })
	str("S3_ACCESS_KEY", &c.S3RootUser)
	str("S3_SECRET_KEY", &c.S3RootPassword)
	str("S3_BUCKET", &c.S3Bucket)
	str("S3_REGION", &c.S3Region)
	str("S3_BASE_ENDPOINT", &c.S3BaseEndpoint)
	str("S3_PUBLIC_BASE_URL", &c.S3PublicBaseURL)
	str("LOG_LEVEL", &c.LogLevel)

	return errors.Join(errs...)
}
