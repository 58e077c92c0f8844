package config

import (
	"flag"
	"io"
	"time"

	"github.com/dmitrijs2005/authkeeper/internal/flagx"
	"github.com/dmitrijs2005/authkeeper/internal/timex"
)

// serverFlags lists every flag parseFlags understands; anything else on the
// command line is left to other parsers.
var serverFlags = []string{
	"-a", "-grpc", "-storage", "-d", "-s", "-rs", "-t", "-r", "-cost", "-cors",
	"-u", "-p", "-b", "-g", "-e", "-public-url", "-log",
}

// parseFlags populates Config fields from command-line flags.
//
// Supported flags:
//
//	-a string          HTTP bind address (e.g., ":8000")
//	-grpc string       gRPC health bind address (e.g., ":50051")
//	-storage string    storage backend: postgres or memory
//	-d string          PostgreSQL DSN
//	-s string          access token HMAC secret
//	-rs string         refresh token HMAC secret
//	-t duration        access token validity ("15m", "1d")
//	-r duration        refresh token validity ("10d")
//	-cost int          bcrypt cost
//	-cors string       allowed CORS origin
//	-u string          S3 access key
//	-p string          S3 secret key
//	-b string          S3 bucket name
//	-g string          S3 region
//	-e string          S3 base endpoint (e.g., "http://127.0.0.1:9000/")
//	-public-url string public prefix of media URLs
//	-log string        log level
func parseFlags(config *Config, args []string) error {
	args = flagx.FilterArgs(args, serverFlags)

	fs := flag.NewFlagSet("main", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&config.EndpointAddrHTTP, "a", config.EndpointAddrHTTP, "address and port to run the HTTP server")
	fs.StringVar(&config.EndpointAddrGRPC, "grpc", config.EndpointAddrGRPC, "address and port to run the gRPC health server")
	fs.StringVar(&config.Storage, "storage", config.Storage, "storage backend (postgres or memory)")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.AccessTokenSecret, "s", config.AccessTokenSecret, "access token secret")
	fs.StringVar(&config.RefreshTokenSecret, "rs", config.RefreshTokenSecret, "refresh token secret")
	fs.Func("t", "access token validity", durationFlag(&config.AccessTokenValidityDuration))
	fs.Func("r", "refresh token validity", durationFlag(&config.RefreshTokenValidityDuration))
	fs.IntVar(&config.BcryptCost, "cost", config.BcryptCost, "bcrypt cost")
	fs.StringVar(&config.CORSOrigin, "cors", config.CORSOrigin, "allowed CORS origin")
	fs.StringVar(&config.S3RootUser, "u", config.S3RootUser, "S3 access key")
	fs.StringVar(&config.S3RootPassword, "p", config.S3RootPassword, "S3 secret key")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 bucket")
	fs.StringVar(&config.S3Region, "g", config.S3Region, "S3 region")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")
	fs.StringVar(&config.S3PublicBaseURL, "public-url", config.S3PublicBaseURL, "public media URL prefix")
	fs.StringVar(&config.LogLevel, "log", config.LogLevel, "log level")

	return fs.Parse(args)
}

func durationFlag(dst *time.Duration) func(string) error {
	return func(s string) error {
		d, err := timex.ParseDuration(s)
		if err != nil {
			return err
		}
		*dst = d
		return nil
	}
}
