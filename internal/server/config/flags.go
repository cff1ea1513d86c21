package config

import (
	"flag"
	"os"
	"time"

	"github.com/dmitrijs2005/imagesigner/internal/flagx"
)

// parseFlags populates selected server Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   HTTP bind address (e.g., ":8080")
//	-d string   PostgreSQL DSN
//	-realm string  Digest authentication realm
//	-n int      nonce validity, minutes
//	-priv/-pub  RSA key PEM file paths
//	-u/-p/-b/-g/-e  S3 root user/password, bucket, region, base endpoint
//	-smtp/-from SMTP server address and sender
//
// The function first filters os.Args to only the flags it recognizes
// using flagx.FilterArgs, avoiding collisions with other components.
// Duration flags are accepted as integers in minutes.
func parseFlags(config *Config) {
	// Filter args to include only the flags handled here.
	args := flagx.FilterArgs(os.Args[1:], []string{
		"-a", "-d", "-realm", "-n", "-priv", "-pub",
		"-u", "-p", "-b", "-g", "-e", "-smtp", "-from",
	})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.EndpointAddrHTTP, "a", config.EndpointAddrHTTP, "address and port to run server")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.DigestRealm, "realm", config.DigestRealm, "digest authentication realm")

	nonceTTL := fs.Int("n", int(config.NonceTTL.Minutes()), "nonce validity (in minutes)")

	fs.StringVar(&config.PrivateKeyPath, "priv", config.PrivateKeyPath, "private key PEM path")
	fs.StringVar(&config.PublicKeyPath, "pub", config.PublicKeyPath, "public key PEM path")

	fs.StringVar(&config.S3RootUser, "u", config.S3RootUser, "S3 root user")
	fs.StringVar(&config.S3RootPassword, "p", config.S3RootPassword, "S3 root password")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 bucket")
	fs.StringVar(&config.S3Region, "g", config.S3Region, "S3 region")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")

	fs.StringVar(&config.SMTPAddr, "smtp", config.SMTPAddr, "SMTP server address (empty disables email)")
	fs.StringVar(&config.SMTPFrom, "from", config.SMTPFrom, "notification sender address")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.NonceTTL = time.Duration(*nonceTTL) * time.Minute
}
