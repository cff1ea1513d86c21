package config

import (
	"encoding/json"
	"os"

	"github.com/dmitrijs2005/imagesigner/internal/flagx"
	"github.com/dmitrijs2005/imagesigner/internal/timex"
)

// JsonConfig defines a configuration structure tailored for JSON
// unmarshalling. It uses timex.Duration for interval fields, which
// allows parsing both string values such as "5m" and integer
// nanoseconds.
//
// This struct is an intermediate DTO used only for reading JSON
// configuration files. After unmarshalling, its fields are copied into
// the runtime Config struct which uses time.Duration.
type JsonConfig struct {
	EndpointAddrHTTP  string         `json:"endpoint_addr_http"`
	DatabaseDSN       string         `json:"database_dsn"`
	DigestRealm       string         `json:"digest_realm"`
	NonceTTL          timex.Duration `json:"nonce_ttl"`
	PrivateKeyPath    string         `json:"private_key_path"`
	PublicKeyPath     string         `json:"public_key_path"`
	MaxUploadBytes    int64          `json:"max_upload_bytes"`
	S3RootUser        string         `json:"s3_root_user"`
	S3RootPassword    string         `json:"s3_root_password"`
	S3Bucket          string         `json:"s3_bucket"`
	S3Region          string         `json:"s3_region"`
	S3BaseEndpoint    string         `json:"s3_base_endpoint"`
	SMTPAddr          string         `json:"smtp_addr"`
	SMTPFrom          string         `json:"smtp_from"`
	NotifyMaxAttempts int            `json:"notify_max_attempts"`
}

// parseJson loads configuration values from a JSON file into the
// provided Config instance.
//
// The file path comes from the -c or -config command-line flags; when
// neither is set, no JSON file is loaded. If the file cannot be read or
// contains invalid JSON, the function panics: a server started with a
// broken config file should not come up.
func parseJson(config *Config) {

	jsonConfigFile := flagx.JsonConfigFlags()

	// nothing to load
	if jsonConfigFile == "" {
		return
	}

	c := &JsonConfig{}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	err = json.Unmarshal(file, c)
	if err != nil {
		panic(err)
	}

	config.EndpointAddrHTTP = c.EndpointAddrHTTP
	config.DatabaseDSN = c.DatabaseDSN
	config.DigestRealm = c.DigestRealm
	config.NonceTTL = c.NonceTTL.Duration
	config.PrivateKeyPath = c.PrivateKeyPath
	config.PublicKeyPath = c.PublicKeyPath
	config.MaxUploadBytes = c.MaxUploadBytes
	config.S3RootUser = c.S3RootUser
	config.S3RootPassword = c.S3RootPassword
	config.S3Bucket = c.S3Bucket
	config.S3Region = c.S3Region
	config.S3BaseEndpoint = c.S3BaseEndpoint
	config.SMTPAddr = c.SMTPAddr
	config.SMTPFrom = c.SMTPFrom
	config.NotifyMaxAttempts = c.NotifyMaxAttempts
}
