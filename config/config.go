package config

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	DefaultPort        = 3000
	DefaultRegion      = "us-east-1"
	DefaultDebugPrefix = "email"
	DefaultDebugKey    = "email/e84n1mjighsqeb3mudsvpbvj86g0f94c7k39l901"

	// awsMaxAttempts caps the SDK's own retries for S3 calls
	awsMaxAttempts = 3
)

// Config captures everything the benchmark server needs to start.
type Config struct {
	Port            int
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	DebugPrefix     string
	DebugKey        string
	LogLevel        string
}

// Validate checks option ranges.
func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.Region == "" {
		return fmt.Errorf("region must not be empty")
	}
	if (c.AccessKeyID == "") != (c.SecretAccessKey == "") {
		log.Warn().Msg("Only one of access key ID and secret access key set, falling back to the default credential chain")
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// Addr returns the listen address for the HTTP server.
func (c Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// HasStaticCredentials reports whether both parts of an access key are set.
func (c Config) HasStaticCredentials() bool {
	return c.AccessKeyID != "" && c.SecretAccessKey != ""
}

// LoadAWS builds the SDK configuration. Explicit keys are used only when
// both are present; otherwise the default chain (environment, shared config,
// instance role) applies.
func LoadAWS(ctx context.Context, c Config) (aws.Config, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(c.Region),
		awsconfig.WithRetryMaxAttempts(awsMaxAttempts),
	}

	if c.HasStaticCredentials() {
		log.Info().Msg("Using explicit AWS credentials")
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(c.AccessKeyID, c.SecretAccessKey, ""),
		))
	} else {
		log.Info().Msg("Using AWS IAM role or environment credentials")
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return cfg, nil
}

// ParseLevel maps a log level name to a zerolog level.
func ParseLevel(level string) (zerolog.Level, error) {
	switch level {
	case "debug":
		return zerolog.DebugLevel, nil
	case "", "info":
		return zerolog.InfoLevel, nil
	case "warn":
		return zerolog.WarnLevel, nil
	case "error":
		return zerolog.ErrorLevel, nil
	default:
		return zerolog.InfoLevel, fmt.Errorf("invalid log level %q (expected debug, info, warn or error)", level)
	}
}
