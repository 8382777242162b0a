// Package s3 implements pkg/objectstore.Store for AWS S3 and S3-compatible
// storage (MinIO, Wasabi, DigitalOcean Spaces, and moto in tests).
package s3

// Config configures an S3-backed store.
//
// Authentication priority follows the AWS SDK v2 default chain:
//  1. Explicit AccessKeyID/SecretAccessKey (if provided)
//  2. Environment variables (AWS_ACCESS_KEY_ID, AWS_SECRET_ACCESS_KEY)
//  3. Shared credentials file (~/.aws/credentials)
//  4. Shared config file (~/.aws/config) with profile
//  5. EC2 instance metadata / ECS task role / EKS IRSA
//
// For S3-compatible stores, set Endpoint and typically ForcePathStyle.
type Config struct {
	Bucket string

	// Region: for AWS S3, defaults to us-east-1 when unset. For
	// S3-compatible stores (Endpoint set), no default is applied.
	Region string

	// Endpoint is a custom endpoint URL for S3-compatible stores. Leave
	// empty for AWS S3.
	Endpoint string

	Profile string

	// AccessKeyID/SecretAccessKey are explicit long-term credentials. If set,
	// both must be set; they take precedence over the default chain.
	AccessKeyID     string
	SecretAccessKey string

	// ForcePathStyle forces path-style URLs. Required for most
	// S3-compatible stores and useful for local development against MinIO.
	ForcePathStyle bool

	// MaxKeys is the default page size for List operations. Zero uses
	// DefaultMaxKeys; values over MaxAllowedKeys are clamped.
	MaxKeys int
}

const (
	DefaultMaxKeys   = 1000
	MaxAllowedKeys   = 1000
	DefaultAWSRegion = "us-east-1"
)

func (c *Config) Validate() error {
	if c.Bucket == "" {
		return &ConfigError{Field: "Bucket", Message: "bucket name is required"}
	}
	if (c.AccessKeyID != "") != (c.SecretAccessKey != "") {
		return &ConfigError{
			Field:   "AccessKeyID/SecretAccessKey",
			Message: "both access key ID and secret access key must be provided together",
		}
	}
	return nil
}

type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "s3 config: " + e.Field + ": " + e.Message
}
