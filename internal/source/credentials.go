package source

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

// Credentials are the AWS-style keys used to sign bucket requests.
type Credentials struct {
	AccessKeyID     string `envconfig:"AWS_ACCESS_KEY_ID" required:"true"`
	SecretAccessKey string `envconfig:"AWS_SECRET_ACCESS_KEY" required:"true"`
	SessionToken    string `envconfig:"AWS_SESSION_TOKEN"`
}

// LoadCredentials reads credentials from the standard AWS environment
// variables.
func LoadCredentials() (Credentials, error) {
	var creds Credentials
	if err := envconfig.Process("", &creds); err != nil {
		return Credentials{}, fmt.Errorf("%w: failed to get credentials: %w", ErrConfiguration, err)
	}
	// envconfig only checks that required variables are set, not that they
	// are non-empty.
	if creds.AccessKeyID == "" || creds.SecretAccessKey == "" {
		return Credentials{}, fmt.Errorf("%w: failed to get credentials: AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY must not be empty", ErrConfiguration)
	}
	return creds, nil
}
