// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package coordinator

import (
	"net/url"
	"strings"

	"github.com/juju/errors"
	"github.com/juju/schema"
)

// ErrS3NotReady reports that the object-storage integration is absent
// or not yet complete. It is a transient dependency condition,
// surfaced as a blocking status on every pass and never escalated to a
// failure.
const ErrS3NotReady = errors.ConstError("s3 integration inactive")

// S3Config is the object-storage connection in the form coordinated
// workloads consume it in their configuration.
type S3Config struct {
	// Endpoint is the storage endpoint with the scheme stripped.
	Endpoint string

	// Insecure is set when the raw endpoint was not https.
	Insecure bool

	Region          string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string

	// TLSCAChain holds CA PEMs to trust when talking to the endpoint,
	// when the integrator published any.
	TLSCAChain []string
}

var s3Schema = schema.FieldMap(
	schema.Fields{
		"bucket":       schema.String(),
		"endpoint":     schema.String(),
		"access-key":   schema.String(),
		"secret-key":   schema.String(),
		"region":       schema.String(),
		"tls-ca-chain": schema.List(schema.String()),
	},
	schema.Defaults{
		"region":       "",
		"tls-ca-chain": schema.Omit,
	},
)

// ParseS3ConnectionInfo coerces the integrator's raw attributes into
// an S3Config, renaming keys to the form workload configs use. An
// incomplete attribute set means the integration is still settling and
// maps to ErrS3NotReady, never to a hard failure.
func ParseS3ConnectionInfo(raw map[string]interface{}) (*S3Config, error) {
	if len(raw) == 0 {
		return nil, ErrS3NotReady
	}
	coerced, err := s3Schema.Coerce(raw, nil)
	if err != nil {
		logger.Debugf("s3 connection info incomplete: %v", err)
		return nil, ErrS3NotReady
	}
	attrs := coerced.(map[string]interface{})
	endpoint := attrs["endpoint"].(string)
	config := &S3Config{
		Endpoint:        stripScheme(endpoint),
		Insecure:        !strings.HasPrefix(endpoint, "https://"),
		Region:          attrs["region"].(string),
		AccessKeyID:     attrs["access-key"].(string),
		SecretAccessKey: attrs["secret-key"].(string),
		BucketName:      attrs["bucket"].(string),
	}
	if chain, ok := attrs["tls-ca-chain"]; ok {
		for _, cert := range chain.([]interface{}) {
			config.TLSCAChain = append(config.TLSCAChain, cert.(string))
		}
	}
	return config, nil
}

// S3Config returns the current object-storage connection, or
// ErrS3NotReady while the integration is missing or incomplete.
func (c *Coordinator) S3Config() (*S3Config, error) {
	return ParseS3ConnectionInfo(c.config.S3.ConnectionInfo())
}

func (c *Coordinator) s3Ready() bool {
	_, err := c.S3Config()
	return err == nil
}

// stripScheme removes the url scheme prefix, "https://minio:9000"
// becoming "minio:9000".
func stripScheme(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err != nil || u.Scheme == "" {
		return endpoint
	}
	return strings.TrimPrefix(endpoint, u.Scheme+"://")
}
