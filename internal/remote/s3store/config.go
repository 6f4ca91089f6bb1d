package s3store

import (
	"errors"
	"os"
	"path/filepath"
)

var ErrNoBucket = errors.New("s3store: bucket missing")

type Config struct {
	Bucket    string `json:"bucket" mapstructure:"bucket"`
	Region    string `json:"region" mapstructure:"region"`
	Endpoint  string `json:"endpoint,omitempty" mapstructure:"endpoint"`
	AccessKey string `json:"access_key,omitempty" mapstructure:"access_key"`
	SecretKey string `json:"secret_key,omitempty" mapstructure:"secret_key"`
	// Prefix roots the remote tree below a key prefix.
	Prefix string `json:"prefix,omitempty" mapstructure:"prefix"`
	// SpoolDir holds chunked upload sessions until they are committed.
	SpoolDir string `json:"-" mapstructure:"-"`
}

func (c *Config) Validate() error {
	if c.Bucket == "" {
		return ErrNoBucket
	}
	if c.Region == "" {
		c.Region = "us-east-1"
	}
	if c.SpoolDir == "" {
		c.SpoolDir = filepath.Join(os.TempDir(), "dropsync-chunks")
	}
	return nil
}
