package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// Store types accepted by New.
const (
	TypeLocal = "local"
	TypeS3    = "s3"
)

// ErrNotFound is returned by Get when no object exists at the key.
var ErrNotFound = errors.New("object not found")

// Store keeps uploaded books and translated output under slash-separated keys.
type Store interface {
	Put(ctx context.Context, key string, data io.Reader) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]string, error)
	Close() error
}

type LocalConfig struct {
	BasePath string `json:"base_path" yaml:"base_path"`
}

type S3Config struct {
	Bucket          string `json:"bucket" yaml:"bucket"`
	Region          string `json:"region" yaml:"region"`
	Endpoint        string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	AccessKeyID     string `json:"access_key_id,omitempty" yaml:"access_key_id,omitempty"`
	SecretAccessKey string `json:"secret_access_key,omitempty" yaml:"secret_access_key,omitempty"`
	UsePathStyle    bool   `json:"use_path_style" yaml:"use_path_style"`
	Prefix          string `json:"prefix,omitempty" yaml:"prefix,omitempty"`
}

type Config struct {
	Type  string
	Local LocalConfig
	S3    S3Config
}

// New builds the store selected by cfg.Type.
func New(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Type {
	case TypeLocal, "":
		return NewLocal(cfg.Local.BasePath)
	case TypeS3:
		return NewS3(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}
