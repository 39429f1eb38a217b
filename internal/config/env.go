package config

import (
	"fmt"
	"log/slog"

	"github.com/kelseyhightower/envconfig"
)

type BaseEnv struct {
	Env      string `envconfig:"ENV" default:"local"`
	HTTPHost string `envconfig:"HTTP_HOST" default:""`
	HTTPPort string `envconfig:"HTTP_PORT" default:"3200"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"debug"`
}

type StorageEnv struct {
	Type    string `envconfig:"STORAGE_TYPE" default:"local"`
	BaseDir string `envconfig:"STORAGE_BASE_DIR" default:".foreman/data"`
	// S3 settings (used when Type == "s3")
	S3Bucket string `envconfig:"S3_BUCKET"`
	S3Prefix string `envconfig:"S3_PREFIX" default:"foreman/"`
	S3Region string `envconfig:"S3_REGION" default:"us-west-2"`
}

type VAPIDEnv struct {
	VAPIDPublicKey  string `envconfig:"VAPID_PUBLIC_KEY"`
	VAPIDPrivateKey string `envconfig:"VAPID_PRIVATE_KEY"`
	VAPIDContact    string `envconfig:"VAPID_CONTACT" default:"mailto:ops@example.com"`
}

type Env struct {
	BaseEnv
	StorageEnv
	VAPIDEnv
}

const namespace = "FOREMAN"

func LoadEnv() (*Env, error) {
	var env Env
	if err := envconfig.Process(namespace, &env); err != nil {
		return nil, fmt.Errorf("failed to load env: %w", err)
	}
	return &env, nil
}

func (e *BaseEnv) SlogLevel() slog.Level {
	if e == nil {
		return slog.LevelDebug
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(e.LogLevel)); err != nil {
		return slog.LevelDebug
	}
	return level
}
