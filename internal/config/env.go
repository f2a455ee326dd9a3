package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/joho/godotenv"
)

// Environment variables naming the Secrets Manager secret that carries DAM
// client credentials and the token encryption key.
const (
	envSecretID       = "DAM_SYNC_SECRET_ID"
	envSecretRegion   = "DAM_SYNC_SECRET_REGION"
	envSecretStage    = "DAM_SYNC_SECRET_STAGE"
	envSecretOverride = "DAM_SYNC_SECRET_OVERRIDE"
)

// SecretFetcher is the slice of the Secrets Manager client used here.
type SecretFetcher interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// LoadEnv seeds the process environment before Load reads it: first from the
// configured secret, then from the first .env file found. Neither source
// replaces a variable that is already set, unless DAM_SYNC_SECRET_OVERRIDE
// is true for the secret.
func LoadEnv(envFile string) {
	if err := loadAWSSecretsIntoEnv(context.Background(), nil); err != nil {
		log.Printf("Secret not loaded: %v", err)
	}
	if path, ok := loadDotEnv(envFile, ".env"); ok {
		log.Printf("Loaded environment from %s", path)
	}
}

// loadDotEnv loads the first readable file among paths.
func loadDotEnv(paths ...string) (string, bool) {
	seen := make(map[string]bool, len(paths))
	for _, p := range paths {
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		if err := godotenv.Load(p); err == nil {
			return p, true
		}
	}
	return "", false
}

// loadAWSSecretsIntoEnv copies the keys of the DAM_SYNC_SECRET_ID secret
// into the environment. A nil client is built from the default AWS chain.
func loadAWSSecretsIntoEnv(ctx context.Context, client SecretFetcher) error {
	id := os.Getenv(envSecretID)
	if id == "" {
		return nil
	}

	if client == nil {
		cfg, err := loadAWSConfig(ctx, os.Getenv(envSecretRegion))
		if err != nil {
			return err
		}
		client = secretsmanager.NewFromConfig(cfg)
	}

	values, err := fetchSecret(ctx, client, id, os.Getenv(envSecretStage))
	if err != nil {
		return err
	}

	override := strings.EqualFold(os.Getenv(envSecretOverride), "true")
	n, err := applyEnv(values, override)
	if err != nil {
		return err
	}
	log.Printf("Applied %d of %d settings from secret %s", n, len(values), id)
	return nil
}

func fetchSecret(ctx context.Context, client SecretFetcher, id, stage string) (map[string]string, error) {
	if stage == "" {
		stage = "AWSCURRENT"
	}
	out, err := client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId:     aws.String(id),
		VersionStage: aws.String(stage),
	})
	if err != nil {
		return nil, fmt.Errorf("secret %s: %w", id, err)
	}

	var raw []byte
	switch {
	case out.SecretString != nil:
		raw = []byte(*out.SecretString)
	case len(out.SecretBinary) > 0:
		raw = out.SecretBinary
	default:
		return nil, fmt.Errorf("secret %s: empty", id)
	}

	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("secret %s: not a JSON object: %w", id, err)
	}
	values := make(map[string]string, len(doc))
	for k, v := range doc {
		if s, ok := v.(string); ok {
			values[k] = s
			continue
		}
		values[k] = fmt.Sprint(v)
	}
	return values, nil
}

// applyEnv sets each value, skipping variables already set unless override.
func applyEnv(values map[string]string, override bool) (int, error) {
	var errs []error
	n := 0
	for k, v := range values {
		if !override && os.Getenv(k) != "" {
			continue
		}
		if err := os.Setenv(k, v); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", k, err))
			continue
		}
		n++
	}
	return n, errors.Join(errs...)
}

func loadAWSConfig(ctx context.Context, region string) (aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	return awsconfig.LoadDefaultConfig(ctx, opts...)
}
