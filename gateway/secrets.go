package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// SecretSource fetches the JSON secret document the Resolver merges over
// baseline defaults.
type SecretSource interface {
	Fetch(ctx context.Context) ([]byte, error)
}

// SecretsManagerSource reads the document from AWS Secrets Manager.
type SecretsManagerSource struct {
	arn    string
	client *secretsmanager.Client
	logger *slog.Logger
}

// NewSecretsManagerSource builds the source from the ambient AWS
// credentials chain.
func NewSecretsManagerSource(ctx context.Context, arn string, logger *slog.Logger) (*SecretsManagerSource, error) {
	if arn == "" {
		return nil, fmt.Errorf("secret ARN is empty: %w", ErrInvalidParameter)
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &SecretsManagerSource{
		arn:    arn,
		client: secretsmanager.NewFromConfig(awsCfg),
		logger: logger,
	}, nil
}

// Fetch retrieves the secret string.
func (s *SecretsManagerSource) Fetch(ctx context.Context) ([]byte, error) {
	out, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(s.arn),
	})
	if err != nil {
		return nil, fmt.Errorf("get secret %s: %w", s.arn, err)
	}
	s.logger.Info("loaded secret",
		"arn", aws.ToString(out.ARN),
		"created", aws.ToTime(out.CreatedDate),
	)
	return []byte(aws.ToString(out.SecretString)), nil
}

// FileSource reads the document from a local JSON file. Dev only.
type FileSource struct {
	path string
}

// NewFileSource points at a local secret document.
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

// Fetch reads the file.
func (s *FileSource) Fetch(_ context.Context) ([]byte, error) {
	b, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read secret file: %w", err)
	}
	return b, nil
}
