// Package secrets retrieves upstream credentials at worker start.
package secrets

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// Credentials is one upstream username/password pair.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// SecretsManagerAPI is the subset of the Secrets Manager client used here.
type SecretsManagerAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// Store fetches named credential secrets.
type Store struct {
	client SecretsManagerAPI
}

// NewStore creates a secrets store.
func NewStore(client SecretsManagerAPI) *Store {
	return &Store{client: client}
}

// GetCredentials fetches and decodes one credentials secret by name.
func (s *Store) GetCredentials(ctx context.Context, secretID string) (Credentials, error) {
	out, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(secretID),
	})
	if err != nil {
		return Credentials{}, fmt.Errorf("failed to fetch secret %s: %w", secretID, err)
	}

	var creds Credentials
	if err := json.Unmarshal([]byte(aws.ToString(out.SecretString)), &creds); err != nil {
		return Credentials{}, fmt.Errorf("failed to decode secret %s: %w", secretID, err)
	}
	if creds.Username == "" || creds.Password == "" {
		return Credentials{}, fmt.Errorf("secret %s is missing username or password", secretID)
	}
	return creds, nil
}
