package cfg

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/secretsmanager"
	"github.com/aws/aws-sdk-go/service/secretsmanager/secretsmanageriface"

	"mt5-bot/internal/common"
)

// NewSecretsClient builds a Secrets Manager client for the region in
// MT5_SECRET_REGION, falling back to us-east-2.
func NewSecretsClient() (secretsmanageriface.SecretsManagerAPI, error) {
	region := getEnvOrDefault(common.EnvSecretRegion, common.DefaultSecretRegion)
	sess, err := session.NewSession(aws.NewConfig().WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}
	return secretsmanager.New(sess), nil
}

// ResolvePassword fills an empty connection password from the Secrets Manager
// secret named by MT5_PASSWORD_SECRET_ID. It is a no-op when a password is
// already set or no secret id is configured.
func ResolvePassword(ctx context.Context, conn *ConnectionSettings, client secretsmanageriface.SecretsManagerAPI) error {
	if conn.Password != "" {
		return nil
	}
	secretID := os.Getenv(common.EnvPasswordSecretID)
	if secretID == "" {
		return nil
	}

	out, err := client.GetSecretValueWithContext(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(secretID),
	})
	if err != nil {
		return fmt.Errorf("failed to fetch secret %s: %w", secretID, err)
	}
	if out.SecretString == nil || strings.TrimSpace(*out.SecretString) == "" {
		return fmt.Errorf("secret %s has no string value", secretID)
	}

	conn.Password = strings.TrimSpace(*out.SecretString)
	return nil
}
