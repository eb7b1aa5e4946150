package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAWSConfig_StaticCredentials(t *testing.T) {
	cfg, err := LoadAWSConfig(context.Background(), AWSOptions{
		Region:          "eu-west-1",
		AccessKeyID:     "AKIDEXAMPLE",
		SecretAccessKey: "secret",
	})
	require.NoError(t, err)
	assert.Equal(t, "eu-west-1", cfg.Region)

	creds, err := cfg.Credentials.Retrieve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "AKIDEXAMPLE", creds.AccessKeyID)
}

func TestS3Client_PresignedURL(t *testing.T) {
	cfg, err := LoadAWSConfig(context.Background(), AWSOptions{
		Region:          "us-east-1",
		AccessKeyID:     "AKIDEXAMPLE",
		SecretAccessKey: "secret",
	})
	require.NoError(t, err)

	client := NewS3Client(cfg, "http://localhost:9000")
	url, err := client.GetPresignedURL(context.Background(), "audit", "verifications/plantation/p-1.json", 15*time.Minute)
	require.NoError(t, err)
	assert.Contains(t, url, "http://localhost:9000/audit/verifications/plantation/p-1.json")
	assert.Contains(t, url, "X-Amz-Expires=900")
}
