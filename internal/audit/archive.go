package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"carbon-scribe/verification-service/internal/verification"
	"carbon-scribe/verification-service/pkg/storage"
)

// Archive writes every terminal verification to S3 as JSON
type Archive struct {
	client storage.S3Client
	bucket string
	logger *zap.Logger
}

// NewArchive creates an S3 archive
func NewArchive(client storage.S3Client, bucket string, logger *zap.Logger) *Archive {
	return &Archive{client: client, bucket: bucket, logger: logger}
}

func (a *Archive) Name() string { return "s3-archive" }

// Finalize uploads the record for sub
func (a *Archive) Finalize(ctx context.Context, sub *verification.Submission, result *verification.VerificationResult) error {
	body, err := json.MarshalIndent(NewRecord(sub, result), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode audit record: %w", err)
	}

	key := ArchiveKey(sub)
	if err := a.client.Upload(ctx, a.bucket, key, bytes.NewReader(body), "application/json"); err != nil {
		return err
	}

	a.logger.Debug("Verification archived",
		zap.String("submission_id", sub.ID),
		zap.String("bucket", a.bucket),
		zap.String("key", key))
	return nil
}

// URL returns a time-limited link to the archived record of sub
func (a *Archive) URL(ctx context.Context, sub *verification.Submission, expiration time.Duration) (string, error) {
	return a.client.GetPresignedURL(ctx, a.bucket, ArchiveKey(sub), expiration)
}
