// Copyright (c) 2024-2026 F2Fintech
// Author: Codevamp Platform Team <platform@f2fintech.com>
//
// Licensed under GPL-2.0 with F2Fintech Additional Terms.
// See LICENSE.md or contact support@f2fintech.com for commercial usage.

package internal_storage

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"

	"github.com/codevamp-f2fintech/ai-server/pkg/commons"
)

// Uploader persists a blob and returns its public URL.
type Uploader interface {
	Upload(ctx context.Context, key string, body []byte, contentType string) (string, error)
}

type s3Uploader struct {
	logger   commons.Logger
	uploader *s3manager.Uploader
	bucket   string
}

// S3Config holds the object-store knobs consumed by the recording sink.
type S3Config struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
}

// NewS3Uploader builds an S3-backed uploader. Returns (nil, nil) when no
// bucket is configured — callers treat a nil Uploader as "recording off".
func NewS3Uploader(logger commons.Logger, cfg S3Config) (Uploader, error) {
	if cfg.Bucket == "" {
		return nil, nil
	}

	awsCfg := &aws.Config{Region: aws.String(cfg.Region)}
	if cfg.AccessKeyID != "" {
		awsCfg.Credentials = credentials.NewStaticCredentials(cfg.AccessKeyID, cfg.SecretAccessKey, "")
	}

	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create aws session: %w", err)
	}

	return &s3Uploader{
		logger:   logger,
		uploader: s3manager.NewUploader(sess),
		bucket:   cfg.Bucket,
	}, nil
}

func (u *s3Uploader) Upload(ctx context.Context, key string, body []byte, contentType string) (string, error) {
	out, err := u.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload %s to s3: %w", key, err)
	}

	u.logger.Info("Uploaded recording", "key", key, "bytes", len(body), "location", out.Location)
	return out.Location, nil
}
