package storage

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"time"

	"content-forge/config"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// NewS3Client erstellt einen S3-Client für den konfigurierten Endpoint.
func NewS3Client(cfg *config.Config) (*s3.Client, error) {
	resolver := aws.EndpointResolverWithOptionsFunc(
		func(service, region string, options ...interface{}) (aws.Endpoint, error) {
			return aws.Endpoint{
				URL:               cfg.S3URL,
				SigningRegion:     cfg.S3Region,
				HostnameImmutable: true,
			}, nil
		},
	)
	awsCfg, err := awsconfig.LoadDefaultConfig(context.TODO(),
		awsconfig.WithRegion(cfg.S3Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.S3Key, cfg.S3Secret, "")),
		awsconfig.WithEndpointResolverWithOptions(resolver),
	)
	if err != nil {
		return nil, err
	}

	return s3.NewFromConfig(awsCfg), nil
}

// UploadFile lädt eine Datei ins S3 hoch und gibt den Link zurück.
func UploadFile(client *s3.Client, bucket, key string, data []byte, cfg *config.Config) (string, error) {
	_, err := client.PutObject(context.TODO(), &s3.PutObjectInput{
		Bucket: &bucket,
		Key:    &key,
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return "", err
	}
	link := fmt.Sprintf("%s/%s/%s", cfg.S3URL, bucket, key)
	return link, nil
}

// UploadContentAsset legt ein Asset (z.B. ein Artikel-Header-Bild)
// unter einem mandantenscoped Key ab und gibt die CDN-URL zurück.
func UploadContentAsset(client *s3.Client, cfg *config.Config, accountID uint, genArticleID uint, filename string, data []byte) (string, error) {
	key := assetKey(accountID, genArticleID, filename, time.Now().UTC())
	return UploadFile(client, cfg.S3Bucket, key, data, cfg)
}

// assetKey baut den Objektschlüssel eines Assets. Der Mandant steht
// vorne im Pfad, damit Objekte nie über Mandantengrenzen kollidieren.
func assetKey(accountID, genArticleID uint, filename string, now time.Time) string {
	return path.Join(
		fmt.Sprintf("accounts/%d", accountID),
		fmt.Sprintf("articles/%d", genArticleID),
		fmt.Sprintf("%d-%s", now.Unix(), filename),
	)
}

// DeleteOldBackups löscht Objekte unter prefix, die älter als keepDays
// sind. Wird vom Backup-Kommando für die Retention genutzt.
func DeleteOldBackups(ctx context.Context, client *s3.Client, bucket, prefix string, keepDays int) (int, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -keepDays)
	deleted := 0

	var token *string
	for {
		out, err := client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            &bucket,
			Prefix:            &prefix,
			ContinuationToken: token,
		})
		if err != nil {
			return deleted, err
		}
		for _, obj := range out.Contents {
			if obj.LastModified == nil || obj.Key == nil || !obj.LastModified.Before(cutoff) {
				continue
			}
			if _, err := client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: &bucket, Key: obj.Key}); err != nil {
				return deleted, err
			}
			deleted++
		}
		if out.IsTruncated == nil || !*out.IsTruncated {
			return deleted, nil
		}
		token = out.NextContinuationToken
	}
}
