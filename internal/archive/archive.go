// Package archive optionally uploads an artist's rawdata bundle to an
// S3-compatible bucket once the artist's completion marker is written.
package archive

import (
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
)

// Client uploads harvested artist bundles to an S3-compatible bucket. A
// nil *Client is valid and UploadArtist degrades to a no-op; archival is
// never required for crawl correctness.
type Client struct {
	s3     *s3.S3
	bucket string
}

// New builds a Client against an S3-compatible endpoint. Returns (nil,
// nil) when no bucket is configured.
func New(bucket, endpoint, region, accessKey, secretKey string) (*Client, error) {
	if bucket == "" {
		return nil, nil
	}
	cfg := aws.NewConfig().
		WithRegion(region).
		WithS3ForcePathStyle(true)
	if endpoint != "" {
		cfg = cfg.WithEndpoint(endpoint)
	}
	if accessKey != "" {
		cfg = cfg.WithCredentials(credentials.NewStaticCredentials(accessKey, secretKey, ""))
	}
	sess, err := session.NewSession(cfg)
	if err != nil {
		return nil, fmt.Errorf("archive: new s3 session: %w", err)
	}
	return &Client{s3: s3.New(sess), bucket: bucket}, nil
}

// UploadArtist walks artistDir (the rawdata subtree for one artist) and
// uploads every .json file found, keyed by its path relative to artistDir.
func (c *Client) UploadArtist(artistID, artistDir string) error {
	if c == nil {
		return nil
	}
	return filepath.WalkDir(artistDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || filepath.Ext(path) != ".json" {
			return nil
		}
		rel, relErr := filepath.Rel(artistDir, path)
		if relErr != nil {
			return nil
		}
		return c.uploadFile(artistID, rel, path)
	})
}

func (c *Client) uploadFile(artistID, relPath, absPath string) error {
	data, err := os.ReadFile(absPath)
	if err != nil {
		return err
	}
	key := fmt.Sprintf("artists/%s/%s", artistID, filepath.ToSlash(relPath))
	_, err = c.s3.PutObject(&s3.PutObjectInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	return err
}
