// Package archive writes closed proposal snapshots to S3-compatible object
// storage.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"agenda/api/internal/agenda"
)

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
}

type objectStore interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

type Archiver struct {
	objects objectStore
	bucket  string
	logger  *slog.Logger
}

// Document is the archived form of a proposal.
type Document struct {
	Proposal   agenda.Proposal `json:"proposal"`
	ArchivedAt time.Time       `json:"archivedAt"`
	Tally      map[string]int  `json:"tally"`
}

// New connects to the object store and makes sure the bucket exists.
func New(ctx context.Context, cfg Config) (*Archiver, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create object storage client: %w", err)
	}
	if err := ensureBucket(ctx, client, cfg.Bucket, cfg.Region); err != nil {
		return nil, err
	}
	return newArchiver(client, cfg.Bucket), nil
}

func newArchiver(objects objectStore, bucket string) *Archiver {
	return &Archiver{objects: objects, bucket: bucket, logger: slog.Default().With("component", "archive")}
}

func ensureBucket(ctx context.Context, client *minio.Client, bucket, region string) error {
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", bucket, err)
	}
	if exists {
		return nil
	}
	if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: region}); err != nil {
		return fmt.Errorf("create bucket %s: %w", bucket, err)
	}
	slog.Info("archive bucket created", "component", "archive", "bucket", bucket)
	return nil
}

// ObjectKey is closed/YYYY/MM/<id>.json, dated by the closure.
func ObjectKey(p agenda.Proposal) string {
	closedAt := p.UpdatedAt
	if p.Closure != nil {
		closedAt = p.Closure.ClosedAt
	}
	closedAt = closedAt.UTC()
	return fmt.Sprintf("closed/%04d/%02d/%s.json", closedAt.Year(), int(closedAt.Month()), p.ID)
}

// Archive uploads the snapshot and returns its location as bucket/key.
func (a *Archiver) Archive(ctx context.Context, p agenda.Proposal) (string, error) {
	if !p.IsClosed() {
		return "", fmt.Errorf("%w: proposal %s is still open", agenda.ErrInvalidState, p.ID)
	}
	tally := make(map[string]int)
	for option, count := range p.Tally() {
		tally[string(option)] = count
	}
	body, err := json.Marshal(Document{Proposal: p, ArchivedAt: time.Now().UTC(), Tally: tally})
	if err != nil {
		return "", fmt.Errorf("encode archive document: %w", err)
	}

	key := ObjectKey(p)
	info, err := a.objects.PutObject(ctx, a.bucket, key, bytes.NewReader(body), int64(len(body)), minio.PutObjectOptions{
		ContentType: "application/json",
		UserMetadata: map[string]string{
			"proposal-id":    p.ID,
			"closure-reason": string(p.Closure.Reason),
		},
	})
	if err != nil {
		return "", fmt.Errorf("put %s: %w", key, err)
	}
	a.logger.Debug("proposal snapshot uploaded", "proposal_id", p.ID, "key", key, "size", info.Size)
	return a.bucket + "/" + key, nil
}
