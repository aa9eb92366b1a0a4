package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/yungbote/quizforge-backend/internal/pkg/logger"
)

// Mode selects between real GCS and the local fake-gcs emulator. Production
// never runs in emulator mode; the app config enforces that.
type Mode string

const (
	ModeGCS      Mode = "gcs"
	ModeEmulator Mode = "emulator"
)

// ErrObjectNotFound is returned by Get/Head for missing keys so callers can
// branch without importing the GCS SDK.
var ErrObjectNotFound = errors.New("storage: object not found")

type ObjectAttrs struct {
	Size        int64
	ContentType string
	Updated     time.Time
	ETag        string
}

// BucketService is the content-addressed blob store used for raw uploads and
// parsed-content JSON.
type BucketService interface {
	Put(ctx context.Context, key string, contentType string, body io.Reader) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	// Head checks existence without reading the body. Status projection uses
	// it instead of trusting the ledger's status field.
	Head(ctx context.Context, key string) (*ObjectAttrs, error)
	Delete(ctx context.Context, key string) error
	// PublicURL is the externally resolvable URL handed to the parser in
	// production mode.
	PublicURL(key string) string
}

type Config struct {
	Mode         Mode
	Bucket       string
	EmulatorHost string
	// PublicBaseURL overrides the default https://storage.googleapis.com base
	// when serving through a CDN or the emulator.
	PublicBaseURL string
}

type bucketService struct {
	log    *logger.Logger
	client *gcs.Client
	cfg    Config
}

func NewBucketService(ctx context.Context, log *logger.Logger, cfg Config) (BucketService, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("storage: bucket name required")
	}
	var client *gcs.Client
	var err error
	switch cfg.Mode {
	case ModeGCS, "":
		cfg.Mode = ModeGCS
		client, err = gcs.NewClient(ctx, option.WithScopes(gcs.ScopeReadWrite))
	case ModeEmulator:
		host := strings.TrimRight(strings.TrimSpace(cfg.EmulatorHost), "/")
		if host == "" {
			return nil, fmt.Errorf("storage: emulator mode requires emulator host")
		}
		client, err = gcs.NewClient(ctx,
			option.WithoutAuthentication(),
			option.WithEndpoint(host+"/storage/v1/"),
		)
	default:
		return nil, fmt.Errorf("storage: unsupported mode %q", cfg.Mode)
	}
	if err != nil {
		return nil, fmt.Errorf("storage: create client: %w", err)
	}
	serviceLog := log.With("service", "BucketService")
	serviceLog.Info("Object storage initialized", "mode", cfg.Mode, "bucket", cfg.Bucket)
	return &bucketService{log: serviceLog, client: client, cfg: cfg}, nil
}

func (s *bucketService) Put(ctx context.Context, key string, contentType string, body io.Reader) error {
	w := s.client.Bucket(s.cfg.Bucket).Object(key).NewWriter(ctx)
	if contentType != "" {
		w.ContentType = contentType
	}
	if _, err := io.Copy(w, body); err != nil {
		_ = w.Close()
		return fmt.Errorf("storage: write %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("storage: finalize %s: %w", key, err)
	}
	return nil
}

func (s *bucketService) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	r, err := s.client.Bucket(s.cfg.Bucket).Object(key).NewReader(ctx)
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return nil, ErrObjectNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", key, err)
	}
	return r, nil
}

func (s *bucketService) Head(ctx context.Context, key string) (*ObjectAttrs, error) {
	attrs, err := s.client.Bucket(s.cfg.Bucket).Object(key).Attrs(ctx)
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return nil, ErrObjectNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: stat %s: %w", key, err)
	}
	return &ObjectAttrs{
		Size:        attrs.Size,
		ContentType: attrs.ContentType,
		Updated:     attrs.Updated,
		ETag:        attrs.Etag,
	}, nil
}

func (s *bucketService) Delete(ctx context.Context, key string) error {
	err := s.client.Bucket(s.cfg.Bucket).Object(key).Delete(ctx)
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("storage: delete %s: %w", key, err)
	}
	return nil
}

func (s *bucketService) PublicURL(key string) string {
	base := strings.TrimRight(strings.TrimSpace(s.cfg.PublicBaseURL), "/")
	if base == "" {
		base = "https://storage.googleapis.com"
	}
	return fmt.Sprintf("%s/%s/%s", base, s.cfg.Bucket, key)
}
