package export

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/storage"
	"github.com/Lllllllleong/hotfolderflow/internal/gcp"
	"github.com/Lllllllleong/hotfolderflow/internal/logging"
	"github.com/Lllllllleong/hotfolderflow/internal/models"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// objectStore creates objects that must not exist yet.
type objectStore interface {
	// Create uploads file as bucket/key and returns models.ErrObjectExists
	// when the key is taken.
	Create(ctx context.Context, bucket, key, file, contentType string) error
}

// CloudOptions configures the object store clients, which are created on
// first use.
type CloudOptions struct {
	GCSCredentialsFile string
	AWSRegion          string
	AWSAccessKey       string
	AWSSecretKey       string
	// Trigger, when set, starts a workflow execution after every gs://
	// upload.
	Trigger *gcp.WorkflowTrigger
	Logger  *slog.Logger
}

// CloudTransport uploads to gs://bucket/prefix or s3://bucket/prefix.
type CloudTransport struct {
	opts   CloudOptions
	mu     sync.Mutex
	stores map[string]objectStore
	open   func(ctx context.Context, scheme string) (objectStore, error)
}

func NewCloudTransport(opts CloudOptions) *CloudTransport {
	t := &CloudTransport{opts: opts, stores: map[string]objectStore{}}
	t.open = t.openStore
	return t
}

func (t *CloudTransport) Method() models.ExportMethod { return models.MethodCloud }

func (t *CloudTransport) Deliver(ctx context.Context, d *Delivery) (string, error) {
	scheme, rest, ok := strings.Cut(d.Dir, "://")
	if !ok || (scheme != "gs" && scheme != "s3") {
		return "", permanent{fmt.Errorf("cloud export path %q must start with gs:// or s3://", d.Dir)}
	}
	var bucket, prefix string
	if scheme == "gs" {
		b, p, err := gcp.ParseGCSURL(d.Dir)
		if err != nil {
			return "", permanent{err}
		}
		bucket, prefix = b, p
	} else {
		bucket, prefix, _ = strings.Cut(rest, "/")
		if bucket == "" {
			return "", permanent{fmt.Errorf("missing bucket in %q", d.Dir)}
		}
		prefix = strings.Trim(prefix, "/")
	}

	store, err := t.store(ctx, scheme)
	if err != nil {
		return "", err
	}

	for n := 0; n < maxNumbered; n++ {
		key := path.Join(prefix, numbered(d.Name, n))
		err := store.Create(ctx, bucket, key, d.Source, d.ContentType)
		if errors.Is(err, models.ErrObjectExists) {
			continue
		}
		if err != nil {
			return "", err
		}
		dest := fmt.Sprintf("%s://%s/%s", scheme, bucket, key)
		if scheme == "gs" && t.opts.Trigger != nil {
			t.trigger(ctx, bucket, key, d)
		}
		return dest, nil
	}
	return "", permanent{fmt.Errorf("no free name for %s in %s", d.Name, d.Dir)}
}

// trigger starts the follow-up workflow. Its failure does not undo the
// upload and is only logged.
func (t *CloudTransport) trigger(ctx context.Context, bucket, key string, d *Delivery) {
	payload := map[string]any{
		"bucket":   bucket,
		"object":   key,
		"exportId": d.Config.ID,
		"fields":   d.Fields,
	}
	exec, err := t.opts.Trigger.Trigger(ctx, payload)
	if err != nil {
		t.logger().Warn("Workflow trigger failed.", "bucket", bucket, "object", key, "error", err)
		return
	}
	t.logger().Info("Workflow triggered.", "execution", exec, "object", key)
}

func (t *CloudTransport) logger() *slog.Logger {
	if t.opts.Logger != nil {
		return t.opts.Logger
	}
	return logging.Discard()
}

func (t *CloudTransport) store(ctx context.Context, scheme string) (objectStore, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.stores[scheme]; ok {
		return s, nil
	}
	s, err := t.open(ctx, scheme)
	if err != nil {
		return nil, err
	}
	t.stores[scheme] = s
	return s, nil
}

func (t *CloudTransport) openStore(ctx context.Context, scheme string) (objectStore, error) {
	switch scheme {
	case "gs":
		client, err := gcp.NewStorageClient(context.WithoutCancel(ctx), t.opts.GCSCredentialsFile)
		if err != nil {
			return nil, err
		}
		return &gcsStore{client: client, logger: t.logger()}, nil
	case "s3":
		return newS3Store(ctx, t.opts)
	}
	return nil, permanent{fmt.Errorf("unsupported scheme %q", scheme)}
}

type gcsStore struct {
	client *storage.Client
	logger *slog.Logger
}

func (g *gcsStore) Create(ctx context.Context, bucket, key, file, contentType string) error {
	f, err := os.Open(file)
	if err != nil {
		return fmt.Errorf("open %s: %w", file, err)
	}
	defer f.Close()
	writeCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()
	return gcp.SaveToGCSAtomically(writeCtx, g.logger, g.client.Bucket(bucket), key, f, contentType)
}

type s3Store struct {
	client   *s3.Client
	uploader *manager.Uploader
}

func newS3Store(ctx context.Context, o CloudOptions) (*s3Store, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(o.AWSRegion)}
	if o.AWSAccessKey != "" && o.AWSSecretKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(o.AWSAccessKey, o.AWSSecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg)
	return &s3Store{client: client, uploader: manager.NewUploader(client)}, nil
}

func (s *s3Store) Create(ctx context.Context, bucket, key, file, contentType string) error {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	if err == nil {
		return models.ErrObjectExists
	}
	var nf *s3types.NotFound
	if !errors.As(err, &nf) {
		return fmt.Errorf("s3 head %s: %w", key, err)
	}

	f, err := os.Open(file)
	if err != nil {
		return fmt.Errorf("open %s: %w", file, err)
	}
	defer f.Close()
	ctxUpload, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()
	_, err = s.uploader.Upload(ctxUpload, &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("s3 upload failed: %w", err)
	}
	return nil
}
