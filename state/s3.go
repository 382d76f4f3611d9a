package state

import (
	"bytes"
	"context"
	"io"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// S3Options locates the state object.
type S3Options struct {
	Bucket   string
	Key      string
	Region   string
	Endpoint string
	// PathStyle is needed by most S3-compatible servers (MinIO, Ceph).
	PathStyle bool
}

// S3Store keeps the snapshot as a YAML object in S3.
type S3Store struct {
	client s3iface.S3API
	bucket string
	key    string
}

// NewS3Store builds a client from the default AWS credential chain.
func NewS3Store(opts S3Options) (*S3Store, error) {
	if opts.Bucket == "" {
		return nil, errors.New("s3 state store needs a bucket")
	}

	cfg := aws.NewConfig()
	if opts.Region != "" {
		cfg = cfg.WithRegion(opts.Region)
	}
	if opts.Endpoint != "" {
		cfg = cfg.WithEndpoint(opts.Endpoint)
	}
	cfg = cfg.WithS3ForcePathStyle(opts.PathStyle)

	sess, err := session.NewSession(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "create aws session")
	}
	return NewS3StoreWithClient(s3.New(sess), opts.Bucket, opts.Key), nil
}

// NewS3StoreWithClient uses an existing client.
func NewS3StoreWithClient(client s3iface.S3API, bucket, key string) *S3Store {
	if key == "" {
		key = "cheatdetect/state.yaml"
	}
	return &S3Store{client: client, bucket: bucket, key: key}
}

// Save uploads the snapshot, replacing any previous object.
func (s *S3Store) Save(ctx context.Context, snap Snapshot) error {
	data, err := yaml.Marshal(snap)
	if err != nil {
		return errors.Wrap(err, "encode state")
	}

	_, err = s.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/yaml"),
	})
	return errors.Wrapf(err, "put s3://%s/%s", s.bucket, s.key)
}

// Load downloads the snapshot, returning ErrNotFound for a missing object.
func (s *S3Store) Load(ctx context.Context) (Snapshot, error) {
	resp, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	})
	if err != nil {
		var aerr awserr.Error
		if errors.As(err, &aerr) && aerr.Code() == s3.ErrCodeNoSuchKey {
			return Snapshot{}, ErrNotFound
		}
		return Snapshot{}, errors.Wrapf(err, "get s3://%s/%s", s.bucket, s.key)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Snapshot{}, errors.Wrap(err, "read state object")
	}

	var snap Snapshot
	if err := yaml.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, errors.Wrap(err, "decode state object")
	}
	return snap, snap.Validate()
}

// Close is a no-op.
func (s *S3Store) Close() error { return nil }
