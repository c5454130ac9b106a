// Package s3fs maps the folder/file model onto an S3-compatible bucket.
// A folder id is a key prefix ending in "/"; a file id is its full key.
// Folders are materialized as zero-byte marker objects so empty folders
// survive, and file modification times travel as user metadata.
package s3fs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"drivesync/internal/fs"
	"drivesync/internal/meta"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"golang.org/x/sync/errgroup"
)

// MetaModifiedTime is the user metadata key holding the remote timestamp.
const MetaModifiedTime = "mtime"

// deleteBatch is the DeleteObjects limit.
const deleteBatch = 1000

// headConcurrency bounds the HeadObject calls one listing issues at a time.
const headConcurrency = 8

// API is the subset of *s3.Client the store uses.
type API interface {
	s3.ListObjectsV2APIClient
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
}

type Options struct {
	Bucket    string
	Prefix    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

type Store struct {
	client API
	bucket string
	prefix string
}

var _ fs.RemoteStore = (*Store)(nil)

// New loads the AWS config and builds a store. Static keys are used when
// given, otherwise the default credential chain applies. A custom endpoint
// (MinIO and friends) switches to path-style addressing.
func New(ctx context.Context, opts *Options) (*Store, error) {
	var loadOpts []func(*config.LoadOptions) error
	if opts.AccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, ""),
		))
	}
	if opts.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(opts.Region))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("s3: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewWithClient(client, opts.Bucket, opts.Prefix), nil
}

func NewWithClient(client API, bucket, prefix string) *Store {
	return &Store{client: client, bucket: bucket, prefix: normalizePrefix(prefix)}
}

func (s *Store) Name() string {
	return "s3://" + s.bucket + "/" + s.prefix
}

// RootID returns the id of the configured root prefix.
func (s *Store) RootID() string {
	return s.prefix
}

func (s *Store) ListChildren(ctx context.Context, folderID string) ([]*fs.RemoteItem, error) {
	prefix := s.folderKey(folderID)

	var (
		folders, files []*fs.RemoteItem
		lastModified   []int64
	)
	p := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(s.bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("s3: list %s: %w", prefix, err)
		}
		for _, cp := range page.CommonPrefixes {
			key := aws.ToString(cp.Prefix)
			folders = append(folders, &fs.RemoteItem{
				ID:           key,
				Name:         baseName(key),
				IsFolder:     true,
				ModifiedTime: meta.ToRemoteFormat(0),
			})
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if key == prefix || isFolderKey(key) {
				continue // folder marker
			}
			files = append(files, &fs.RemoteItem{
				ID:   key,
				Name: baseName(key),
				Size: aws.ToInt64(obj.Size),
			})
			lastModified = append(lastModified, aws.ToTime(obj.LastModified).Unix())
		}
	}

	// mtime 只在元数据里, 每个文件一次 HeadObject
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(headConcurrency)
	for i, it := range files {
		g.Go(func() error {
			mtime, err := s.modifiedTime(gctx, it.ID, lastModified[i])
			if err != nil {
				return fmt.Errorf("s3: head %s: %w", it.ID, err)
			}
			it.ModifiedTime = mtime
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if prefix != s.prefix && len(folders) == 0 && len(files) == 0 {
		if err := s.requireMarker(ctx, prefix); err != nil {
			return nil, err
		}
	}
	return append(folders, files...), nil
}

// modifiedTime 读取 mtime 元数据, 没有时退回 LastModified
func (s *Store) modifiedTime(ctx context.Context, key string, lastModified int64) (string, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return "", mapErr(err)
	}
	if v, ok := out.Metadata[MetaModifiedTime]; ok && v != "" {
		return v, nil
	}
	return meta.ToRemoteFormat(lastModified), nil
}

// requireMarker distinguishes an empty folder from a missing one.
func (s *Store) requireMarker(ctx context.Context, prefix string) error {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(prefix),
	})
	if err != nil {
		return fmt.Errorf("s3: folder %s: %w", prefix, mapErr(err))
	}
	return nil
}

func (s *Store) CreateFolder(ctx context.Context, name, parentID string) (string, error) {
	key, err := childKey(s.folderKey(parentID), name)
	if err != nil {
		return "", err
	}
	key += "/"
	if err := s.put(ctx, key, nil, ""); err != nil {
		return "", fmt.Errorf("s3: create folder %s: %w", key, err)
	}
	return key, nil
}

func (s *Store) UploadNew(ctx context.Context, name, parentID string, content io.Reader, modifiedTime string) (string, error) {
	key, err := childKey(s.folderKey(parentID), name)
	if err != nil {
		return "", err
	}
	return s.Update(ctx, key, content, modifiedTime)
}

// Update 覆盖写入 id 对应的对象
func (s *Store) Update(ctx context.Context, id string, content io.Reader, modifiedTime string) (string, error) {
	if isFolderKey(id) {
		return "", fmt.Errorf("s3: update %s: %w", id, fs.ErrNotFolder)
	}
	// PutObject needs a seekable body over plain HTTP endpoints.
	data, err := io.ReadAll(content)
	if err != nil {
		return "", fmt.Errorf("s3: read upload body for %s: %w", id, err)
	}
	if err := s.put(ctx, id, data, modifiedTime); err != nil {
		return "", fmt.Errorf("s3: put %s: %w", id, err)
	}
	return id, nil
}

func (s *Store) put(ctx context.Context, key string, data []byte, modifiedTime string) error {
	in := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	}
	if modifiedTime != "" {
		in.Metadata = map[string]string{MetaModifiedTime: modifiedTime}
	}
	_, err := s.client.PutObject(ctx, in)
	return err
}

func (s *Store) OpenStream(ctx context.Context, id string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(id),
	})
	if err != nil {
		return nil, fmt.Errorf("s3: get %s: %w", id, mapErr(err))
	}
	return out.Body, nil
}

// Delete 删除对象; folder ids remove every key under the prefix.
func (s *Store) Delete(ctx context.Context, id string) error {
	if !isFolderKey(id) {
		_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(id),
		})
		if err != nil {
			return fmt.Errorf("s3: delete %s: %w", id, mapErr(err))
		}
		return nil
	}

	if id == s.prefix {
		return fmt.Errorf("s3: refusing to delete the root prefix %q", id)
	}

	var keys []types.ObjectIdentifier
	p := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(id),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("s3: list %s for delete: %w", id, err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, types.ObjectIdentifier{Key: obj.Key})
		}
	}

	for start := 0; start < len(keys); start += deleteBatch {
		end := min(start+deleteBatch, len(keys))
		out, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &types.Delete{Objects: keys[start:end], Quiet: aws.Bool(true)},
		})
		if err != nil {
			return fmt.Errorf("s3: delete under %s: %w", id, err)
		}
		for _, e := range out.Errors {
			slog.Warn("S3 删除失败", "key", aws.ToString(e.Key), "code", aws.ToString(e.Code), "msg", aws.ToString(e.Message))
		}
		if len(out.Errors) > 0 {
			return fmt.Errorf("s3: delete under %s: %d keys failed", id, len(out.Errors))
		}
	}
	return nil
}

func mapErr(err error) error {
	var nsk *types.NoSuchKey
	var nf *types.NotFound
	if errors.As(err, &nsk) || errors.As(err, &nf) {
		return fmt.Errorf("%w: %v", fs.ErrNotFound, err)
	}
	return err
}
