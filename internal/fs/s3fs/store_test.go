package s3fs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"drivesync/internal/fs"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeObject struct {
	data     []byte
	metadata map[string]string
	modified time.Time
}

// fakeS3 is an in-memory bucket with delimiter support and no pagination.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string]*fakeObject
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: map[string]*fakeObject{}}
}

func (f *fakeS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	prefix := aws.ToString(in.Prefix)
	delim := aws.ToString(in.Delimiter)

	keys := make([]string, 0, len(f.objects))
	for k := range f.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := &s3.ListObjectsV2Output{}
	seen := map[string]bool{}
	for _, k := range keys {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		rest := k[len(prefix):]
		if delim != "" {
			if i := strings.Index(rest, delim); i >= 0 {
				cp := prefix + rest[:i+len(delim)]
				if !seen[cp] {
					seen[cp] = true
					out.CommonPrefixes = append(out.CommonPrefixes, types.CommonPrefix{Prefix: aws.String(cp)})
				}
				continue
			}
		}
		obj := f.objects[k]
		out.Contents = append(out.Contents, types.Object{
			Key:          aws.String(k),
			Size:         aws.Int64(int64(len(obj.data))),
			LastModified: aws.Time(obj.modified),
		})
	}
	return out, nil
}

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{Metadata: obj.metadata, LastModified: aws.Time(obj.modified)}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(obj.data))}, nil
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(in.Key)] = &fakeObject{data: data, metadata: in.Metadata, modified: time.Unix(1_700_000_000, 0)}
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) DeleteObjects(_ context.Context, in *s3.DeleteObjectsInput, _ ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, o := range in.Delete.Objects {
		delete(f.objects, aws.ToString(o.Key))
	}
	return &s3.DeleteObjectsOutput{}, nil
}

func (f *fakeS3) keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ks []string
	for k := range f.objects {
		ks = append(ks, k)
	}
	sort.Strings(ks)
	return ks
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "", normalizePrefix(""))
	assert.Equal(t, "", normalizePrefix("/"))
	assert.Equal(t, "a/b/", normalizePrefix("/a/b"))
	assert.Equal(t, "a/", normalizePrefix("a/"))

	assert.Equal(t, "b", baseName("a/b"))
	assert.Equal(t, "b", baseName("a/b/"))
	assert.Equal(t, "top", baseName("top"))

	s := NewWithClient(newFakeS3(), "bucket", "/notes/")
	assert.Equal(t, "notes/", s.RootID())
	assert.Equal(t, "notes/", s.folderKey(RootAlias))
	assert.Equal(t, "notes/", s.folderKey(""))
	assert.Equal(t, "notes/sub/", s.folderKey("notes/sub/"))
	assert.Equal(t, "s3://bucket/notes/", s.Name())

	for _, bad := range []string{"", ".", "..", "a/b"} {
		_, err := childKey("x/", bad)
		assert.Error(t, err, bad)
	}
}

func TestStore_Roundtrip(t *testing.T) {
	ctx := context.Background()
	fake := newFakeS3()
	s := NewWithClient(fake, "bucket", "notes")

	dir, err := s.CreateFolder(ctx, "docs", RootAlias)
	require.NoError(t, err)
	assert.Equal(t, "notes/docs/", dir)

	id, err := s.UploadNew(ctx, "a.txt", dir, strings.NewReader("hello"), "2024-05-01T10:00:00Z")
	require.NoError(t, err)
	assert.Equal(t, "notes/docs/a.txt", id)

	top, err := s.UploadNew(ctx, "top.txt", RootAlias, strings.NewReader("t"), "")
	require.NoError(t, err)

	items, err := s.ListChildren(ctx, RootAlias)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, &fs.RemoteItem{ID: dir, Name: "docs", IsFolder: true, ModifiedTime: "1970-01-01T00:00:00Z"}, items[0])
	assert.Equal(t, top, items[1].ID)
	assert.Equal(t, "2023-11-14T22:13:20Z", items[1].ModifiedTime, "falls back to LastModified")

	items, err = s.ListChildren(ctx, dir)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, &fs.RemoteItem{ID: id, Name: "a.txt", Size: 5, ModifiedTime: "2024-05-01T10:00:00Z"}, items[0])

	_, err = s.Update(ctx, id, strings.NewReader("bye"), "2024-05-02T10:00:00Z")
	require.NoError(t, err)
	rc, err := s.OpenStream(ctx, id)
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "bye", string(data))

	_, err = s.Update(ctx, dir, strings.NewReader("x"), "")
	assert.ErrorIs(t, err, fs.ErrNotFolder)
}

func TestStore_EmptyAndMissingFolders(t *testing.T) {
	ctx := context.Background()
	s := NewWithClient(newFakeS3(), "bucket", "")

	empty, err := s.CreateFolder(ctx, "empty", RootAlias)
	require.NoError(t, err)
	items, err := s.ListChildren(ctx, empty)
	require.NoError(t, err)
	assert.Empty(t, items)

	_, err = s.ListChildren(ctx, "ghost/")
	assert.ErrorIs(t, err, fs.ErrNotFound)

	_, err = s.OpenStream(ctx, "ghost.txt")
	assert.ErrorIs(t, err, fs.ErrNotFound)
}

func TestStore_DeleteFolder(t *testing.T) {
	ctx := context.Background()
	fake := newFakeS3()
	s := NewWithClient(fake, "bucket", "p")

	dir, err := s.CreateFolder(ctx, "d", RootAlias)
	require.NoError(t, err)
	sub, err := s.CreateFolder(ctx, "s", dir)
	require.NoError(t, err)
	_, err = s.UploadNew(ctx, "f.txt", sub, strings.NewReader("x"), "")
	require.NoError(t, err)
	keep, err := s.UploadNew(ctx, "keep.txt", RootAlias, strings.NewReader("k"), "")
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, dir))
	assert.Equal(t, []string{keep}, fake.keys())

	require.NoError(t, s.Delete(ctx, keep))
	assert.Empty(t, fake.keys())

	assert.Error(t, s.Delete(ctx, s.RootID()))
}

// slowHeads 记录 HeadObject 的并发度, 可按 key 注入错误
type slowHeads struct {
	*fakeS3
	fail     string
	calls    atomic.Int32
	inflight atomic.Int32
	peak     atomic.Int32
}

func (h *slowHeads) HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	h.calls.Add(1)
	n := h.inflight.Add(1)
	defer h.inflight.Add(-1)
	for {
		p := h.peak.Load()
		if n <= p || h.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(2 * time.Millisecond)
	if aws.ToString(in.Key) == h.fail {
		return nil, errors.New("throttled")
	}
	return h.fakeS3.HeadObject(ctx, in, optFns...)
}

func TestStore_ListManyFiles(t *testing.T) {
	ctx := context.Background()
	heads := &slowHeads{fakeS3: newFakeS3()}
	s := NewWithClient(heads, "bucket", "notes")

	const n = 40
	for i := range n {
		mtime := time.Unix(1_714_557_600+int64(i), 0).UTC().Format(time.RFC3339)
		_, err := s.UploadNew(ctx, fmt.Sprintf("f%02d.txt", i), RootAlias, strings.NewReader("x"), mtime)
		require.NoError(t, err)
	}

	items, err := s.ListChildren(ctx, RootAlias)
	require.NoError(t, err)
	require.Len(t, items, n)
	for i, it := range items {
		assert.Equal(t, fmt.Sprintf("f%02d.txt", i), it.Name)
		assert.Equal(t, time.Unix(1_714_557_600+int64(i), 0).UTC().Format(time.RFC3339), it.ModifiedTime)
	}
	assert.EqualValues(t, n, heads.calls.Load())
	assert.LessOrEqual(t, heads.peak.Load(), int32(headConcurrency))

	heads.fail = "notes/f07.txt"
	_, err = s.ListChildren(ctx, RootAlias)
	assert.ErrorContains(t, err, "notes/f07.txt")
}
