package publish

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/assetmin/internal/errors"
)

func writeSource(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLocalPublisher(t *testing.T) {
	ctx := context.Background()
	src := writeSource(t, t.TempDir(), "abc_1.min.css", "body{}")
	p := NewLocalPublisher(t.TempDir(), "/assets/")

	_, ok, err := p.PublishedURL(ctx, src)
	require.NoError(t, err)
	assert.False(t, ok, "nothing published yet")

	url, err := p.Publish(ctx, src)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(url, "/assets/"))
	assert.True(t, strings.HasSuffix(url, "/abc_1.min.css"))

	again, ok, err := p.PublishedURL(ctx, src)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, url, again)

	dst, ok := p.Path(url)
	require.True(t, ok)
	content, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "body{}", string(content))
}

func TestLocalPublisher_Stale(t *testing.T) {
	ctx := context.Background()
	src := writeSource(t, t.TempDir(), "a.js", "one")
	p := NewLocalPublisher(t.TempDir(), "/assets")

	url, err := p.Publish(ctx, src)
	require.NoError(t, err)
	dst, _ := p.Path(url)
	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(dst, past, past))

	require.NoError(t, os.WriteFile(src, []byte("two"), 0o644))
	_, ok, err := p.PublishedURL(ctx, src)
	require.NoError(t, err)
	assert.False(t, ok, "an older copy is stale")

	_, err = p.Publish(ctx, src)
	require.NoError(t, err)
	content, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "two", string(content))
}

func TestLocalPublisher_SameNameDifferentDirs(t *testing.T) {
	ctx := context.Background()
	a := writeSource(t, t.TempDir(), "site.css", "a")
	b := writeSource(t, t.TempDir(), "site.css", "b")
	p := NewLocalPublisher(t.TempDir(), "/assets")

	urlA, err := p.Publish(ctx, a)
	require.NoError(t, err)
	urlB, err := p.Publish(ctx, b)
	require.NoError(t, err)

	assert.NotEqual(t, urlA, urlB)
}

func TestLocalPublisher_MissingSource(t *testing.T) {
	p := NewLocalPublisher(t.TempDir(), "/assets")

	_, err := p.Publish(context.Background(), filepath.Join(t.TempDir(), "gone.js"))
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindPublish))
}

func TestLocalPublisher_Path(t *testing.T) {
	p := NewLocalPublisher("/srv/public", "/assets")

	got, ok := p.Path("/assets/0123abcd/x.js")
	require.True(t, ok)
	assert.Equal(t, filepath.Join("/srv/public", "0123abcd", "x.js"), got)

	got, ok = p.Path("/assets/../../etc/passwd")
	require.True(t, ok)
	assert.Equal(t, filepath.Join("/srv/public", "etc", "passwd"), got, "cannot escape the publish dir")

	_, ok = p.Path("/other/x.js")
	assert.False(t, ok)
}

type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	puts    int
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string][]byte)}
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)] = body
	f.puts++
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	body, ok := f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{
		ContentLength: aws.Int64(int64(len(body))),
		LastModified:  aws.Time(time.Now()),
	}, nil
}

func TestS3Publisher(t *testing.T) {
	ctx := context.Background()
	src := writeSource(t, t.TempDir(), "abc_1.min.js", "var a;")
	client := newFakeS3()
	p := NewS3Publisher(client, "bucket", "/bundles/", "https://cdn.example.com/")

	_, ok, err := p.PublishedURL(ctx, src)
	require.NoError(t, err)
	assert.False(t, ok)

	url, err := p.Publish(ctx, src)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/bundles/abc_1.min.js", url)
	assert.Equal(t, "var a;", string(client.objects["bucket/bundles/abc_1.min.js"]))

	again, err := p.Publish(ctx, src)
	require.NoError(t, err)
	assert.Equal(t, url, again)
	assert.Equal(t, 1, client.puts, "already published objects are not uploaded again")
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "text/css; charset=utf-8", contentType("a.min.CSS"))
	assert.Equal(t, "text/javascript; charset=utf-8", contentType("a.js"))
	assert.Equal(t, "application/octet-stream", contentType("a.map"))
}
