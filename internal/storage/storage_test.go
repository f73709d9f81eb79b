package storage

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/huangang/trackmirror/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewKey_Unique(t *testing.T) {
	a := NewKey("report.pdf")
	b := NewKey("report.pdf")

	assert.NotEqual(t, a, b)
	assert.True(t, strings.HasPrefix(a, "files/"))
	assert.True(t, strings.HasSuffix(a, "_report.pdf"))
}

func TestNewKey_StripsDirectories(t *testing.T) {
	key := NewKey("../../etc/passwd")
	assert.True(t, strings.HasSuffix(key, "_passwd"))
	assert.NotContains(t, strings.TrimPrefix(key, "files/"), "/")
}

func TestLocal_PutGet(t *testing.T) {
	store, err := NewLocal(t.TempDir())
	require.NoError(t, err)

	ctx := context.Background()
	key := NewKey("notes.txt")
	require.NoError(t, store.Put(ctx, key, []byte("hello")))

	data, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestLocal_Missing(t *testing.T) {
	store, err := NewLocal(t.TempDir())
	require.NoError(t, err)

	_, err = store.Get(context.Background(), "files/nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLocal_RejectsEscapingKeys(t *testing.T) {
	store, err := NewLocal(t.TempDir())
	require.NoError(t, err)

	assert.Error(t, store.Put(context.Background(), "../outside", []byte("x")))
}

func TestNew_UnknownDriver(t *testing.T) {
	_, err := New(context.Background(), &config.StorageConfig{Driver: "ftp"})
	assert.Error(t, err)
}

type fakeObjects struct {
	objects map[string][]byte
}

func (f *fakeObjects) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, _ := io.ReadAll(in.Body)
	f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeObjects) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func TestS3_PutGet(t *testing.T) {
	fake := &fakeObjects{objects: map[string][]byte{}}
	store := &S3{client: fake, bucket: "attachments"}
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "files/a", []byte("blob")))
	assert.Contains(t, fake.objects, "attachments/files/a")

	data, err := store.Get(ctx, "files/a")
	require.NoError(t, err)
	assert.Equal(t, "blob", string(data))

	_, err = store.Get(ctx, "files/b")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNewS3_RequiresBucket(t *testing.T) {
	_, err := NewS3(context.Background(), &config.StorageConfig{Driver: "s3"})
	assert.Error(t, err)
}
