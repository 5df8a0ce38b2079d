package objectstore

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"codequiz/internal/model"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeAPI struct {
	puts      []*s3.PutObjectInput
	deletes   []string
	putErrs   []error
	deleteErr error
}

func (f *fakeAPI) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.puts = append(f.puts, in)
	if len(f.putErrs) > 0 {
		err := f.putErrs[0]
		f.putErrs = f.putErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeAPI) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.deletes = append(f.deletes, aws.ToString(in.Key))
	if f.deleteErr != nil {
		return nil, f.deleteErr
	}
	return &s3.DeleteObjectOutput{}, nil
}

func r2Config() Config {
	return Config{Bucket: "quiz", PublicDomain: "cdn.example.com", Endpoint: "https://acc.r2.cloudflarestorage.com"}
}

func TestPutImageWithACL(t *testing.T) {
	api := &fakeAPI{}
	c := NewWithAPI(api, r2Config(), zap.NewNop())

	url, err := c.PutImage(context.Background(), []byte("png"), "code-images/abc.png")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/code-images/abc.png", url)
	require.Len(t, api.puts, 1)
	assert.Equal(t, "public-read", string(api.puts[0].ACL))
	assert.Equal(t, "image/png", aws.ToString(api.puts[0].ContentType))
}

func TestPutImageACLFallback(t *testing.T) {
	api := &fakeAPI{putErrs: []error{&smithy.GenericAPIError{Code: "AccessControlListNotSupported", Message: "no acl"}}}
	c := NewWithAPI(api, r2Config(), zap.NewNop())

	_, err := c.PutImage(context.Background(), []byte("png"), "k.png")
	require.NoError(t, err)
	require.Len(t, api.puts, 2)
	assert.Equal(t, "public-read", string(api.puts[0].ACL))
	assert.Empty(t, string(api.puts[1].ACL))
}

func TestPutImageErrors(t *testing.T) {
	tests := []struct {
		name     string
		errs     []error
		kind     model.ErrorKind
		code     string
		attempts int
	}{
		{
			name:     "Отказ API без повторов",
			errs:     []error{&smithy.GenericAPIError{Code: "NoSuchBucket"}},
			kind:     model.KindStorageFailed,
			code:     "NoSuchBucket",
			attempts: 1,
		},
		{
			name:     "Сетевая ошибка",
			errs:     []error{&net.OpError{Op: "dial", Err: errors.New("connection refused")}},
			kind:     model.KindStorageUnavailable,
			attempts: 1,
		},
		{
			name: "Отказ после повтора без ACL",
			errs: []error{
				&smithy.GenericAPIError{Code: "AccessDenied"},
				&smithy.GenericAPIError{Code: "AccessDenied"},
			},
			kind:     model.KindStorageFailed,
			code:     "AccessDenied",
			attempts: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &fakeAPI{putErrs: tt.errs}
			c := NewWithAPI(api, r2Config(), zap.NewNop())

			_, err := c.PutImage(context.Background(), []byte("png"), "k.png")
			require.Error(t, err)
			assert.Equal(t, tt.kind, model.KindOf(err))
			assert.Len(t, api.puts, tt.attempts)

			var me *model.Error
			require.True(t, errors.As(err, &me))
			assert.Equal(t, tt.code, me.Code)
		})
	}
}

func TestPutVideo(t *testing.T) {
	path := filepath.Join(t.TempDir(), "v.mp4")
	require.NoError(t, os.WriteFile(path, []byte("video-bytes"), 0o600))

	api := &fakeAPI{}
	c := NewWithAPI(api, r2Config(), zap.NewNop())
	url, err := c.PutVideo(context.Background(), path, "videos/g/1_ru.mp4")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/videos/g/1_ru.mp4", url)
	assert.Equal(t, int64(11), aws.ToInt64(api.puts[0].ContentLength))

	_, err = c.PutVideo(context.Background(), filepath.Join(t.TempDir(), "missing.mp4"), "k")
	assert.Equal(t, model.KindStorageFailed, model.KindOf(err))
}

func TestExtractKey(t *testing.T) {
	tests := []struct {
		name   string
		cfg    Config
		url    string
		key    string
		wantOK bool
	}{
		{name: "Публичный домен", cfg: r2Config(), url: "https://cdn.example.com/code-images/a.png", key: "code-images/a.png", wantOK: true},
		{name: "Path-style", cfg: r2Config(), url: "https://acc.r2.cloudflarestorage.com/quiz/code-images/b.png", key: "code-images/b.png", wantOK: true},
		{name: "Virtual-hosted", cfg: Config{Bucket: "quiz", Region: "eu-west-1"}, url: "https://quiz.s3.eu-west-1.amazonaws.com/x/y.png", key: "x/y.png", wantOK: true},
		{name: "Чужой хост", cfg: r2Config(), url: "https://other.example.com/a.png", wantOK: false},
		{name: "Пустой путь", cfg: r2Config(), url: "https://cdn.example.com/", wantOK: false},
		{name: "Не URL", cfg: r2Config(), url: "::::", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewWithAPI(&fakeAPI{}, tt.cfg, zap.NewNop())
			key, ok := c.ExtractKey(tt.url)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.key, key)
		})
	}
}

func TestPublicURL(t *testing.T) {
	assert.Equal(t, "https://acc.r2.cloudflarestorage.com/quiz/k.png",
		NewWithAPI(nil, Config{Bucket: "quiz", Endpoint: "https://acc.r2.cloudflarestorage.com/"}, zap.NewNop()).PublicURL("k.png"))
	assert.Equal(t, "https://quiz.s3.us-east-1.amazonaws.com/k.png",
		NewWithAPI(nil, Config{Bucket: "quiz"}, zap.NewNop()).PublicURL("k.png"))
}

func TestDelete(t *testing.T) {
	api := &fakeAPI{}
	c := NewWithAPI(api, r2Config(), zap.NewNop())

	ok, err := c.Delete(context.Background(), "https://cdn.example.com/code-images/a.png")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{"code-images/a.png"}, api.deletes)

	ok, err = c.Delete(context.Background(), "https://elsewhere/a.png")
	require.NoError(t, err)
	assert.False(t, ok)

	api.deleteErr = &smithy.GenericAPIError{Code: "AccessDenied"}
	ok, err = c.Delete(context.Background(), "https://cdn.example.com/code-images/a.png")
	assert.False(t, ok)
	assert.Equal(t, model.KindStorageFailed, model.KindOf(err))
}

func TestKeys(t *testing.T) {
	key := ImageKey([]byte("same"))
	assert.Equal(t, key, ImageKey([]byte("same")))
	assert.True(t, strings.HasPrefix(key, "code-images/"))
	assert.Len(t, strings.TrimSuffix(strings.TrimPrefix(key, "code-images/"), ".png"), 32)

	gid := uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")
	assert.Equal(t, "videos/6ba7b810-9dad-11d1-80b4-00c04fd430c8/5_ru.mp4", VideoKey(gid, 5, "ru"))
}
