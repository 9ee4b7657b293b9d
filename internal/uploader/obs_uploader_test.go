package uploader

import (
	"context"
	"errors"
	"testing"

	"github.com/huaweicloud/huaweicloud-sdk-go-obs/obs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestArchiveBuildsPutFileInput(t *testing.T) {
	var got *obs.PutFileInput
	u := newUploader(func(input *obs.PutFileInput) (*obs.PutObjectOutput, error) {
		got = input
		out := &obs.PutObjectOutput{}
		out.ETag = `"etag"`
		return out, nil
	}, "media", "artifacts/", zaptest.NewLogger(t))

	require.NoError(t, u.Archive(context.Background(), "final_1.mp3", "/data/final_1.mp3"))
	require.NotNil(t, got)
	assert.Equal(t, "media", got.Bucket)
	assert.Equal(t, "artifacts/final_1.mp3", got.Key)
	assert.Equal(t, "/data/final_1.mp3", got.SourceFile)
}

func TestArchiveReportsObsError(t *testing.T) {
	u := newUploader(func(*obs.PutFileInput) (*obs.PutObjectOutput, error) {
		e := obs.ObsError{}
		e.Code = "AccessDenied"
		e.Message = "denied"
		return nil, e
	}, "media", "", nil)

	err := u.Archive(context.Background(), "a.mp4", "/a.mp4")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AccessDenied")

	u = newUploader(func(*obs.PutFileInput) (*obs.PutObjectOutput, error) {
		return nil, errors.New("network down")
	}, "media", "", nil)
	assert.ErrorContains(t, u.Archive(context.Background(), "a.mp4", "/a.mp4"), "network down")
}

func TestArchiveHonoursCanceledContext(t *testing.T) {
	called := false
	u := newUploader(func(*obs.PutFileInput) (*obs.PutObjectOutput, error) {
		called = true
		return &obs.PutObjectOutput{}, nil
	}, "media", "", nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, u.Archive(ctx, "a.mp4", "/a.mp4"), context.Canceled)
	assert.False(t, called)
}
