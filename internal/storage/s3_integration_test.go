//go:build integration

package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloo-solutions/kbbot/internal/testutil"
)

type archived struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

func TestS3Client_PutGetJSON(t *testing.T) {
	ctx := context.Background()
	rc := testutil.NewRustFSContainer(ctx, t)

	client, err := NewS3Client(ctx, S3ClientConfig{
		Endpoint:        rc.Endpoint(),
		Region:          "us-east-1",
		AccessKeyID:     testutil.RustFSAccessKey,
		SecretAccessKey: testutil.RustFSSecretKey,
		Bucket:          "kbbot-test",
		UsePathStyle:    true,
	})
	require.NoError(t, err)
	require.NoError(t, client.EnsureBucket(ctx))
	require.NoError(t, client.EnsureBucket(ctx))

	key := "summaries/2024-06-01/abc-approved.json"
	require.NoError(t, client.PutJSON(ctx, key, archived{ID: "abc", Status: "approved"}))

	var got archived
	require.NoError(t, client.GetJSON(ctx, key, &got))
	assert.Equal(t, "abc", got.ID)
	assert.Equal(t, "approved", got.Status)

	require.NoError(t, client.DeleteObject(ctx, key))
	assert.ErrorIs(t, client.GetJSON(ctx, key, &got), ErrObjectNotFound)
}
