package objectclient

import (
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"

	"github.com/markdave123-py/insightai/internal/core"
)

func TestMapS3Error(t *testing.T) {
	assert.NoError(t, mapS3Error("get", "k", nil))
	assert.ErrorIs(t, mapS3Error("get", "k", &types.NoSuchKey{}), core.ErrNotFound)
	assert.ErrorIs(t, mapS3Error("delete", "k", &types.NotFound{}), core.ErrNotFound)

	other := errors.New("access denied")
	err := mapS3Error("get", "k", other)
	assert.ErrorIs(t, err, other)
	assert.NotErrorIs(t, err, core.ErrNotFound)
}

func TestS3ObjectURL(t *testing.T) {
	c := &S3Client{bucket: "insightai-docs", region: "eu-central-1"}
	assert.Equal(t,
		"https://insightai-docs.s3.eu-central-1.amazonaws.com/documents/42/annual%20report.pdf",
		c.objectURL("documents/42/annual report.pdf"))
}
