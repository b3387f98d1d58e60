package services

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

type MinioBlobStoreTestSuite struct {
	suite.Suite
	minio   *MockMinioService
	store   *minioBlobStore
	fixed   time.Time
	context context.Context
}

func (suite *MinioBlobStoreTestSuite) SetupTest() {
	suite.minio = &MockMinioService{}
	suite.fixed = time.Unix(1720000000, 123)
	suite.store = NewMinioBlobStore(suite.minio, "item-images", "").(*minioBlobStore)
	suite.store.now = func() time.Time { return suite.fixed }
	suite.context = context.Background()
}

func (suite *MinioBlobStoreTestSuite) TearDownTest() {
	suite.minio.AssertExpectations(suite.T())
}

func TestMinioBlobStoreTestSuite(t *testing.T) {
	suite.Run(t, new(MinioBlobStoreTestSuite))
}

func (suite *MinioBlobStoreTestSuite) TestUpload_Presigned() {
	reader := bytes.NewReader([]byte("png"))
	key := "item-images/1720000000000000123_prism.png"

	suite.minio.On("UploadImage", suite.context, "item-images", key, reader, int64(3), "image/png").Return(nil).Once()
	suite.minio.On("GetPresignedURL", suite.context, "item-images", key, presignedURLExpiry).
		Return("http://minio:9000/item-images/"+key+"?X-Amz-Signature=abc", nil).Once()

	url, err := suite.store.Upload(suite.context, "prism.png", reader, 3, "image/png")
	assert.NoError(suite.T(), err)
	assert.Contains(suite.T(), url, key)
}

func (suite *MinioBlobStoreTestSuite) TestUpload_PublicBaseURL() {
	store := NewMinioBlobStore(suite.minio, "item-images", "https://cdn.example/item-images/").(*minioBlobStore)
	store.now = func() time.Time { return suite.fixed }
	reader := bytes.NewReader([]byte("png"))
	key := "item-images/1720000000000000123_prism.png"

	suite.minio.On("UploadImage", suite.context, "item-images", key, reader, int64(3), "").Return(nil).Once()

	url, err := store.Upload(suite.context, "prism.png", reader, 3, "")
	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), "https://cdn.example/item-images/"+key, url)
	suite.minio.AssertNotCalled(suite.T(), "GetPresignedURL", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func (suite *MinioBlobStoreTestSuite) TestUpload_Failure() {
	reader := bytes.NewReader([]byte("png"))
	suite.minio.On("UploadImage", suite.context, "item-images", mock.Anything, reader, int64(3), "image/png").
		Return(errors.New("NoSuchBucket: The specified bucket does not exist")).Once()

	url, err := suite.store.Upload(suite.context, "prism.png", reader, 3, "image/png")
	assert.Error(suite.T(), err)
	assert.Contains(suite.T(), err.Error(), "NoSuchBucket")
	assert.Empty(suite.T(), url)
}

func (suite *MinioBlobStoreTestSuite) TestDelete_ResolvesKeyFromURL() {
	suite.minio.On("DeleteImage", suite.context, "item-images", "item-images/17_prism.png").Return(nil).Twice()

	assert.NoError(suite.T(), suite.store.Delete(suite.context, "http://minio:9000/item-images/item-images/17_prism.png?X-Amz-Signature=abc"))
	assert.NoError(suite.T(), suite.store.Delete(suite.context, "https://cdn.example/item-images/17_prism.png"))
}

func (suite *MinioBlobStoreTestSuite) TestDelete_ForeignURL() {
	err := suite.store.Delete(suite.context, "https://elsewhere.example/photo.png")
	assert.Error(suite.T(), err)
}

func (suite *MinioBlobStoreTestSuite) TestCheck() {
	suite.minio.On("BucketExists", suite.context, "item-images").Return(true, nil).Once()
	assert.NoError(suite.T(), suite.store.Check(suite.context))

	suite.minio.On("BucketExists", suite.context, "item-images").Return(false, nil).Once()
	assert.Error(suite.T(), suite.store.Check(suite.context))
}

func TestImageObjectKey(t *testing.T) {
	at := time.Unix(0, 42)
	assert.Equal(t, "item-images/42_prism.png", ImageObjectKey("prism.png", at))
	assert.Equal(t, "item-images/42_prism.png", ImageObjectKey("../../etc/prism.png", at))
	assert.Equal(t, "item-images/42_scan lens.png", ImageObjectKey(`C:\photos\scan lens.png`, at))
	assert.Equal(t, "item-images/42_image", ImageObjectKey("", at))
}
