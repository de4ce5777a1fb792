package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestObjectKey(t *testing.T) {
	assert.Equal(t, "educational_videos/abc_intro.mp4", ObjectKey("educational_videos", "abc_intro", ".MP4"))
	assert.Equal(t, "educational_videos/thumbnails/thumb_abc.jpg", ObjectKey("educational_videos/thumbnails", "thumb_abc", ".jpg"))
	assert.Equal(t, "x", ObjectKey("", "x", ""))
}

func TestContentTypeFor(t *testing.T) {
	assert.Equal(t, "video/quicktime", ContentTypeFor("/tmp/a.MOV", ResourceVideo))
	assert.Equal(t, "image/png", ContentTypeFor("thumb.png", ResourceImage))
	assert.Equal(t, "video/mp4", ContentTypeFor("noext", ResourceVideo))
	assert.Equal(t, "image/jpeg", ContentTypeFor("noext", ResourceImage))
	assert.Equal(t, "application/octet-stream", ContentTypeFor("noext", ""))
}

func TestPublicObjectURL(t *testing.T) {
	s := &S3{cfg: S3Config{Bucket: "media", Region: "eu-west-1"}}
	assert.Equal(t, "https://media.s3.eu-west-1.amazonaws.com/educational_videos/a.mp4", s.PublicObjectURL("educational_videos/a.mp4"))

	s.cfg.PublicBaseURL = "https://cdn.example.com/"
	assert.Equal(t, "https://cdn.example.com/educational_videos/a.mp4", s.PublicObjectURL("educational_videos/a.mp4"))
}
