// Package objectstore wraps the external content store that holds raw
// screenshot bytes. The store assigns each upload a content id (public id)
// that is unique across the whole store and a canonical URL; thumbnail and
// blurred variants are pure string rewrites of that URL, never separate
// uploads.
package objectstore

import (
	"context"
	"strings"
)

type UploadResult struct {
	SecureURL string `json:"secure_url"`
	PublicID  string `json:"public_id"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Bytes     int64  `json:"bytes"`
}

type Client interface {
	Upload(ctx context.Context, data []byte, folder string) (UploadResult, error)
}

const (
	uploadSegment      = "/upload/"
	thumbnailTransform = "c_thumb,g_face,h_200,w_200"
	blurTransform      = "e_blur:800"
)

// ThumbnailURL derives the 200x200 face-crop variant of a canonical URL.
// URLs without an upload segment are passed through unchanged so legacy
// records keep rendering.
func ThumbnailURL(secureURL string) string {
	return insertTransform(secureURL, thumbnailTransform)
}

// BlurredURL derives the heavy-blur variant of a canonical URL.
func BlurredURL(secureURL string) string {
	return insertTransform(secureURL, blurTransform)
}

func insertTransform(secureURL, transform string) string {
	idx := strings.Index(secureURL, uploadSegment)
	if idx < 0 {
		return secureURL
	}
	head := secureURL[:idx+len(uploadSegment)]
	tail := secureURL[idx+len(uploadSegment):]
	return head + transform + "/" + tail
}
