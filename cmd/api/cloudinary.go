package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
)

type imageUploader interface {
	// UploadAvatar stores the image under the user's id, replacing any
	// earlier avatar, and returns its public URL.
	UploadAvatar(ctx context.Context, file io.Reader, userID string) (string, error)
}

type cloudinaryUploader struct {
	cld *cloudinary.Cloudinary
}

func newCloudinaryUploader(cloudinaryURL string) (*cloudinaryUploader, error) {
	cld, err := cloudinary.NewFromURL(cloudinaryURL)
	if err != nil {
		return nil, err
	}
	return &cloudinaryUploader{cld: cld}, nil
}

func (c *cloudinaryUploader) UploadAvatar(ctx context.Context, file io.Reader, userID string) (string, error) {
	resp, err := c.cld.Upload.Upload(ctx, file, uploader.UploadParams{
		PublicID:       userID, // Save with userID as filename
		Overwrite:      api.Bool(true),
		Folder:         "avatars",
		Transformation: "w_300,h_300,c_fill,q_auto", // Resize to 300x300, auto quality
	})
	if err != nil {
		return "", fmt.Errorf("cloudinary upload: %w", err)
	}
	return resp.SecureURL, nil
}

var errUploadsDisabled = errors.New("avatar uploads are not configured")

// disabledUploader is used when CLOUDINARY_URL is unset.
type disabledUploader struct{}

func (disabledUploader) UploadAvatar(context.Context, io.Reader, string) (string, error) {
	return "", errUploadsDisabled
}
