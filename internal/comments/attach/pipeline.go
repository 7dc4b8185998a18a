// Package attach validates and normalizes uploaded files before they are
// attached to a comment. Images get decoded, bounded and re-encoded; text
// files pass through after size and extension checks.
package attach

import (
	"bytes"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"path/filepath"
	"strings"

	xdraw "golang.org/x/image/draw"

	"github.com/example/comment-platform/internal/comments/store"
)

// Output image bound. Larger uploads are downsampled to fit, preserving
// aspect ratio.
const (
	maxImageWidth  = 320
	maxImageHeight = 240
)

var allowedImageTypes = map[string]struct{}{
	"image/jpeg": {},
	"image/png":  {},
	"image/gif":  {},
}

// Result is a validated, normalized upload ready for binary storage.
type Result struct {
	Kind        store.AttachmentKind
	Name        string
	ContentType string
	Data        []byte
}

type Pipeline struct {
	MaxImageBytes int64
	MaxTextBytes  int64
}

// Process classifies the upload by its declared content type and runs the
// matching validation path. Any returned error is a *store.ValidationError;
// the caller aborts the whole comment creation on it.
func (p Pipeline) Process(name, contentType string, data []byte) (Result, error) {
	if strings.HasPrefix(contentType, "image/") {
		return p.processImage(name, contentType, data)
	}
	return p.processText(name, contentType, data)
}

func (p Pipeline) processImage(name, contentType string, data []byte) (Result, error) {
	if int64(len(data)) > p.MaxImageBytes {
		return Result{}, &store.ValidationError{Field: "files", Reason: "image file is too large"}
	}
	if _, ok := allowedImageTypes[contentType]; !ok {
		return Result{}, &store.ValidationError{Field: "files", Reason: "image must be JPEG, PNG or GIF"}
	}

	// Only jpeg, png and gif decoders are linked in, so anything else
	// fails here no matter what the declared type said.
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return Result{}, &store.ValidationError{Field: "files", Reason: "invalid image file"}
	}

	b := img.Bounds()
	if b.Dx() > maxImageWidth || b.Dy() > maxImageHeight {
		img = downsample(img, maxImageWidth, maxImageHeight)
	}

	// Re-encode in the detected format; the normalized bytes replace the
	// original upload before storage.
	var buf bytes.Buffer
	switch format {
	case "jpeg":
		err = jpeg.Encode(&buf, img, nil)
	case "png":
		err = png.Encode(&buf, img)
	case "gif":
		err = gif.Encode(&buf, img, nil)
	}
	if err != nil {
		return Result{}, &store.ValidationError{Field: "files", Reason: "failed to re-encode image"}
	}

	return Result{
		Kind:        store.AttachmentImage,
		Name:        name,
		ContentType: contentType,
		Data:        buf.Bytes(),
	}, nil
}

func (p Pipeline) processText(name, contentType string, data []byte) (Result, error) {
	if !strings.EqualFold(filepath.Ext(name), ".txt") {
		return Result{}, &store.ValidationError{Field: "files", Reason: "text file must be in TXT format"}
	}
	if int64(len(data)) > p.MaxTextBytes {
		return Result{}, &store.ValidationError{Field: "files", Reason: "text file is too large"}
	}
	return Result{
		Kind:        store.AttachmentText,
		Name:        name,
		ContentType: contentType,
		Data:        data,
	}, nil
}

// downsample scales img to fit within maxW x maxH keeping aspect ratio,
// using Catmull-Rom resampling.
func downsample(img image.Image, maxW, maxH int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	scaleW := float64(maxW) / float64(w)
	scaleH := float64(maxH) / float64(h)
	scale := scaleW
	if scaleH < scale {
		scale = scaleH
	}

	nw := int(float64(w) * scale)
	nh := int(float64(h) * scale)
	if nw < 1 {
		nw = 1
	}
	if nh < 1 {
		nh = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), img, b, xdraw.Over, nil)
	return dst
}
