package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	// Register standard image decoders so image.Decode recognizes them.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"

	"github.com/disintegration/imaging"

	"github.com/GyroZepelix/mithril-engine/internal/cache"
)

// ErrInvalidVariant is returned when a variant name is not recognized.
var ErrInvalidVariant = errors.New("invalid variant")

// imageVariant defines a resizing target.
type imageVariant struct {
	Name     string
	MaxWidth int
}

var imageVariants = []imageVariant{
	{Name: "sm", MaxWidth: 480},
	{Name: "md", MaxWidth: 1024},
	{Name: "lg", MaxWidth: 1920},
}

func lookupVariant(name string) (imageVariant, bool) {
	for _, v := range imageVariants {
		if v.Name == name {
			return v, true
		}
	}
	return imageVariant{}, false
}

// Transformer produces resized image variants on demand and keeps the
// encoded results in a cache whose TTL is fixed by the caller.
type Transformer struct {
	storage *LocalStorage
	cache   cache.Cache
	logger  *slog.Logger
}

// NewTransformer creates a Transformer. c may be nil to disable caching.
func NewTransformer(storage *LocalStorage, c cache.Cache, logger *slog.Logger) *Transformer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Transformer{storage: storage, cache: c, logger: logger}
}

func variantCacheKey(variant, filename string) string {
	return "media:" + variant + ":" + filename
}

// Variant returns f resized to the named variant and the MIME type of the
// returned bytes. Images no wider than the target, and files that are not
// images, are returned unchanged.
func (t *Transformer) Variant(ctx context.Context, f *File, name string) ([]byte, string, error) {
	v, ok := lookupVariant(name)
	if !ok {
		return nil, "", fmt.Errorf("%w: %q", ErrInvalidVariant, name)
	}

	if !IsImageMIME(f.MimeType) {
		data, err := t.storage.Read(f.Filename)
		return data, f.MimeType, err
	}

	key := variantCacheKey(v.Name, f.Filename)
	if t.cache != nil {
		data, hit, err := t.cache.Get(ctx, key)
		if err != nil {
			t.logger.Warn("variant cache read failed", "key", key, "error", err)
		} else if hit {
			return data, variantMIME(f.MimeType), nil
		}
	}

	original, err := t.storage.Read(f.Filename)
	if err != nil {
		return nil, "", err
	}

	data, resized, err := resize(original, v.MaxWidth, f.MimeType)
	if err != nil {
		t.logger.Warn("image variant generation failed, serving original",
			"filename", f.Filename, "variant", v.Name, "error", err)
		return original, f.MimeType, nil
	}
	if !resized {
		return original, f.MimeType, nil
	}

	if t.cache != nil {
		if err := t.cache.Set(ctx, key, data); err != nil {
			t.logger.Warn("variant cache write failed", "key", key, "error", err)
		}
	}
	return data, variantMIME(f.MimeType), nil
}

// Invalidate drops every cached variant of filename.
func (t *Transformer) Invalidate(ctx context.Context, filename string) {
	if t.cache == nil {
		return
	}
	for _, v := range imageVariants {
		if err := t.cache.Delete(ctx, variantCacheKey(v.Name, filename)); err != nil {
			t.logger.Warn("variant cache invalidation failed", "filename", filename, "variant", v.Name, "error", err)
		}
	}
}

// resize scales data down to maxWidth keeping the aspect ratio. It reports
// false when the image is already narrow enough.
func resize(data []byte, maxWidth int, mimeType string) (out []byte, resized bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while resizing: %v", r)
		}
	}()

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, false, fmt.Errorf("decoding image: %w", err)
	}
	if img.Bounds().Dx() <= maxWidth {
		return nil, false, nil
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, imaging.Resize(img, maxWidth, 0, imaging.Lanczos), formatFromMIME(mimeType)); err != nil {
		return nil, false, fmt.Errorf("encoding variant: %w", err)
	}
	return buf.Bytes(), true, nil
}

// imageDimensions reads the pixel size of an encoded image without decoding
// the pixel data.
func imageDimensions(data []byte) (width, height int, ok bool) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, false
	}
	return cfg.Width, cfg.Height, true
}

// formatFromMIME returns the imaging format used to encode variants. WebP
// cannot be encoded by the imaging library, so PNG is used to keep
// transparency.
func formatFromMIME(mimeType string) imaging.Format {
	switch mimeType {
	case "image/png", "image/webp":
		return imaging.PNG
	case "image/gif":
		return imaging.GIF
	default:
		return imaging.JPEG
	}
}

// variantMIME returns the MIME type of variants generated from mimeType.
func variantMIME(mimeType string) string {
	if mimeType == "image/webp" {
		return "image/png"
	}
	return mimeType
}
