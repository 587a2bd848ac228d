package midjourney

import "strconv"

// CDNBaseURL is the host serving rendered images.
const CDNBaseURL = "https://cdn.midjourney.com"

// ImageFormat is the file format of a full-size image.
type ImageFormat string

const (
	FormatPNG  ImageFormat = "png"
	FormatWebP ImageFormat = "webp"
)

// ThumbnailSize selects one of the fixed thumbnail renditions.
type ThumbnailSize string

const (
	SizeFull   ThumbnailSize = "full"
	SizeLarge  ThumbnailSize = "large"
	SizeMedium ThumbnailSize = "medium"
	SizeSmall  ThumbnailSize = "small"
	SizeTiny   ThumbnailSize = "tiny"
)

var thumbnailSuffixes = map[ThumbnailSize]string{
	SizeFull:   "_2048_N",
	SizeLarge:  "_640_N",
	SizeMedium: "_384_N",
	SizeSmall:  "_128_N",
	SizeTiny:   "_32_N",
}

// Suffix returns the path token the CDN uses for the size, or "" for an
// unknown size.
func (s ThumbnailSize) Suffix() string {
	return thumbnailSuffixes[s]
}

// URLOption configures thumbnail URLs.
type URLOption func(*urlConfig)

type urlConfig struct {
	quality *int
}

// WithQuality asks the CDN to re-encode the thumbnail at the given quality.
func WithQuality(q int) URLOption {
	return func(c *urlConfig) {
		c.quality = &q
	}
}

// FullURL returns the URL of the full-size image in the given format.
func (img Image) FullURL(format ImageFormat) string {
	return img.basePath() + "." + string(format)
}

// ThumbnailURL returns the URL of a webp thumbnail of the image.
func (img Image) ThumbnailURL(size ThumbnailSize, opts ...URLOption) string {
	cfg := urlConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	u := img.basePath() + size.Suffix() + ".webp"
	if cfg.quality != nil {
		u += "?method=shortest&quality=" + strconv.Itoa(*cfg.quality)
	}
	return u
}

func (img Image) basePath() string {
	return CDNBaseURL + "/" + img.ParentID + "/0_" + strconv.Itoa(img.ParentGridIndex)
}
