package materializer

import (
	"errors"
	"math"
	"net/url"
	"path"
	"strconv"
	"strings"

	"github.com/providentiaww/dam-sync/internal/dam"
)

var (
	// ErrRenditionUnavailable means the asset has no URL a rendition can be derived from.
	ErrRenditionUnavailable = errors.New("rendition unavailable")
	// ErrStorageUnavailable means the local file cache could not be written.
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// Options controls which representation of an asset is cached.
type Options struct {
	SizeLimit     int    // <= 0 disables renditions
	RenditionMode string // "original" or "transcode"
	ImageFormat   string // rendition container, default png
	ImageQuality  int    // default 80
}

// Plan is the resolved download for one asset.
type Plan struct {
	Original bool
	URL      string
	Query    url.Values
	Filename string
}

// Resolve chooses between the original binary and a size-capped rendition.
func Resolve(asset *dam.Asset, opts Options) (Plan, error) {
	if opts.SizeLimit <= 0 || !asset.IsImage() || opts.RenditionMode == "original" || asset.Format() == "SVG" {
		return Plan{Original: true, Filename: asset.Filename}, nil
	}

	embed := asset.OriginalEmbedURL()
	if embed == "" {
		return Plan{}, ErrRenditionUnavailable
	}
	u, err := url.Parse(embed)
	if err != nil {
		return Plan{}, ErrRenditionUnavailable
	}

	format := opts.ImageFormat
	if format == "" {
		format = "png"
	}
	quality := opts.ImageQuality
	if quality <= 0 {
		quality = 80
	}
	u.Path = strings.ReplaceAll(u.Path, "/original/", "/"+format+"/")

	query := url.Values{}
	if props := imageProps(asset); props != nil {
		dimension, native := "h", props.Height
		if props.AspectRatio != nil && *props.AspectRatio > 1 {
			dimension, native = "w", props.Width
		}
		size := opts.SizeLimit
		if native != nil && *native > 0 {
			size = int(math.Min(float64(opts.SizeLimit), *native))
		}
		query.Set(dimension, strconv.Itoa(size))
		query.Set("q", strconv.Itoa(quality))
	}

	return Plan{
		URL:      u.String(),
		Query:    query,
		Filename: renditionFilename(asset.Filename, u.Path),
	}, nil
}

func imageProps(asset *dam.Asset) *dam.ImageProperties {
	if asset.FileProperties == nil {
		return nil
	}
	return asset.FileProperties.ImageProperties
}

// renditionFilename keeps the base name of original and takes the extension
// from the rendition URL path.
func renditionFilename(original, renditionPath string) string {
	ext := path.Ext(renditionPath)
	if ext == "" {
		return original
	}
	base := strings.TrimSuffix(original, path.Ext(original))
	if base == "" {
		base = strings.TrimSuffix(path.Base(renditionPath), ext)
	}
	return base + ext
}
