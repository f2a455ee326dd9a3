package dam

import (
	"strconv"
	"strings"
)

// Asset statuses reported by the DAM.
const (
	StatusActive   = "active"
	StatusInactive = "inactive"
	StatusDeleted  = "deleted"
)

// Asset is the remote representation of one DAM asset. Optional fields are pointers.
type Asset struct {
	ID                    string                 `json:"id"`
	ExternalID            string                 `json:"external_id,omitempty"`
	Filename              string                 `json:"filename,omitempty"`
	Status                string                 `json:"status,omitempty"`
	CreatedDate           *string                `json:"created_date,omitempty"`
	LastUpdateDate        *string                `json:"last_update_date,omitempty"`
	FileUploadDate        *string                `json:"file_upload_date,omitempty"`
	DeletedDate           *string                `json:"deleted_date,omitempty"`
	ReleasedAndNotExpired *bool                  `json:"released_and_not_expired,omitempty"`
	FileProperties        *FileProperties        `json:"file_properties,omitempty"`
	Embeds                *Embeds                `json:"embeds,omitempty"`
	Thumbnails            map[string]Link        `json:"thumbnails,omitempty"`
	Links                 *Links                 `json:"_links,omitempty"`
	Metadata              *Metadata              `json:"metadata,omitempty"`
	Security              map[string]interface{} `json:"security,omitempty"`
}

type FileProperties struct {
	Format          string           `json:"format,omitempty"`
	FormatType      string           `json:"format_type,omitempty"`
	SizeInKBytes    *float64         `json:"size_in_kbytes,omitempty"`
	ImageProperties *ImageProperties `json:"image_properties,omitempty"`
}

type ImageProperties struct {
	Width       *float64 `json:"width,omitempty"`
	Height      *float64 `json:"height,omitempty"`
	AspectRatio *float64 `json:"aspect_ratio,omitempty"`
}

type Embeds struct {
	Original *Link `json:"original,omitempty"`
}

type Link struct {
	URL string `json:"url"`
}

type Links struct {
	Download string `json:"download,omitempty"`
}

type Metadata struct {
	Fields map[string][]string `json:"fields,omitempty"`
}

// Removed reports whether the DAM no longer serves this asset.
func (a *Asset) Removed() bool {
	return a == nil || a.Status == StatusInactive || a.Status == StatusDeleted
}

// IsImage reports whether the DAM classifies the file as an image.
func (a *Asset) IsImage() bool {
	return a.FileProperties != nil && strings.EqualFold(a.FileProperties.FormatType, "image")
}

// Format returns the upper-cased file format, e.g. "JPEG" or "SVG".
func (a *Asset) Format() string {
	if a.FileProperties == nil {
		return ""
	}
	return strings.ToUpper(a.FileProperties.Format)
}

// OriginalEmbedURL returns the embed URL renditions are derived from.
func (a *Asset) OriginalEmbedURL() string {
	if a.Embeds == nil || a.Embeds.Original == nil {
		return ""
	}
	return a.Embeds.Original.URL
}

// DownloadLink returns the direct download link, if any.
func (a *Asset) DownloadLink() string {
	if a.Links == nil {
		return ""
	}
	return a.Links.Download
}

func (a *Asset) imageProperties() *ImageProperties {
	if a.FileProperties == nil {
		return nil
	}
	return a.FileProperties.ImageProperties
}

// MetadataLabels lists the local metadata attributes kept in sync with the DAM.
var MetadataLabels = map[string]string{
	"external_id":              "External ID",
	"filename":                 "Filename",
	"created_date":             "Created date",
	"last_update_date":         "Last update date",
	"file_upload_date":         "File upload date",
	"deleted_date":             "Deleted date",
	"released_and_not_expired": "Released and not expired",
	"format":                   "Format",
	"description":              "Description",
	"filesize":                 "Filesize",
	"height":                   "Height",
	"width":                    "Width",
	"type":                     "Type",
}

// AssetMetadata extracts one named attribute from the asset. The second result is
// false when the asset does not carry the attribute.
func AssetMetadata(a *Asset, name string) (string, bool) {
	if a == nil {
		return "", false
	}
	switch name {
	case "description":
		return firstField(a.Metadata, "description")
	case "type":
		return firstField(a.Metadata, "assettype")
	case "filesize":
		if a.FileProperties != nil && a.FileProperties.SizeInKBytes != nil {
			return formatNumber(*a.FileProperties.SizeInKBytes), true
		}
	case "height":
		if p := a.imageProperties(); p != nil && p.Height != nil {
			return formatNumber(*p.Height), true
		}
	case "width":
		if p := a.imageProperties(); p != nil && p.Width != nil {
			return formatNumber(*p.Width), true
		}
	case "format":
		if a.FileProperties != nil && a.FileProperties.Format != "" {
			return a.FileProperties.Format, true
		}
	case "external_id":
		return a.ExternalID, a.ExternalID != ""
	case "filename":
		return a.Filename, a.Filename != ""
	case "created_date":
		return deref(a.CreatedDate)
	case "last_update_date":
		return deref(a.LastUpdateDate)
	case "file_upload_date":
		return deref(a.FileUploadDate)
	case "deleted_date":
		return deref(a.DeletedDate)
	case "released_and_not_expired":
		if a.ReleasedAndNotExpired != nil {
			return strconv.FormatBool(*a.ReleasedAndNotExpired), true
		}
	}
	return "", false
}

func firstField(m *Metadata, key string) (string, bool) {
	if m == nil {
		return "", false
	}
	values, ok := m.Fields[key]
	if !ok || len(values) == 0 {
		return "", false
	}
	return values[0], true
}

func deref(s *string) (string, bool) {
	if s == nil {
		return "", false
	}
	return *s, true
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
