package dam

import (
	"fmt"
	"strings"
)

// APIVersion describes the paths and response shapes of one DAM API generation.
type APIVersion struct {
	Name            string
	SearchPath      string
	AssetPath       string // contains one %s for the asset id
	DownloadPath    string // contains one %s for the asset id
	ProbePath       string
	ItemsKey        string // "items" or "assets"
	RequiredExpands []string
}

var (
	// V2 is the current asset API.
	V2 = APIVersion{
		Name:            "v2",
		SearchPath:      "/v2/assets/search",
		AssetPath:       "/v2/assets/%s",
		DownloadPath:    "/v2/assets/%s/download",
		ProbePath:       "/v2/user",
		ItemsKey:        "items",
		RequiredExpands: []string{"file_properties", "embeds", "metadata", "thumbnails"},
	}
	// V1 is the legacy Webdam REST API.
	V1 = APIVersion{
		Name:            "v1",
		SearchPath:      "/api/rest/v1/search",
		AssetPath:       "/api/rest/v1/assets/%s",
		DownloadPath:    "/api/rest/v1/assets/%s/download",
		ProbePath:       "/api/rest/v1/user",
		ItemsKey:        "assets",
		RequiredExpands: []string{"file_properties", "embeds"},
	}
)

// ParseVersion maps a configured name to its APIVersion.
func ParseVersion(name string) (APIVersion, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "v2", "2":
		return V2, nil
	case "v1", "1":
		return V1, nil
	default:
		return APIVersion{}, fmt.Errorf("unsupported DAM API version %q", name)
	}
}

func (v APIVersion) assetPath(id string) string {
	return fmt.Sprintf(v.AssetPath, id)
}

func (v APIVersion) downloadPath(id string) string {
	return fmt.Sprintf(v.DownloadPath, id)
}
