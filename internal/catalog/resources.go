package catalog

import "strings"

// AssetURLsFromResources chooses one download URL per file-variant group:
// the jpeg with the largest height*width area, falling back to the largest
// gif when no jpeg variant exists. Variants missing a URL or either
// dimension are ignored. Returns the ordered URL list plus the first
// resource's top-level URL, or ([], "") for no resources.
func AssetURLsFromResources(resources []Resource) ([]string, string) {
	urls := make([]string, 0)
	resourceURL := ""
	if len(resources) > 0 {
		resourceURL = resources[0].URL
	}

	for _, resource := range resources {
		for _, group := range resource.Files {
			if url := bestVariantURL(group); url != "" {
				urls = append(urls, url)
			}
		}
	}
	return urls, resourceURL
}

func bestVariantURL(group []FileVariant) string {
	bestURL := ""
	bestArea := -1
	bestIsJpeg := false

	for _, v := range group {
		if v.URL == "" || v.Height == nil || v.Width == nil {
			continue
		}

		isJpeg := strings.Contains(v.Mimetype, "jpeg") || strings.Contains(v.Mimetype, "jpg")
		isGif := strings.Contains(v.Mimetype, "gif")
		if !isJpeg && !isGif {
			continue
		}
		// Any jpeg beats every gif.
		if bestIsJpeg && !isJpeg {
			continue
		}

		area := *v.Height * *v.Width
		if (isJpeg && !bestIsJpeg) || area > bestArea {
			bestURL = v.URL
			bestArea = area
			bestIsJpeg = isJpeg
		}
	}
	return bestURL
}
