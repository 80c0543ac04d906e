package catalog

import "encoding/json"

// CollectionItem is one importable item discovered in a collection listing.
type CollectionItem struct {
	ID  string
	URL string
}

// collectionPage is one page of a collection or search-result listing.
type collectionPage struct {
	Results    []collectionResult `json:"results"`
	Pagination struct {
		Next string `json:"next"`
	} `json:"pagination"`
}

// collectionResult is one entry in a listing page. ImageURL and
// OriginalFormat distinguish real items from collections and web pages.
type collectionResult struct {
	ID             string   `json:"id"`
	ImageURL       []string `json:"image_url"`
	OriginalFormat []string `json:"original_format"`
	URL            string   `json:"url"`
}

// ItemDetail is the item-level response: descriptive metadata plus the
// resource/file-variant tree asset URLs are chosen from.
type ItemDetail struct {
	Item      ItemMetadata `json:"item"`
	Resources []Resource   `json:"resources"`
}

// ItemMetadata carries the fields merged into the local item record. Raw
// retains the whole item object for storage.
type ItemMetadata struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	ImageURL    []string `json:"image_url"`

	Raw json.RawMessage `json:"-"`
}

// Resource is one physical resource of an item. Files groups file variants;
// each inner slice lists the available renditions of one page image.
type Resource struct {
	URL   string          `json:"url"`
	Files [][]FileVariant `json:"files"`
}

// FileVariant is one rendition of a page image. Height/Width are pointers
// because the API omits them for some derivative formats.
type FileVariant struct {
	URL      string `json:"url"`
	Height   *int   `json:"height"`
	Width    *int   `json:"width"`
	Mimetype string `json:"mimetype"`
}
