package models

// PlaceholderTitle is shown while a site configuration has never loaded.
const PlaceholderTitle = "Loading..."

// SiteConfig is built from a publication index document. A new value
// replaces the old one wholesale on every refresh.
type SiteConfig struct {
	Coordinate          string   `json:"coordinate"`
	Title               string   `json:"title"`
	Description         string   `json:"description,omitempty"`
	LogoURL             string   `json:"logo_url,omitempty"`
	CategoryCoordinates []string `json:"category_coordinates"`
	OwnerID             string   `json:"owner_id"`
	Theme               string   `json:"theme,omitempty"`
	UpdatedAt           int64    `json:"updated_at,omitempty"`
	IsPlaceholder       bool     `json:"is_placeholder"`
}

// PlaceholderSite returns the degraded configuration served before the
// first successful fetch.
func PlaceholderSite(coordinate, theme string) SiteConfig {
	return SiteConfig{
		Coordinate:          coordinate,
		Title:               PlaceholderTitle,
		CategoryCoordinates: []string{},
		Theme:               theme,
		IsPlaceholder:       true,
	}
}
