package index

import (
	"encoding/json"

	"github.com/starford/relink/internal/models"
)

func titleFromTags(raw string) string {
	var tags []models.Tag
	if err := json.Unmarshal([]byte(raw), &tags); err != nil {
		return ""
	}
	ev := models.Event{Tags: tags}
	return ev.TagValue("title")
}
