package abs

import "encoding/json"

// ItemResponse is a library item as returned by GET /api/items/{id}.
// Server versions disagree on several field names; see mapper.go for the
// precedence used when more than one is present.
type ItemResponse struct {
	ID        string      `json:"id"`
	LegacyID  string      `json:"_id,omitempty"` // pre-2.0 servers
	LibraryID string      `json:"libraryId,omitempty"`
	MediaType string      `json:"mediaType,omitempty"` // "book" or "podcast"
	UpdatedAt json.Number `json:"updatedAt,omitempty"` // unix millis; some servers send a string
	Title     string      `json:"title,omitempty"`     // flattened "minified" shape
	Name      string      `json:"name,omitempty"`
	Author    string      `json:"author,omitempty"`
	Media     *Media      `json:"media,omitempty"`
}

// Media holds the nested media block
type Media struct {
	Metadata *Metadata `json:"metadata,omitempty"`
}

// Metadata holds book or podcast metadata
type Metadata struct {
	Title      string `json:"title,omitempty"`
	AuthorName string `json:"authorName,omitempty"` // books
	Author     string `json:"author,omitempty"`     // podcasts
}

// ErrorResponse is the body some servers send with 4xx responses
type ErrorResponse struct {
	Error string `json:"error"`
}
