package chat

// Wire format accepted from callers. A turn is a role plus ordered parts,
// each part carrying either text or inline base64 data.
type Turn struct {
	Role  string `json:"role"`
	Parts []Part `json:"parts"`
}

type Part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *InlineData `json:"inlineData,omitempty"`
}

type InlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"` // base64, no data-URI prefix
}

// Message is the provider-agnostic intermediate form consumed by every
// adapter. Roles are carried through verbatim; adapters own any renaming.
type Message struct {
	Role     string
	Segments []Segment
}

// Segment holds exactly one of Text or Image.
type Segment struct {
	Text  string
	Image *InlineData
}

func (s Segment) IsImage() bool {
	return s.Image != nil
}

// Result is the normalized reply. Text and Image may both be set for a
// multimodal reply; a terminal result has at least one of them.
type Result struct {
	Text  string
	Image *InlineData
}
