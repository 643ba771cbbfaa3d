package model

import "time"

// Identity is the normalized (set_code, number, lang) triple that uniquely
// identifies a card print for queueing and upsert purposes.
type Identity struct {
	SetCode string `json:"set_code"`
	Number  string `json:"number"`
	Lang    string `json:"lang"`
}

// CardPrint is a single printing of a card in the catalog.
type CardPrint struct {
	ID       string `json:"id"`
	SetCode  string `json:"set_code"`
	Number   string `json:"number"`
	Lang     string `json:"lang"`
	Name     string `json:"name"`
	ImageURL string `json:"image_url,omitempty"`
	Rarity   string `json:"rarity,omitempty"`

	// Curated marks fields that were hand-corrected by an operator.
	// Curated values always win over externally imported data.
	CuratedName  bool `json:"curated_name,omitempty"`
	CuratedImage bool `json:"curated_image,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Identity returns the print's identity triple.
func (p CardPrint) Identity() Identity {
	return Identity{SetCode: p.SetCode, Number: p.Number, Lang: p.Lang}
}

// MergeCardPrint combines an existing print with incoming external data.
// Field-level precedence: curated fields on the existing print are never
// overwritten; external data only fills fields that are absent.
func MergeCardPrint(existing, incoming CardPrint) CardPrint {
	merged := existing

	if incoming.Name != "" && !existing.CuratedName {
		merged.Name = incoming.Name
	}
	if incoming.ImageURL != "" && !existing.CuratedImage {
		merged.ImageURL = incoming.ImageURL
	}
	if incoming.Rarity != "" {
		merged.Rarity = incoming.Rarity
	}

	// Identity columns come from the existing row; the normalized triple is
	// the natural key and must not drift on merge.
	return merged
}
