package catalog

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
)

// comparableFields returns the record's comparable fields in a fixed order.
// The ID, raw HTML, and metadata map are excluded: the ID never changes for
// a given record, raw HTML differs on every fetch, and metadata is parse
// context rather than product state.
func (r Record) comparableFields() []string {
	reviews := ""
	if r.NumberOfReviews != nil {
		reviews = strconv.Itoa(*r.NumberOfReviews)
	}
	return []string{
		r.Name,
		r.PriceInclTax,
		r.PriceExclTax,
		r.Tax,
		r.Availability,
		r.Description,
		r.UPC,
		reviews,
		r.Category,
		strconv.Itoa(r.Rating),
		r.ImageURL,
		r.PageURL,
	}
}

// Fingerprint returns a deterministic hex digest over the comparable fields.
// Two records with identical field values always produce identical
// fingerprints; changing any single comparable field changes the digest.
func (r Record) Fingerprint() string {
	h := sha256.New()
	for _, f := range r.comparableFields() {
		h.Write([]byte(f))
		h.Write([]byte{0x1f})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Snapshot returns the comparable fields as a map, used for change-log
// old/new value snapshots. Unset optional fields are omitted.
func (r Record) Snapshot() map[string]string {
	snap := map[string]string{
		"name":             r.Name,
		"price_incl_tax":   r.PriceInclTax,
		"price_excl_tax":   r.PriceExclTax,
		"tax":              r.Tax,
		"availability":     r.Availability,
		"product_description": r.Description,
		"upc":              r.UPC,
		"image_url":        r.ImageURL,
		"product_page_url": r.PageURL,
	}
	if r.NumberOfReviews != nil {
		snap["number_of_reviews"] = strconv.Itoa(*r.NumberOfReviews)
	}
	if r.Category != "" {
		snap["category"] = r.Category
	}
	if r.Rating > 0 {
		snap["rating"] = strconv.Itoa(r.Rating)
	}
	return snap
}
