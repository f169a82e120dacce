// Package catalog manages the Daparto parts-catalog records.
package catalog

import (
	"fmt"
	"time"
)

// Field bounds for record validation.
const (
	ZustandMin       = 1
	ZustandMax       = 5
	VersandklasseMin = 0
	VersandklasseMax = 99
	LieferzeitMin    = 0
	LieferzeitMax    = 365
)

// DapartoRecord is one parts-catalog entry. InterneArtikelnummer is the
// globally unique business key among non-deleted records. The Tiltle field
// name mirrors the committed upload contract, misspelling included.
type DapartoRecord struct {
	ID                    int64      `json:"id"`
	InterneArtikelnummer  string     `json:"interne_artikelnummer"`
	Preis                 float64    `json:"preis"`
	Zustand               int        `json:"zustand"`
	Tiltle                string     `json:"tiltle"`
	TeilemarkeTeilenummer string     `json:"teilemarke_teilenummer"`
	Pfand                 float64    `json:"pfand"`
	Versandklasse         int        `json:"versandklasse"`
	Lieferzeit            int        `json:"lieferzeit"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
	DeletedAt             *time.Time `json:"deleted_at,omitempty"`
}

// Validate returns a reason per violated field constraint, empty when the
// record is well-formed.
func (r DapartoRecord) Validate() []string {
	var reasons []string
	if r.InterneArtikelnummer == "" {
		reasons = append(reasons, "interne_artikelnummer must not be empty")
	}
	if r.Preis < 0 {
		reasons = append(reasons, fmt.Sprintf("preis must not be negative, got %v", r.Preis))
	}
	if r.Zustand < ZustandMin || r.Zustand > ZustandMax {
		reasons = append(reasons, fmt.Sprintf("zustand must be between %d and %d, got %d", ZustandMin, ZustandMax, r.Zustand))
	}
	if r.Pfand < 0 {
		reasons = append(reasons, fmt.Sprintf("pfand must not be negative, got %v", r.Pfand))
	}
	if r.Versandklasse < VersandklasseMin || r.Versandklasse > VersandklasseMax {
		reasons = append(reasons, fmt.Sprintf("versandklasse must be between %d and %d, got %d", VersandklasseMin, VersandklasseMax, r.Versandklasse))
	}
	if r.Lieferzeit < LieferzeitMin || r.Lieferzeit > LieferzeitMax {
		reasons = append(reasons, fmt.Sprintf("lieferzeit must be between %d and %d, got %d", LieferzeitMin, LieferzeitMax, r.Lieferzeit))
	}
	return reasons
}
