package model

import "time"

// Row is one record of a workspace resource (a table the check-in flow looks
// barcodes up against). Data holds the column values as a JSON object; the
// lookup path parses it per row rather than indexing, which is acceptable at
// the row counts this system targets.
type Row struct {
	ID         string `gorm:"primaryKey;size:36"`
	ResourceID string `gorm:"index;size:64;not null"`
	Data       []byte `gorm:"type:jsonb;not null"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
