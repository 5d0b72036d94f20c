package orgs

import (
	"time"

	"github.com/google/uuid"
)

// Well-known journal codes resolved by the closing orchestrators.
const (
	JournalCodeClosing       = "CLOSING"
	JournalCodeOpening       = "OPENING"
	JournalCodeReopening     = "REOPENING"
	JournalCodeClosingAnnual = "CLOSING-ANNUAL"
)

// Settings carries tenant-wide accounting configuration.
type Settings struct {
	OrgID                     uuid.UUID
	BaseCurrency              string
	RetainedEarningsAccountID uuid.UUID
	FiscalArchiveAfterYears   int
	CreatedAt                 time.Time
	UpdatedAt                 time.Time
}

// Journal is a book of entry grouping journal entries by purpose.
type Journal struct {
	ID        uuid.UUID
	OrgID     uuid.UUID
	Code      string
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}
