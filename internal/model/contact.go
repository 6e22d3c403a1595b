package model

import "time"

// ExtractionMethod tags how a contact record was produced.
type ExtractionMethod string

const (
	ExtractionPattern ExtractionMethod = "pattern"
	ExtractionModel   ExtractionMethod = "model"
	ExtractionHybrid  ExtractionMethod = "hybrid"
)

// ContactRecord holds contact details extracted from one scraped page.
// Zero or one per page before merging; canonical contacts may later merge
// several records.
type ContactRecord struct {
	Emails         []string          `json:"emails,omitempty"`
	PhoneNumbers   []string          `json:"phone_numbers,omitempty"`
	Names          []string          `json:"names,omitempty"`
	JobTitles      []string          `json:"job_titles,omitempty"`
	Companies      []string          `json:"companies,omitempty"`
	SocialProfiles map[string]string `json:"social_profiles,omitempty"`
	Confidence     float64           `json:"confidence"`
	Method         ExtractionMethod  `json:"method,omitempty"`
	ExtractedAt    time.Time         `json:"extracted_at,omitempty"`
}

// Empty reports whether the record carries no contact details at all.
func (c ContactRecord) Empty() bool {
	return len(c.Emails) == 0 &&
		len(c.PhoneNumbers) == 0 &&
		len(c.Names) == 0 &&
		len(c.JobTitles) == 0 &&
		len(c.Companies) == 0 &&
		len(c.SocialProfiles) == 0
}
