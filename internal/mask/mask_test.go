package mask

import (
	"testing"

	"github.com/prospect-labs/prospector-cli/internal/model"
)

func TestEmail(t *testing.T) {
	tests := []struct {
		name           string
		email          string
		style          Style
		preserveDomain bool
		want           string
	}{
		{"dots preserve domain", "john.doe@example.com", StyleDots, true, "j•••••••@example.com"},
		{"dots uppercased input", "John.Doe@Example.COM", StyleDots, true, "j•••••••@example.com"},
		{"minimal", "admin@company.com", StyleMinimal, true, "a***@company.com"},
		{"asterisk", "support@example.com", StyleAsterisk, true, "s****t@example.com"},
		{"first last", "sales@example.com", StyleFirstLast, true, "s•••s@example.com"},
		{"masked domain keeps tld", "admin@company.com", StyleDots, false, "a••••@c••••••.com"},
		{"short local untouched", "a@example.com", StyleDots, true, "a@example.com"},
		{"invalid passes through", "not-an-email", StyleDots, true, "not-an-email"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Email(tt.email, tt.style, tt.preserveDomain)
			if got != tt.want {
				t.Errorf("Email(%q) = %q, want %q", tt.email, got, tt.want)
			}
		})
	}
}

func TestEmailsInText(t *testing.T) {
	text := "Write to sales@acme.example.com or ops@acme.example.com today."
	got := EmailsInText(text, StyleDots)
	want := "Write to s••••@acme.example.com or o••@acme.example.com today."
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestPhone(t *testing.T) {
	tests := []struct {
		phone string
		want  string
	}{
		{"5551234567", "555•••67"},
		{"+15551234567", "+15•••67"},
		{"123456", "•••••"},
		{"", "•••••"},
	}
	for _, tt := range tests {
		if got := Phone(tt.phone); got != tt.want {
			t.Errorf("Phone(%q) = %q, want %q", tt.phone, got, tt.want)
		}
	}
}

func TestContact(t *testing.T) {
	c := model.ContactRecord{
		Emails:         []string{"jane@acme.example.com"},
		PhoneNumbers:   []string{"5551234567"},
		Names:          []string{"Jane Smith"},
		JobTitles:      []string{"VP Sales"},
		SocialProfiles: map[string]string{"linkedin": "https://linkedin.example/in/janesmith"},
		Confidence:     0.9,
	}

	masked := Contact(c, StyleDots)

	if masked.Emails[0] != "j•••@acme.example.com" {
		t.Errorf("email = %q", masked.Emails[0])
	}
	if masked.PhoneNumbers[0] != "555•••67" {
		t.Errorf("phone = %q", masked.PhoneNumbers[0])
	}
	if masked.SocialProfiles["linkedin"] != "•••" {
		t.Errorf("social = %q", masked.SocialProfiles["linkedin"])
	}
	if masked.Names[0] != "Jane Smith" || masked.JobTitles[0] != "VP Sales" {
		t.Error("names and titles must stay visible")
	}
	if masked.Confidence != 0.9 {
		t.Error("confidence changed")
	}

	// The original record is untouched.
	if c.Emails[0] != "jane@acme.example.com" || c.PhoneNumbers[0] != "5551234567" {
		t.Error("masking mutated the input record")
	}
}
