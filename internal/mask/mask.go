// Package mask redacts contact details for preview display. Previews
// show enough structure to prove a contact exists without disclosing it.
package mask

import (
	"regexp"
	"strings"

	"github.com/prospect-labs/prospector-cli/internal/model"
)

// Style selects how much of an address stays visible.
type Style string

const (
	// StyleDots shows the first character and dots: j•••@example.com.
	StyleDots Style = "dots"
	// StyleMinimal shows the first character and up to three asterisks.
	StyleMinimal Style = "minimal"
	// StyleAsterisk shows first and last characters around asterisks.
	StyleAsterisk Style = "asterisk"
	// StyleFirstLast shows first and last characters around dots.
	StyleFirstLast Style = "first_last"
	// StylePartial shows the first character and a visible tail.
	StylePartial Style = "partial"
)

var emailRe = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)

// ValidEmail reports whether s looks like an email address.
func ValidEmail(s string) bool {
	return strings.Contains(s, "@") && emailRe.MatchString(strings.TrimSpace(s))
}

// Email masks one address. Invalid input is returned unchanged. The
// domain stays visible when preserveDomain is set, which previews use so
// a buyer can judge relevance.
func Email(email string, style Style, preserveDomain bool) string {
	if !ValidEmail(email) {
		return email
	}
	email = strings.ToLower(strings.TrimSpace(email))

	local, domain, ok := strings.Cut(email, "@")
	if !ok {
		return email
	}

	maskedDomain := domain
	if !preserveDomain {
		maskedDomain = maskDomain(domain, style)
	}
	return maskLocal(local, style) + "@" + maskedDomain
}

// Emails masks a list, preserving domains.
func Emails(emails []string, style Style) []string {
	if len(emails) == 0 {
		return nil
	}
	out := make([]string, len(emails))
	for i, e := range emails {
		out[i] = Email(e, style, true)
	}
	return out
}

// EmailsInText masks every address found in free text.
func EmailsInText(text string, style Style) string {
	return emailRe.ReplaceAllStringFunc(text, func(m string) string {
		return Email(m, style, true)
	})
}

// Phone keeps the dial prefix and last two digits: 555•••67. Numbers
// too short to mask safely are fully redacted.
func Phone(phone string) string {
	if len(phone) > 6 {
		return phone[:3] + "•••" + phone[len(phone)-2:]
	}
	return "•••••"
}

// Phones masks a list of numbers.
func Phones(phones []string) []string {
	if len(phones) == 0 {
		return nil
	}
	out := make([]string, len(phones))
	for i, p := range phones {
		out[i] = Phone(p)
	}
	return out
}

// Contact returns a masked copy of a contact record for preview output.
// Names, titles, and companies stay visible; emails, phones, and social
// profiles are redacted.
func Contact(c model.ContactRecord, style Style) model.ContactRecord {
	masked := c
	masked.Emails = Emails(c.Emails, style)
	masked.PhoneNumbers = Phones(c.PhoneNumbers)
	if len(c.SocialProfiles) > 0 {
		masked.SocialProfiles = make(map[string]string, len(c.SocialProfiles))
		for platform := range c.SocialProfiles {
			masked.SocialProfiles[platform] = "•••"
		}
	}
	return masked
}

func maskLocal(local string, style Style) string {
	n := len(local)
	if n <= 1 {
		return local
	}

	switch style {
	case StyleMinimal:
		return local[:1] + strings.Repeat("*", min(3, n-1))
	case StyleAsterisk:
		if n <= 3 {
			return local[:1] + strings.Repeat("*", n-1)
		}
		return local[:1] + strings.Repeat("*", min(4, n-2)) + local[n-1:]
	case StyleFirstLast:
		if n <= 3 {
			return local[:1] + strings.Repeat("•", n-1)
		}
		return local[:1] + strings.Repeat("•", n-2) + local[n-1:]
	case StylePartial:
		if n <= 2 {
			return local[:1] + strings.Repeat("•", n-1)
		}
		visible := max(1, n*3/10)
		return local[:1] + strings.Repeat("•", n-1-visible) + local[n-visible:]
	default: // StyleDots
		return local[:1] + strings.Repeat("•", n-1)
	}
}

func maskDomain(domain string, style Style) string {
	idx := strings.LastIndex(domain, ".")
	if idx < 0 {
		return domain
	}
	name, tld := domain[:idx], domain[idx+1:]
	if len(strings.ReplaceAll(name, ".", "")) <= 2 {
		return domain
	}

	parts := strings.Split(name, ".")
	for i, p := range parts {
		if len(p) > 1 {
			parts[i] = maskLocal(p, style)
		}
	}
	return strings.Join(parts, ".") + "." + tld
}
