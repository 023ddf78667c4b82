// Package contacts deduplicates CRM contact exports. Contacts are grouped
// by normalized email (or phone when email is missing); each group keeps one
// survivor with fields merged from its duplicates.
package contacts

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
)

type Contact struct {
	ID        string
	FirstName string
	LastName  string
	Email     string
	Phone     string
	Created   string
}

// NormalizeEmail lowercases and trims an email for comparison.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NormalizePhone keeps digits only and strips a leading US country code, so
// "+1 (239) 555-0101" and "2395550101" compare equal.
func NormalizePhone(phone string) string {
	var digits strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	s := digits.String()
	if len(s) == 11 && s[0] == '1' {
		s = s[1:]
	}
	return s
}

// dedupeKey groups contacts: email wins, phone is the fallback. Contacts
// with neither are never merged.
func dedupeKey(c Contact) string {
	if email := NormalizeEmail(c.Email); email != "" {
		return "e:" + email
	}
	if phone := NormalizePhone(c.Phone); phone != "" {
		return "p:" + phone
	}
	return ""
}

// Report summarizes one dedupe run.
type Report struct {
	Total      int
	Survivors  []Contact
	Duplicates []Contact
}

// Dedupe groups contacts and picks a survivor per group: the most complete
// row wins, ties go to the earliest seen. Missing survivor fields are filled
// from duplicates.
func Dedupe(rows []Contact) Report {
	report := Report{Total: len(rows)}
	groups := make(map[string]int) // key -> index into Survivors
	for _, row := range rows {
		key := dedupeKey(row)
		if key == "" {
			report.Survivors = append(report.Survivors, row)
			continue
		}
		at, seen := groups[key]
		if !seen {
			groups[key] = len(report.Survivors)
			report.Survivors = append(report.Survivors, row)
			continue
		}

		survivor := report.Survivors[at]
		if completeness(row) > completeness(survivor) {
			report.Duplicates = append(report.Duplicates, survivor)
			survivor = merge(row, survivor)
		} else {
			report.Duplicates = append(report.Duplicates, row)
			survivor = merge(survivor, row)
		}
		report.Survivors[at] = survivor
	}
	return report
}

func completeness(c Contact) int {
	count := 0
	for _, field := range []string{c.FirstName, c.LastName, c.Email, c.Phone} {
		if strings.TrimSpace(field) != "" {
			count++
		}
	}
	return count
}

// merge fills the survivor's blank fields from the duplicate.
func merge(survivor, dupe Contact) Contact {
	if survivor.FirstName == "" {
		survivor.FirstName = dupe.FirstName
	}
	if survivor.LastName == "" {
		survivor.LastName = dupe.LastName
	}
	if survivor.Email == "" {
		survivor.Email = dupe.Email
	}
	if survivor.Phone == "" {
		survivor.Phone = dupe.Phone
	}
	return survivor
}

var csvHeader = []string{"id", "first_name", "last_name", "email", "phone", "created"}

// ReadCSV parses a contact export. Column order follows the CRM export
// format; a header row is required.
func ReadCSV(r io.Reader) ([]Contact, error) {
	reader := csv.NewReader(r)
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	if len(records) == 0 {
		return nil, nil
	}

	contacts := make([]Contact, 0, len(records)-1)
	for i, record := range records[1:] {
		if len(record) < len(csvHeader) {
			return nil, fmt.Errorf("row %d: expected %d columns, got %d", i+2, len(csvHeader), len(record))
		}
		contacts = append(contacts, Contact{
			ID:        record[0],
			FirstName: record[1],
			LastName:  record[2],
			Email:     record[3],
			Phone:     record[4],
			Created:   record[5],
		})
	}
	return contacts, nil
}

func WriteCSV(w io.Writer, contacts []Contact) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(csvHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, c := range contacts {
		record := []string{c.ID, c.FirstName, c.LastName, c.Email, c.Phone, c.Created}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	writer.Flush()
	return writer.Error()
}
