// Package normalize provides pure string normalization for pharmacy records.
// Every function is total: malformed input degrades to a best-effort value,
// never an error.
package normalize

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"
)

// nameReplacements canonicalizes common abbreviations inside business names.
// Applied after uppercasing with padded spaces so only whole words match.
var nameReplacements = []struct{ from, to string }{
	{" PHARM ", " PHARMACY "},
	{" RX ", " PHARMACY "},
}

// streetAbbreviations maps full street types to USPS-style abbreviations.
var streetAbbreviations = []struct{ from, to string }{
	{"STREET", "ST"},
	{"AVENUE", "AVE"},
	{"BOULEVARD", "BLVD"},
	{"DRIVE", "DR"},
	{"ROAD", "RD"},
	{"SUITE", "STE"},
	{"HIGHWAY", "HWY"},
}

// Name uppercases, collapses whitespace, and canonicalizes business-name
// abbreviations.
func Name(s string) string {
	s = collapse(strings.ToUpper(strings.TrimSpace(s)))
	if s == "" {
		return ""
	}
	padded := " " + s + " "
	for _, r := range nameReplacements {
		padded = strings.ReplaceAll(padded, r.from, r.to)
	}
	return collapse(strings.TrimSpace(padded))
}

// Address uppercases, collapses whitespace, and abbreviates street types.
func Address(s string) string {
	s = collapse(strings.ToUpper(strings.TrimSpace(s)))
	if s == "" {
		return ""
	}
	words := strings.Fields(s)
	for i, w := range words {
		for _, a := range streetAbbreviations {
			if w == a.from {
				words[i] = a.to
				break
			}
		}
	}
	return strings.Join(words, " ")
}

// Phone formats a US phone number as "(AAA) BBB-CCCC". An 11-digit number
// with a leading 1 drops the country code. Anything that is not 10 digits
// after stripping passes through unchanged.
func Phone(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	var digits strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	d := digits.String()

	if len(d) == 11 && d[0] == '1' {
		d = d[1:]
	}
	if len(d) != 10 {
		return s
	}
	return fmt.Sprintf("(%s) %s-%s", d[0:3], d[3:6], d[6:10])
}

// ZIP truncates a postal code to its 5-digit prefix.
func ZIP(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 5 {
		return s[:5]
	}
	return s
}

// State uppercases and trims a state code.
func State(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// DedupKey derives the stable identity hash used for cross-source matching:
// MD5 over upper(name) | upper(address line 1) | zip5.
func DedupKey(name, addr1, zip string) string {
	raw := strings.ToUpper(strings.TrimSpace(name)) + "|" +
		strings.ToUpper(strings.TrimSpace(addr1)) + "|" +
		ZIP(zip)
	sum := md5.Sum([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// collapse reduces runs of whitespace to single spaces.
func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
