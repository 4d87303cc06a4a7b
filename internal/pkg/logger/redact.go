package logger

import "strings"

// RedactPhone masks a phone number for safe logging, keeping the last four
// digits: "+628123456789" → "********6789". Numbers shorter than four
// digits are fully masked.
func RedactPhone(phone string) string {
	digits := len(phone)
	if digits <= 4 {
		return strings.Repeat("*", digits)
	}
	return strings.Repeat("*", digits-4) + phone[digits-4:]
}

// RedactName masks a person's name, keeping the first letter of each word:
// "Budi Santoso" → "B*** S***".
func RedactName(name string) string {
	words := strings.Fields(name)
	for i, w := range words {
		words[i] = w[:1] + "***"
	}
	return strings.Join(words, " ")
}
