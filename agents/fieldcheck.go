package agents

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	emailPattern    = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	currencyPattern = regexp.MustCompile(`^\$?[\d,]+\.?\d{0,2}$`)
	nonDigit        = regexp.MustCompile(`\D`)
	datePatterns    = []*regexp.Regexp{
		regexp.MustCompile(`^\d{1,2}[/\-.]\d{1,2}[/\-.]\d{2,4}$`),
		regexp.MustCompile(`^\d{4}[/\-.]\d{1,2}[/\-.]\d{1,2}$`),
		regexp.MustCompile(`(?i)^\d{1,2}\s+(Jan|Feb|Mar|Apr|May|Jun|Jul|Aug|Sep|Oct|Nov|Dec)\s+\d{4}$`),
	}
)

// CheckFieldType reports whether a value is plausible for the declared type.
// Text-like types always pass; the point is catching an obviously wrong value
// in a typed slot, not strict format enforcement.
func CheckFieldType(fieldType FieldType, value any) bool {
	text := fmt.Sprintf("%v", value)
	switch fieldType {
	case FieldTypeEmail:
		return emailPattern.MatchString(text)
	case FieldTypePhone:
		digits := nonDigit.ReplaceAllString(text, "")
		return len(digits) >= 10 && len(digits) <= 12
	case FieldTypeDate:
		for _, pattern := range datePatterns {
			if pattern.MatchString(text) {
				return true
			}
		}
		return false
	case FieldTypeNumber:
		_, err := strconv.ParseFloat(strings.ReplaceAll(text, ",", ""), 64)
		return err == nil
	case FieldTypeCurrency:
		return currencyPattern.MatchString(strings.ReplaceAll(text, " ", ""))
	case FieldTypeBoolean:
		switch strings.ToLower(text) {
		case "true", "false", "yes", "no", "1", "0":
			return true
		}
		return false
	}
	return true
}
