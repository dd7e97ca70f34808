package domain

import (
	"fmt"
	"regexp"
	"strings"
)

// MaxSymbolLength: максимальная длина тикера.
const MaxSymbolLength = 10

var symbolRegex = regexp.MustCompile(`^[A-Z]+$`)

// NormalizeSymbol приводит тикер к каноничному виду (верхний регистр, без пробелов).
func NormalizeSymbol(input string) (string, error) {
	symbol := strings.ToUpper(strings.TrimSpace(input))
	if symbol == "" || len(symbol) > MaxSymbolLength || !symbolRegex.MatchString(symbol) {
		return "", fmt.Errorf("symbol %q: %w", input, ErrInvalidInput)
	}
	return symbol, nil
}
