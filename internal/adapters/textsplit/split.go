package textsplit

import "strings"

const (
	// DiscordLimit: лимит длины content в Discord.
	DiscordLimit = 2000
	// TelegramLimit: лимит длины сообщения в Telegram.
	TelegramLimit = 4096
)

// Split режет текст на части не длиннее limit рун.
// Разрез ставится по переводу строки, если он есть в окне, иначе ровно по лимиту.
func Split(text string, limit int) []string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}
	if limit <= 0 {
		return []string{trimmed}
	}

	runes := []rune(trimmed)
	if len(runes) <= limit {
		return []string{trimmed}
	}

	var parts []string
	for start := 0; start < len(runes); {
		end := start + limit
		if end >= len(runes) {
			if chunk := strings.Trim(string(runes[start:]), "\n"); chunk != "" {
				parts = append(parts, chunk)
			}
			break
		}

		cut := -1
		for i := end; i > start; i-- {
			if runes[i-1] == '\n' {
				cut = i
				break
			}
		}
		if cut == -1 {
			cut = end
		}

		if chunk := strings.Trim(string(runes[start:cut]), "\n"); chunk != "" {
			parts = append(parts, chunk)
		}

		start = cut
		for start < len(runes) && runes[start] == '\n' {
			start++
		}
	}

	if len(parts) == 0 {
		return []string{trimmed}
	}
	return parts
}
