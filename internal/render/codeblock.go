package render

import (
	"regexp"
	"strings"
)

var fencedCode = regexp.MustCompile("(?s)```[ \\t]*([\\w+#.-]*)[^\\n]*\\n(.*?)```")

// ExtractCode возвращает код для картинки и его язык. Если в тексте есть
// fenced-блок, используются его тело и объявленный язык, иначе весь текст.
func ExtractCode(text, languageHint string) (string, string) {
	m := fencedCode.FindStringSubmatch(text)
	if m == nil {
		return strings.Trim(text, "\n"), languageHint
	}
	lang := languageHint
	if m[1] != "" {
		lang = m[1]
	}
	return strings.TrimRight(m[2], "\n"), lang
}

// StripCode удаляет fenced-блоки из текста вопроса
func StripCode(text string) string {
	out := fencedCode.ReplaceAllString(text, "")
	lines := strings.Split(out, "\n")
	kept := lines[:0]
	blank := false
	for _, line := range lines {
		line = strings.TrimRight(line, " \t")
		if line == "" {
			if blank || len(kept) == 0 {
				continue
			}
			blank = true
		} else {
			blank = false
		}
		kept = append(kept, line)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}

// HasCode сообщает, содержит ли текст fenced-блок
func HasCode(text string) bool {
	return fencedCode.MatchString(text)
}
