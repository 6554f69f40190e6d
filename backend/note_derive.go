package backend

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	defaultNoteTitle = "New note"
	maxTitleBytes    = 80
	maxPreviewBytes  = 140
)

var entityReplacer = strings.NewReplacer(
	"&nbsp;", " ",
	"&amp;", "&",
	"&lt;", "<",
	"&gt;", ">",
	"&quot;", `"`,
	"&#39;", "'",
)

const (
	headingMarkers = "#->*"
	escapableChars = "\\`*_{}[]()#+-.!>~|"
)

// deriveTitlePreview は本文からサイドバー用のタイトルとプレビューを作る
//
// タイトルは最初の意味のある行、プレビューはそれ以外の最初の意味のある行
// （無ければタイトル行）。見出し記号・エスケープ・一部のHTMLエンティティを取り除く。
func deriveTitlePreview(content string) (title, preview string) {
	var lines []string
	for _, l := range strings.Split(content, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}

	titleLine := ""
	for _, l := range lines {
		if cleanLine(l) != "" {
			titleLine = l
			break
		}
	}

	title = cleanLine(titleLine)
	if title == "" {
		title = defaultNoteTitle
	} else {
		title = truncateBytes(title, maxTitleBytes)
	}

	previewLine := titleLine
	for _, l := range lines {
		if l != titleLine && cleanLine(l) != "" {
			previewLine = l
			break
		}
	}
	preview = truncateBytes(strings.Join(strings.Fields(cleanLine(previewLine)), " "), maxPreviewBytes)
	return title, preview
}

func cleanLine(line string) string {
	return strings.TrimSpace(entityReplacer.Replace(stripEscapes(sanitizeHeading(line))))
}

// sanitizeHeading は行頭の見出し・引用・箇条書き記号を外す
// "\#" のようにエスケープされた記号は文字として残す
func sanitizeHeading(line string) string {
	trimmed := strings.TrimLeftFunc(line, unicode.IsSpace)
	if rest, ok := strings.CutPrefix(trimmed, `\`); ok && rest != "" && strings.ContainsRune(headingMarkers, rune(rest[0])) {
		return strings.TrimSpace(rest)
	}
	return strings.TrimSpace(strings.TrimLeft(trimmed, headingMarkers))
}

func stripEscapes(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) && strings.IndexByte(escapableChars, s[i+1]) >= 0 {
			b.WriteByte(s[i+1])
			i++
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// truncateBytes はUTF-8の文字境界を保ったまま max バイト以内に切り詰める
func truncateBytes(s string, max int) string {
	if len(s) <= max {
		return s
	}
	end := max
	for end > 0 && !utf8.RuneStart(s[end]) {
		end--
	}
	return s[:end]
}
