// Package markup converts between inline markdown text and styled ranges
// over UTF-16 code units.
package markup

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Style is an inline text style.
type Style int

const (
	StyleNone Style = iota
	StyleBold
	StyleItalic
	StyleStrikethrough
	StyleMonospace
)

// Placeholder is the object replacement character standing in for a mention.
const Placeholder = '\uFFFC'

var markers = map[Style]byte{
	StyleBold:          '*',
	StyleItalic:        '_',
	StyleStrikethrough: '~',
	StyleMonospace:     '`',
}

var styles = map[byte]Style{
	'*': StyleBold,
	'_': StyleItalic,
	'~': StyleStrikethrough,
	'`': StyleMonospace,
}

// Range annotates Length UTF-16 code units starting at Start. A range with a
// MentionID covers a single Placeholder and carries no style.
type Range struct {
	Start     int
	Length    int
	Style     Style
	MentionID string
}

// MentionResolver returns a display name for a mentioned id, or "" if unknown.
type MentionResolver func(id string) string

// Options controls rendering.
type Options struct {
	// QuoteMentions renders names containing whitespace as @[name].
	QuoteMentions bool
}

const (
	groupClose = iota
	groupOpen
	groupMention
)

type insertion struct {
	pos     int
	group   int
	k1, k2  int
	text    string
	replace int
}

// before reports whether a appears before b in the rendered text when both
// sit at the same byte offset.
func (a insertion) before(b insertion) bool {
	if a.group != b.group {
		return a.group < b.group
	}
	if a.k1 != b.k1 {
		return a.k1 < b.k1
	}
	return a.k2 < b.k2
}

// Render inserts style markers and substitutes mentions into text.
//
// At a single offset closing markers come first, then opening markers, then
// the mention. A range that started later closes first and a range that ends
// later opens first, so nested ranges produce nested markers. Ranges with an
// identical span nest by list position, the earlier range innermost.
func Render(text string, ranges []Range, resolve MentionResolver, opts Options) string {
	if len(ranges) == 0 {
		return text
	}
	total := UTF16Len(text)
	ins := make([]insertion, 0, 2*len(ranges))
	for i, r := range ranges {
		if r.Start < 0 || r.Start >= total || r.Length <= 0 {
			continue
		}
		end := min(r.Start+r.Length, total)
		startPos := UTF16ToByte(text, r.Start)

		if r.MentionID != "" {
			replace := 0
			if c, size := utf8.DecodeRuneInString(text[startPos:]); c == Placeholder {
				replace = size
			}
			ins = append(ins, insertion{
				pos:     startPos,
				group:   groupMention,
				k2:      i,
				text:    mentionText(r.MentionID, resolve, opts),
				replace: replace,
			})
			continue
		}

		marker, ok := markers[r.Style]
		if !ok {
			continue
		}
		ins = append(ins,
			insertion{pos: startPos, group: groupOpen, k1: -end, k2: -i, text: string(marker)},
			insertion{pos: UTF16ToByte(text, end), group: groupClose, k1: -r.Start, k2: i, text: string(marker)},
		)
	}

	// Apply back to front; at equal offsets apply in reverse display order
	// since each insertion lands in front of the previous one.
	sort.SliceStable(ins, func(a, b int) bool {
		if ins[a].pos != ins[b].pos {
			return ins[a].pos > ins[b].pos
		}
		return ins[b].before(ins[a])
	})

	out := text
	for _, in := range ins {
		out = out[:in.pos] + in.text + out[in.pos+in.replace:]
	}
	return out
}

func mentionText(id string, resolve MentionResolver, opts Options) string {
	name := ""
	if resolve != nil {
		name = resolve(id)
	}
	if name == "" {
		name = id
	}
	if opts.QuoteMentions && strings.IndexFunc(name, unicode.IsSpace) >= 0 {
		return "@[" + name + "]"
	}
	return "@" + name
}

type pair struct {
	open, close int
	style       Style
}

// Parse extracts paired style markers from text and returns the stripped
// text with the corresponding ranges. Unpaired markers are kept as literal
// text. Parse never fails; malformed input yields lossy output.
func Parse(text string) (string, []Range) {
	var pairs []pair
	open := make(map[byte][]int)
	for i := 0; i < len(text); i++ {
		c := text[i]
		style, ok := styles[c]
		if !ok {
			continue
		}
		stack := open[c]
		if n := len(stack); n > 0 {
			top := stack[n-1]
			if i > top+1 {
				pairs = append(pairs, pair{open: top, close: i, style: style})
				open[c] = stack[:n-1]
				continue
			}
			// Empty span: re-open at the later marker.
			stack[n-1] = i
			continue
		}
		open[c] = append(stack, i)
	}
	if len(pairs) == 0 {
		return text, nil
	}

	strip := make(map[int]bool, 2*len(pairs))
	for _, p := range pairs {
		strip[p.open] = true
		strip[p.close] = true
	}

	// at[i] is the UTF-16 offset in the stripped text of byte i of text.
	at := make([]int, len(text)+1)
	var b strings.Builder
	b.Grow(len(text))
	units := 0
	for i, r := range text {
		_, size := utf8.DecodeRuneInString(text[i:])
		for j := i; j < i+size; j++ {
			at[j] = units
		}
		if strip[i] {
			continue
		}
		b.WriteString(text[i : i+size])
		units += utf16Len(r)
	}
	at[len(text)] = units

	ranges := make([]Range, 0, len(pairs))
	for _, p := range pairs {
		start, end := at[p.open], at[p.close]
		if end-start <= 0 {
			continue
		}
		ranges = append(ranges, Range{Start: start, Length: end - start, Style: p.style})
	}
	return b.String(), ranges
}
