package markup

// utf16Len returns the number of UTF-16 code units needed to encode r.
func utf16Len(r rune) int {
	if r >= 0x10000 {
		return 2
	}
	return 1
}

// UTF16Len returns the length of s in UTF-16 code units.
func UTF16Len(s string) int {
	n := 0
	for _, r := range s {
		n += utf16Len(r)
	}
	return n
}

// UTF16ToByte converts a UTF-16 code unit offset into a byte offset in s.
// Offsets past the end map to len(s).
func UTF16ToByte(s string, off int) int {
	units := 0
	for i, r := range s {
		if units >= off {
			return i
		}
		units += utf16Len(r)
	}
	return len(s)
}

// ByteToUTF16 converts a byte offset in s into a UTF-16 code unit offset.
func ByteToUTF16(s string, pos int) int {
	units := 0
	for i, r := range s {
		if i >= pos {
			break
		}
		units += utf16Len(r)
	}
	return units
}
