package handlers

import (
	"strings"
	"unicode/utf16"
)

// decodeRequestedName decodes X-WOPI-RequestedName. Office sends it in
// UTF-7 (RFC 2152); other clients send plain UTF-8. Values that are not
// well-formed UTF-7 are returned unchanged.
func decodeRequestedName(v string) string {
	if !strings.ContainsRune(v, '+') {
		return v
	}
	if s, ok := decodeUTF7(v); ok {
		return s
	}
	return v
}

func base64Value(c byte) (uint32, bool) {
	switch {
	case c >= 'A' && c <= 'Z':
		return uint32(c - 'A'), true
	case c >= 'a' && c <= 'z':
		return uint32(c-'a') + 26, true
	case c >= '0' && c <= '9':
		return uint32(c-'0') + 52, true
	case c == '+':
		return 62, true
	case c == '/':
		return 63, true
	}
	return 0, false
}

func decodeUTF7(s string) (string, bool) {
	var b strings.Builder
	for i := 0; i < len(s); {
		c := s[i]
		if c >= 0x80 {
			return "", false
		}
		if c != '+' {
			b.WriteByte(c)
			i++
			continue
		}

		i++
		if i < len(s) && s[i] == '-' {
			b.WriteByte('+')
			i++
			continue
		}

		var (
			units []uint16
			acc   uint32
			bits  uint
			n     int
		)
		for ; i < len(s); i++ {
			v, ok := base64Value(s[i])
			if !ok {
				break
			}
			acc = acc<<6 | v
			bits += 6
			n++
			if bits >= 16 {
				bits -= 16
				units = append(units, uint16(acc>>bits))
				acc &= 1<<bits - 1
			}
		}
		if n == 0 || bits >= 6 || acc != 0 {
			return "", false
		}
		if i < len(s) && s[i] == '-' {
			i++
		}
		for _, r := range utf16.Decode(units) {
			if r == '�' {
				return "", false
			}
			b.WriteRune(r)
		}
	}
	return b.String(), true
}
