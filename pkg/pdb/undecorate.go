package pdb

import (
	"strings"
)

// Undecorate strips the decoration MSVC adds to public symbol names so they
// can be looked up by their source name:
//
//	_KeBugCheckEx@20     -> KeBugCheckEx
//	@KfRaiseIrql@4       -> KfRaiseIrql
//	__imp_ExAllocatePool -> ExAllocatePool
//	?Run@Worker@@QEAAXXZ -> Worker::Run
//
// Names it does not recognize are returned unchanged.
func Undecorate(name string) string {
	if name == "" {
		return name
	}

	// Import thunk
	if rest, ok := strings.CutPrefix(name, "__imp_"); ok && rest != "" {
		return Undecorate(rest)
	}

	switch name[0] {
	case '?':
		if q := qualifiedName(name[1:]); q != "" {
			return q
		}
		return name
	case '_', '@':
		// stdcall and fastcall carry an @N argument size suffix; cdecl only the prefix.
		if stem, ok := trimArgSize(name[1:]); ok {
			return stem
		}
		if name[0] == '_' && len(name) > 1 && name[1] != '_' {
			return name[1:]
		}
	}
	return name
}

// trimArgSize removes a trailing @N where N is decimal.
func trimArgSize(name string) (string, bool) {
	at := strings.LastIndexByte(name, '@')
	if at <= 0 || at == len(name)-1 {
		return name, false
	}
	for _, c := range name[at+1:] {
		if c < '0' || c > '9' {
			return name, false
		}
	}
	return name[:at], true
}

// qualifiedName decodes the name part of a C++ decorated name: segments
// terminated by '@', innermost first, ending at "@@". Digits refer back to
// earlier segments. Operators and other special names are not decoded.
func qualifiedName(encoded string) string {
	var parts, names []string
	pos := 0
	for pos < len(encoded) {
		c := encoded[pos]
		switch {
		case c == '@':
			pos++
			if pos < len(encoded) && encoded[pos] == '@' || len(parts) == 0 {
				return joinReversed(parts)
			}
		case c >= '0' && c <= '9':
			idx := int(c - '0')
			pos++
			if idx >= len(names) {
				return ""
			}
			parts = append(parts, names[idx])
		case c == '?':
			return ""
		default:
			end := strings.IndexAny(encoded[pos:], "@?")
			if end < 0 {
				end = len(encoded) - pos
			}
			seg := encoded[pos : pos+end]
			names = append(names, seg)
			parts = append(parts, seg)
			pos += end
		}
	}
	return joinReversed(parts)
}

func joinReversed(parts []string) string {
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, "::")
}
