package domain

import "strings"

const base58Alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

// ValidZcashAddress reports whether addr looks like a transparent Zcash
// address (t1/t3 prefix, base58, 35 characters). Shielded addresses are not
// accepted; the deposit detector only watches transparent outputs.
func ValidZcashAddress(addr string) bool {
	if len(addr) != 35 {
		return false
	}
	if !strings.HasPrefix(addr, "t1") && !strings.HasPrefix(addr, "t3") {
		return false
	}
	for _, c := range addr {
		if !strings.ContainsRune(base58Alphabet, c) {
			return false
		}
	}
	return true
}

// ValidNearAccount reports whether s is a well-formed NEAR account ID:
// either a named account (2-64 chars of lowercase alphanumerics with
// separator-delimited parts) or a 64-char hex implicit account.
func ValidNearAccount(s string) bool {
	if len(s) < 2 || len(s) > 64 {
		return false
	}
	if len(s) == 64 && isHex(s) {
		return true
	}
	for _, part := range strings.Split(s, ".") {
		if !validAccountPart(part) {
			return false
		}
	}
	return true
}

func validAccountPart(part string) bool {
	if part == "" {
		return false
	}
	for i, c := range part {
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		case c == '-' || c == '_':
			// Separators may not lead, trail, or repeat.
			if i == 0 || i == len(part)-1 {
				return false
			}
			if part[i-1] == '-' || part[i-1] == '_' {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func isHex(s string) bool {
	for _, c := range s {
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
			return false
		}
	}
	return true
}
