// Package pathsafe is the filesystem service's sole trust boundary: every
// externally supplied path crosses Validate before it reaches the metadata
// or blob stores. A bad path is rejected, never "cleaned up" — sanitization
// is never used in place of rejection.
//
// Grounded on the teacher's domain.isValidID: a hand-rolled byte/rune
// scanner, no regex, same texture carried forward here at path scale.
package pathsafe

import (
	"strings"

	"github.com/dot-do/fsx/internal/domain"
)

const (
	// MaxPathBytes is the maximum encoded length of a whole path.
	MaxPathBytes = 4096
	// MaxSegmentBytes is the maximum encoded length of a single path segment.
	MaxSegmentBytes = 255
)

// disallowed runes rejected anywhere in the input, per spec.md §4.1.
var disallowedRunes = map[rune]struct{}{
	'\u2028': {}, // line separator
	'\u2029': {}, // paragraph separator
	'\u202E': {}, // right-to-left override
	'\uFFFD': {}, // replacement character
}

// Validate normalizes path and enforces that the result lies within root
// (the jail). It returns the normalized absolute path or an *domain.FsError.
func Validate(path, root string) (string, error) {
	if err := checkRawInput(path); err != nil {
		return "", err
	}
	normalizedRoot := normalizeSlashes(root)
	normalizedRoot = collapseAndClean(normalizedRoot, "/")
	if normalizedRoot == "" {
		normalizedRoot = "/"
	}

	resolved := collapseAndClean(normalizeSlashes(path), normalizedRoot)

	if len(resolved) > MaxPathBytes {
		return "", domain.NewPathError(domain.CodeNameTooLong, "path exceeds 4096 bytes", path)
	}
	for _, seg := range strings.Split(strings.TrimPrefix(resolved, "/"), "/") {
		if len(seg) > MaxSegmentBytes {
			return "", domain.NewPathError(domain.CodeNameTooLong, "segment exceeds 255 bytes", path)
		}
	}

	if resolved != normalizedRoot && !strings.HasPrefix(resolved, normalizedRoot+"/") {
		return "", domain.NewPathError(domain.CodePermissionDenied, "path escapes jail root", path)
	}
	return resolved, nil
}

// IsEscape reports whether path would escape root, without allocating an
// error. It never panics on malformed input; malformed input is itself
// treated as an escape.
func IsEscape(path, root string) bool {
	_, err := Validate(path, root)
	return err != nil
}

// IsSymlinkEscape reports whether a symlink at linkPath with the given
// target would resolve outside root. Absolute targets are checked directly;
// relative targets are resolved against linkPath's parent directory first.
func IsSymlinkEscape(target, linkPath, root string) bool {
	if target == "" {
		return true
	}
	var candidate string
	if strings.HasPrefix(target, "/") {
		candidate = target
	} else {
		parent := parentOf(linkPath)
		candidate = joinRaw(parent, target)
	}
	return IsEscape(candidate, root)
}

func parentOf(p string) string {
	p = normalizeSlashes(p)
	idx := strings.LastIndex(strings.TrimSuffix(p, "/"), "/")
	if idx <= 0 {
		return "/"
	}
	return p[:idx]
}

func joinRaw(parent, rel string) string {
	if parent == "/" {
		return "/" + rel
	}
	return parent + "/" + rel
}

// checkRawInput rejects characters and shapes that are never acceptable,
// before any normalization happens.
func checkRawInput(path string) error {
	if strings.TrimSpace(path) == "" {
		return domain.NewPathError(domain.CodeInvalidArgument, "empty path", path)
	}
	if strings.Contains(path, "%00") {
		return domain.NewPathError(domain.CodeInvalidArgument, "null byte sequence", path)
	}
	if path != strings.TrimRight(path, " \t\r\n\v\f") {
		return domain.NewPathError(domain.CodeInvalidArgument, "trailing whitespace", path)
	}
	for _, seg := range strings.Split(strings.ReplaceAll(path, "\\", "/"), "/") {
		if seg == "." || seg == ".." {
			// Dot-segments are handled by normalization elsewhere; the bare
			// whole-path tokens "." and ".." are rejected outright only
			// when they are the ENTIRE path, per spec.md §4.1. Mid-path
			// occurrences are legal and collapsed during normalization.
			continue
		}
		if len(seg) > 0 && (seg[0] == ' ' || seg[0] == '\t') {
			return domain.NewPathError(domain.CodeInvalidArgument, "segment begins with whitespace", path)
		}
	}
	if path == "." || path == ".." {
		return domain.NewPathError(domain.CodeInvalidArgument, "bare dot token", path)
	}

	for _, r := range path {
		if r == 0 {
			return domain.NewPathError(domain.CodeInvalidArgument, "null byte", path)
		}
		if r >= 0x01 && r <= 0x1F {
			return domain.NewPathError(domain.CodeInvalidArgument, "ASCII control character", path)
		}
		if r == 0x7F {
			return domain.NewPathError(domain.CodeInvalidArgument, "DEL character", path)
		}
		if _, bad := disallowedRunes[r]; bad {
			return domain.NewPathError(domain.CodeInvalidArgument, "disallowed unicode character", path)
		}
	}
	return nil
}

// normalizeSlashes maps backslashes to forward slashes and strips
// colon-suffixed alternate-stream tails from each segment.
func normalizeSlashes(path string) string {
	path = strings.ReplaceAll(path, "\\", "/")
	segs := strings.Split(path, "/")
	for i, seg := range segs {
		if idx := strings.IndexByte(seg, ':'); idx >= 0 && i == len(segs)-1 {
			segs[i] = seg[:idx]
		}
	}
	return strings.Join(segs, "/")
}

// collapseAndClean resolves "." and ".." segments, collapses repeated
// slashes, drops trailing slashes (except bare root), and resolves relative
// input against base.
func collapseAndClean(path, base string) string {
	abs := path
	if !strings.HasPrefix(path, "/") {
		abs = joinRaw(base, path)
	}
	parts := strings.Split(abs, "/")
	var stack []string
	for _, p := range parts {
		switch p {
		case "", ".":
			continue
		case "..":
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		default:
			stack = append(stack, p)
		}
	}
	if len(stack) == 0 {
		return "/"
	}
	return "/" + strings.Join(stack, "/")
}
