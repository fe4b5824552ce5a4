package pathsafe

import (
	"strings"
	"testing"

	"github.com/dot-do/fsx/internal/domain"
)

func codeOf(t *testing.T, err error) domain.Code {
	t.Helper()
	code, ok := domain.CodeOf(err)
	if !ok {
		t.Fatalf("expected *domain.FsError, got %T: %v", err, err)
	}
	return code
}

func TestValidateTraversalEscape(t *testing.T) {
	_, err := Validate("../../../etc/passwd", "/app/data")
	if err == nil {
		t.Fatalf("expected escape to be rejected")
	}
	if code := codeOf(t, err); code != domain.CodePermissionDenied {
		t.Fatalf("expected PermissionDenied, got %s", code)
	}
}

func TestValidateDotDotCollapse(t *testing.T) {
	got, err := Validate("a/b/../c.txt", "/app/data")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "/app/data/a/c.txt" {
		t.Fatalf("got %q", got)
	}
}

func TestValidateNullByte(t *testing.T) {
	_, err := Validate("file .txt", "/")
	if err == nil {
		t.Fatalf("expected rejection")
	}
	if code := codeOf(t, err); code != domain.CodeInvalidArgument {
		t.Fatalf("expected InvalidArgument, got %s", code)
	}
}

func TestValidatePercentEncodedNull(t *testing.T) {
	_, err := Validate("file%00.txt", "/")
	if err == nil || codeOf(t, err) != domain.CodeInvalidArgument {
		t.Fatalf("expected InvalidArgument for %%00 sequence")
	}
}

func TestValidateControlAndUnicodeRejects(t *testing.T) {
	bad := []string{
		"a\x01b",
		"a\x1Fb",
		"a\x7Fb",
		"a\u2028b",
		"a\u2029b",
		"a\u202Eb",
		"a\uFFFDb",
	}
	for _, p := range bad {
		if _, err := Validate(p, "/"); err == nil {
			t.Errorf("expected rejection for %q", p)
		} else if codeOf(t, err) != domain.CodeInvalidArgument {
			t.Errorf("expected InvalidArgument for %q, got %s", p, codeOf(t, err))
		}
	}
}

func TestValidateBareDotTokens(t *testing.T) {
	for _, p := range []string{".", ".."} {
		if _, err := Validate(p, "/"); err == nil || codeOf(t, err) != domain.CodeInvalidArgument {
			t.Errorf("expected InvalidArgument for bare %q", p)
		}
	}
}

func TestValidateEmptyAndWhitespace(t *testing.T) {
	for _, p := range []string{"", "   ", "\t"} {
		if _, err := Validate(p, "/"); err == nil || codeOf(t, err) != domain.CodeInvalidArgument {
			t.Errorf("expected InvalidArgument for %q", p)
		}
	}
}

func TestValidateTrailingWhitespace(t *testing.T) {
	if _, err := Validate("/foo/bar ", "/"); err == nil || codeOf(t, err) != domain.CodeInvalidArgument {
		t.Fatalf("expected InvalidArgument for trailing whitespace")
	}
}

func TestValidateSegmentLeadingWhitespace(t *testing.T) {
	if _, err := Validate("/foo/ bar", "/"); err == nil || codeOf(t, err) != domain.CodeInvalidArgument {
		t.Fatalf("expected InvalidArgument for segment leading whitespace")
	}
}

func TestValidatePathLengthBoundary(t *testing.T) {
	seg := strings.Repeat("a", 200)
	// Build a path of exactly 4096 bytes.
	var b strings.Builder
	for b.Len()+len(seg)+1 <= MaxPathBytes {
		b.WriteByte('/')
		b.WriteString(seg)
	}
	for b.Len() < MaxPathBytes {
		b.WriteByte('x')
	}
	okPath := b.String()
	if len(okPath) != MaxPathBytes {
		t.Fatalf("test setup error: built %d bytes", len(okPath))
	}
	if _, err := Validate(okPath, "/"); err != nil {
		t.Fatalf("expected 4096-byte path to succeed: %v", err)
	}
	tooLong := okPath + "x"
	if _, err := Validate(tooLong, "/"); err == nil || codeOf(t, err) != domain.CodeNameTooLong {
		t.Fatalf("expected NameTooLong for 4097-byte path")
	}
}

func TestValidateSegmentLengthBoundary(t *testing.T) {
	seg256 := strings.Repeat("a", 256)
	if _, err := Validate("/"+seg256, "/"); err == nil || codeOf(t, err) != domain.CodeNameTooLong {
		t.Fatalf("expected NameTooLong for 256-byte segment")
	}
	seg255 := strings.Repeat("a", 255)
	if _, err := Validate("/"+seg255, "/"); err != nil {
		t.Fatalf("expected 255-byte segment to succeed: %v", err)
	}
}

func TestValidateBackslashAndMultiSlash(t *testing.T) {
	got, err := Validate(`a\\b//c`, "/root")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "/root/a/b/c" {
		t.Fatalf("got %q", got)
	}
}

func TestValidateAlternateStreamStrip(t *testing.T) {
	got, err := Validate("file.txt:stream", "/root")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "/root/file.txt" {
		t.Fatalf("got %q", got)
	}
}

func TestValidateIdempotent(t *testing.T) {
	first, err := Validate("a/b/../c.txt", "/root")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := Validate(first, "/root")
	if err != nil {
		t.Fatalf("unexpected error on second pass: %v", err)
	}
	if first != second {
		t.Fatalf("expected idempotent normalization: %q != %q", first, second)
	}
}

func TestIsEscape(t *testing.T) {
	if !IsEscape("../outside", "/root") {
		t.Fatalf("expected escape detected")
	}
	if IsEscape("inside/file.txt", "/root") {
		t.Fatalf("expected no escape")
	}
}

func TestIsSymlinkEscape(t *testing.T) {
	if !IsSymlinkEscape("/etc/passwd", "/root/link", "/root") {
		t.Fatalf("expected absolute target escape detected")
	}
	if IsSymlinkEscape("../sibling.txt", "/root/dir/link", "/root") {
		t.Fatalf("expected relative target within root to not escape")
	}
	if !IsSymlinkEscape("../../outside.txt", "/root/dir/link", "/root") {
		t.Fatalf("expected relative target escaping root to be detected")
	}
}
