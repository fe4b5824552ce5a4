// Package domain holds the value types and sentinel errors shared by every
// layer of the filesystem service: inodes, blobs, change events, and the
// POSIX-flavored error taxonomy. No I/O, SQL, or network concerns belong
// here.
package domain

import "fmt"

// Code is a POSIX-flavored error taxonomy tag carried by FsError.
type Code string

// Error taxonomy, per the filesystem service's published contract.
const (
	CodeNotFound          Code = "NotFound"         // ENOENT
	CodeAlreadyExists     Code = "AlreadyExists"    // EEXIST
	CodeNotDirectory      Code = "NotDirectory"     // ENOTDIR
	CodeIsDirectory       Code = "IsDirectory"       // EISDIR
	CodeNotEmpty          Code = "NotEmpty"          // ENOTEMPTY
	CodeInvalidArgument   Code = "InvalidArgument"   // EINVAL
	CodeNameTooLong       Code = "NameTooLong"       // ENAMETOOLONG
	CodePermissionDenied  Code = "PermissionDenied"  // EACCES
	CodeTooManyLinks      Code = "TooManyLinks"      // ELOOP
	CodeResourceExhausted Code = "ResourceExhausted"
	CodeRateLimited       Code = "RateLimited"
	CodeUnavailable       Code = "Unavailable"
)

// FsError is the sum-typed error every public operation in this module
// returns instead of throwing. Code acts as the taxonomy tag; Path is
// populated when the failing operation names one.
type FsError struct {
	Code Code
	Msg  string
	Path string
}

func (e *FsError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s (path=%s)", e.Code, e.Msg, e.Path)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

// NewError constructs an *FsError with no path context.
func NewError(code Code, msg string) *FsError {
	return &FsError{Code: code, Msg: msg}
}

// NewPathError constructs an *FsError naming the path that failed.
func NewPathError(code Code, msg, path string) *FsError {
	return &FsError{Code: code, Msg: msg, Path: path}
}

// Is lets errors.Is(err, domain.NewError(CodeNotFound, "")) match on Code
// alone, ignoring Msg/Path.
func (e *FsError) Is(target error) bool {
	t, ok := target.(*FsError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// CodeOf extracts the taxonomy code from err, returning ("", false) if err
// is not an *FsError.
func CodeOf(err error) (Code, bool) {
	fe, ok := err.(*FsError)
	if !ok {
		return "", false
	}
	return fe.Code, true
}
