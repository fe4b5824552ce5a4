package domain

// InodeType distinguishes the three kinds of inode the metadata store holds.
type InodeType string

const (
	TypeFile      InodeType = "file"
	TypeDirectory InodeType = "directory"
	TypeSymlink   InodeType = "symlink"
)

// Tier names a storage class a blob's bytes currently live in.
type Tier string

const (
	TierHot  Tier = "hot"
	TierWarm Tier = "warm"
	TierCold Tier = "cold"
)

// Inode is one row of the files table: a file, directory, or symlink.
// Path is always the normalized, globally unique absolute path; it is kept
// in sync with Name/ParentID by the Filesystem Engine's rename operation.
type Inode struct {
	ID            int64
	Path          string
	Name          string
	ParentID      *int64 // nil only for the root directory
	Type          InodeType
	Mode          uint32
	UID           uint32
	GID           uint32
	Size          int64
	BlobID        *BlobID // nil for directories, symlinks, and empty files
	SymlinkTarget *string // non-nil only for symlinks
	Tier          Tier
	ATimeMs       int64
	MTimeMs       int64
	CTimeMs       int64
	BirthTimeMs   int64
	NLink         int32
}

// IsDir reports whether the inode is a directory.
func (i *Inode) IsDir() bool { return i.Type == TypeDirectory }

// IsSymlink reports whether the inode is a symlink.
func (i *Inode) IsSymlink() bool { return i.Type == TypeSymlink }

// IsFile reports whether the inode is a regular file.
func (i *Inode) IsFile() bool { return i.Type == TypeFile }
