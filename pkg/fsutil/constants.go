package fsutil

// Permission bits used when modkit creates files and directories.
const (
	FileModeDefault = 0o644 // installed mod files
	FileModeSecure  = 0o640 // cached downloads

	DirModeDefault = 0o755 // target tree directories
	DirModeSecure  = 0o750 // download cache
	DirModePrivate = 0o700 // registry database directory

	Umask = 0o022
)
