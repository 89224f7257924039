package version

// Value is stamped at build time via -ldflags "-X launcher-archiver/internal/version.Value=...".
var Value = "dev"
