package version

// Version is set at build time with -ldflags "-X irkit/core/internal/version.Version=...".
var Version = "dev"
