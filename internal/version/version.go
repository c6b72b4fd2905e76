package version

// Version is overridden at build time with -ldflags "-X leakfinder/internal/version.Version=..."
var Version = "dev"
