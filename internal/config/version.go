package config

// Version is the seovault binary version.
// Set at build time via: -ldflags "-X github.com/persistorai/seovault/internal/config.Version=<tag>"
var Version = "dev"
