package common

// Version is set at build time via -ldflags
var Version = "0.9.2"

// GetVersion returns the application version
func GetVersion() string {
	return Version
}
