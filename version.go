// Package asynctrain provides the version information for asynctrain.
package asynctrain

// Version is the current version of asynctrain.
const Version = "0.1.0"

// GetVersion returns the current version string.
func GetVersion() string {
	return Version
}
