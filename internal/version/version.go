// ABOUTME: Version and product identity constants
// ABOUTME: Single source of truth for build identification
package version

const (
	// Product is the player name shown in logs.
	Product = "EliteBox"

	// Manufacturer identifies the project.
	Manufacturer = "EliteBox Audio"

	// Version is the semantic version of this build.
	Version = "0.1.0"
)
