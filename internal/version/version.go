// ABOUTME: Version information for phoenix-audio
// ABOUTME: Reported by the CLI and advertised in discovery records
package version

const (
	Version      = "0.3.0"
	Product      = "Phoenix Audio"
	Manufacturer = "Team Phoenix"
)

// String returns the product and version on one line
func String() string {
	return Product + " " + Version
}
