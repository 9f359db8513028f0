package realtime

import (
	"fmt"
	"strings"
)

// Channel name formats are part of the wire contract and must match any other
// client of the same transport byte for byte.

// PairingChannel names the channel binding one scanning client to one
// dashboard session.
func PairingChannel(resourceID, pairingCode string) string {
	return fmt.Sprintf("barcode_scanner_%s_%s", resourceID, pairingCode)
}

// ChangeFeedChannel names a dashboard's change-notification channel. The
// epoch token is fresh per mount so a remounted dashboard never collides
// with a stale subscription.
func ChangeFeedChannel(resourceID, epochToken string) string {
	return fmt.Sprintf("pulse_%s_%s", resourceID, epochToken)
}

// isChangeFeedChannel reports whether name is resourceID's change-feed
// channel under some epoch token. The epoch is the final segment and never
// contains an underscore, so everything between the prefix and the last
// underscore must equal the resource ID exactly; a prefix match alone would
// also hit resources whose IDs extend this one.
func isChangeFeedChannel(name, resourceID string) bool {
	rest, ok := strings.CutPrefix(name, "pulse_")
	if !ok {
		return false
	}
	i := strings.LastIndexByte(rest, '_')
	if i < 0 {
		return false
	}
	return rest[:i] == resourceID && rest[i+1:] != ""
}

// ScannersChannel names the per-resource presence channel on which a
// dashboard sees all currently connected scanners, across pairing codes.
func ScannersChannel(resourceID string) string {
	return fmt.Sprintf("pulse_scanners_%s", resourceID)
}

// ResultsChannel names the ephemeral channel a scan result is fanned out on
// for any separately opened results-viewing surface.
func ResultsChannel(resourceID, columnName string) string {
	return fmt.Sprintf("scan_results_%s_%s", resourceID, columnName)
}
