package parser

import (
	"regexp"
	"strings"

	"github.com/opengpon/gpon_collector/models"
)

// Identity lookups against `sys atsh` output. Each field is independently
// optional — a missing line leaves its field empty.
var (
	firmwareRe   = regexp.MustCompile(`MLD\s+Version\s+:\s+(.+)`)
	bootloaderRe = regexp.MustCompile(`Bootbase Version\s+:\s+(.+)`)
	vendorRe     = regexp.MustCompile(`Vendor Name\s+:\s+(.+)`)
	modelRe      = regexp.MustCompile(`Product Model\s+:\s+(.+)`)
	serialRe     = regexp.MustCompile(`Serial Number\s+:\s+(.+)`)
)

// ParseIdentity extracts the device-identity block. Values are trimmed of
// surrounding whitespace (the device pads them and terminates lines with \r).
func ParseIdentity(output string) models.Identity {
	return models.Identity{
		Firmware:     lookup(firmwareRe, output),
		Bootloader:   lookup(bootloaderRe, output),
		Manufacturer: lookup(vendorRe, output),
		Model:        lookup(modelRe, output),
		SerialNumber: lookup(serialRe, output),
	}
}

func lookup(re *regexp.Regexp, output string) string {
	m := re.FindStringSubmatch(output)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}
