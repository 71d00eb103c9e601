// Package migtype defines the fixed set of migration kinds the robot handles.
package migtype

import (
	"fmt"
	"strings"
)

// Kind selects one of the three migration pipelines.
type Kind string

const (
	PDOL Kind = "PDOL"
	SDOL Kind = "SDOL"
	MLM  Kind = "MLM"
)

// All lists every supported kind in a stable order.
var All = []Kind{PDOL, SDOL, MLM}

// ArchiveMode tells the archive handler how inbound files are packed.
type ArchiveMode int

const (
	ArchiveSFX ArchiveMode = iota
	ArchiveSplit
)

// Parse converts user input into a Kind.
func Parse(s string) (Kind, error) {
	k := Kind(strings.ToUpper(strings.TrimSpace(s)))
	switch k {
	case PDOL, SDOL, MLM:
		return k, nil
	}
	return "", fmt.Errorf("unknown migration type %q (use PDOL, SDOL or MLM)", s)
}

func (k Kind) String() string { return string(k) }

// JobID is the external tool job selector for the kind.
func (k Kind) JobID() string {
	switch k {
	case PDOL:
		return "7"
	case SDOL:
		return "6"
	case MLM:
		return "5"
	}
	return ""
}

// ArchiveMode reports how the inbound drop for this kind is packed.
func (k Kind) ArchiveMode() ArchiveMode {
	if k == MLM {
		return ArchiveSplit
	}
	return ArchiveSFX
}

// ArchivePattern is the glob matched inside the type subdirectory to find
// the inbound archive(s).
func (k Kind) ArchivePattern() string {
	switch k {
	case PDOL:
		return "*ExportPersonnelFile*.exe"
	case SDOL:
		return "*ExportPayrollFile*.exe"
	case MLM:
		return "*.zip.001"
	}
	return ""
}

// DossierSuffix is the one-letter tag appended to renamed e-dossier folders.
func (k Kind) DossierSuffix() string {
	switch k {
	case PDOL:
		return "P"
	case SDOL:
		return "S"
	case MLM:
		return "M"
	}
	return ""
}

// MigratedPrefix is the Counters.csv key prefix of migration folders.
func (k Kind) MigratedPrefix() string {
	return string(k) + "_Migrated_"
}
