package layout

import (
	"bufio"
	"regexp"
	"strings"

	"github.com/brensch/migrobot/internal/migtype"
)

// DossierMarker is the path component the MLM target is truncated at.
const DossierMarker = "Elektronisch Dossier"

var (
	pdolMkdirRe = regexp.MustCompile(`(?i)\bif\s+not\s+exist\b.*?\bmkdir\s+("([^"]+)"|(\S+))`)
	sdolMdRe    = regexp.MustCompile(`(?i)^\s*md\b[^"]*"([^"]+)"`)
)

// targetStrategy extracts the e-dossier directory from generated script text.
type targetStrategy func(script string) (string, bool)

var targetStrategies = map[migtype.Kind]targetStrategy{
	migtype.PDOL: mkdirAfterIfNotExist,
	migtype.SDOL: quotedMd,
	migtype.MLM:  truncatedMkdir,
}

// ResolveTargetPath recovers the migration target folder from the text of a
// generated command script. Each kind emits its create-directory line in a
// different shape; the second return is false when nothing matched.
func ResolveTargetPath(kind migtype.Kind, script string) (string, bool) {
	strategy, ok := targetStrategies[kind]
	if !ok {
		return "", false
	}
	return strategy(script)
}

func mkdirAfterIfNotExist(script string) (string, bool) {
	sc := bufio.NewScanner(strings.NewReader(script))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		m := pdolMkdirRe.FindStringSubmatch(sc.Text())
		if m == nil {
			continue
		}
		p := m[2]
		if p == "" {
			p = m[3]
		}
		p = strings.TrimSpace(p)
		if p != "" {
			return p, true
		}
	}
	return "", false
}

func quotedMd(script string) (string, bool) {
	sc := bufio.NewScanner(strings.NewReader(script))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		if m := sdolMdRe.FindStringSubmatch(sc.Text()); m != nil {
			return strings.TrimSpace(m[1]), true
		}
	}
	return "", false
}

func truncatedMkdir(script string) (string, bool) {
	p, ok := mkdirAfterIfNotExist(script)
	if !ok {
		return "", false
	}
	return truncateAtComponent(p, DossierMarker)
}

// truncateAtComponent cuts p after the first path component containing marker.
// Both separators are accepted since scripts are generated on Windows.
func truncateAtComponent(p, marker string) (string, bool) {
	start := 0
	for i := 0; i <= len(p); i++ {
		if i < len(p) && p[i] != '\\' && p[i] != '/' {
			continue
		}
		if strings.Contains(p[start:i], marker) {
			return p[:i], true
		}
		start = i + 1
	}
	return "", false
}
