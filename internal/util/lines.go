package util

import (
	"bufio"
	"bytes"
	"strings"
)

// Lines splits captured process output into lines, dropping blank ones.
// Both \n and \r\n terminators are accepted.
func Lines(b []byte) []string {
	var out []string
	sc := bufio.NewScanner(bytes.NewReader(b))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		out = append(out, line)
	}
	return out
}

// CountContaining counts lines that contain token, case-insensitively.
func CountContaining(lines []string, token string) int {
	token = strings.ToLower(token)
	n := 0
	for _, l := range lines {
		if strings.Contains(strings.ToLower(l), token) {
			n++
		}
	}
	return n
}
