package api

import "strings"

func splitLines(s string) []string {
	if len(s) == 0 {
		return nil
	}
	return strings.Split(s, "\n")
}
