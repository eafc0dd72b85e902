package libisulad

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
)

// maxScrapedLines bounds the diagnostic buffer: up to three "error"-bearing
// lines from log.json and shim-log.json, in that order, concatenated.
const maxScrapedLines = 3

// diagnosticLogNames lists the line-delimited JSON logs scraped for
// diagnostics, in scrape order.
var diagnosticLogNames = []string{"log.json", "shim-log.json"}

// ScrapeErrorLines returns up to three lines mentioning "error" from
// log.json then shim-log.json under dir, concatenated with newlines.
// Missing files are not an error; they simply contribute nothing.
func ScrapeErrorLines(dir string) string {
	var lines []string
	for _, name := range diagnosticLogNames {
		if len(lines) >= maxScrapedLines {
			break
		}
		lines = append(lines, scrapeFile(filepath.Join(dir, name), maxScrapedLines-len(lines))...)
	}
	return strings.Join(lines, "\n")
}

func scrapeFile(path string, limit int) []string {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	var out []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() && len(out) < limit {
		line := scanner.Text()
		if strings.Contains(strings.ToLower(line), "error") {
			out = append(out, line)
		}
	}
	return out
}
