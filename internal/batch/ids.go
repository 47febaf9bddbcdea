package batch

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/MarcoPoloResearchLab/campbot/internal/remote"
	"github.com/MarcoPoloResearchLab/campbot/internal/store"
)

const idSeparator = "|"

// ErrMalformedLine indicates an ids file line that is not "id|type".
var ErrMalformedLine = errors.New("batch: malformed ids line")

// ReadIDs parses "document_id|document_type" lines. Blank lines and lines
// starting with # are ignored. Duplicate keys are kept once, in first-seen order.
func ReadIDs(reader io.Reader) ([]store.DocumentKey, error) {
	keys := make([]store.DocumentKey, 0)
	seen := make(map[store.DocumentKey]struct{})

	scanner := bufio.NewScanner(reader)
	lineNumber := 0
	for scanner.Scan() {
		lineNumber++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		rawID, rawType, found := strings.Cut(line, idSeparator)
		if !found {
			return nil, fmt.Errorf("%w: line %d: %q", ErrMalformedLine, lineNumber, line)
		}
		documentID, err := strconv.ParseInt(strings.TrimSpace(rawID), 10, 64)
		if err != nil || documentID <= 0 {
			return nil, fmt.Errorf("%w: line %d: invalid document id %q", ErrMalformedLine, lineNumber, rawID)
		}
		documentType := strings.TrimSpace(rawType)
		if _, err := remote.URLPath(documentType); err != nil {
			return nil, fmt.Errorf("%w: line %d: %w", ErrMalformedLine, lineNumber, err)
		}
		key := store.DocumentKey{DocumentID: documentID, Type: documentType}
		if _, duplicate := seen[key]; duplicate {
			continue
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}

// WriteIDs writes one "document_id|document_type" line per key.
func WriteIDs(writer io.Writer, keys []store.DocumentKey) error {
	buffered := bufio.NewWriter(writer)
	for _, key := range keys {
		if _, err := fmt.Fprintf(buffered, "%d%s%s\n", key.DocumentID, idSeparator, key.Type); err != nil {
			return err
		}
	}
	return buffered.Flush()
}

// MatchKeys returns the distinct documents of a search result, in result order.
// Locale rows without a cached document have no type and are left out.
func MatchKeys(matches []store.SearchMatch) []store.DocumentKey {
	keys := make([]store.DocumentKey, 0, len(matches))
	seen := make(map[store.DocumentKey]struct{}, len(matches))
	for _, match := range matches {
		if strings.TrimSpace(match.Type) == "" {
			continue
		}
		key := store.DocumentKey{DocumentID: match.DocumentID, Type: match.Type}
		if _, duplicate := seen[key]; duplicate {
			continue
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}
	return keys
}

// ReportLine formats one search match as a review bullet pointing at the document page.
func ReportLine(uiURL string, match store.SearchMatch) (string, error) {
	documentURL, err := remote.DocumentURL(uiURL, match.DocumentID, match.Type, match.Lang)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("* %s %s", documentURL, match.Field), nil
}
