package batch

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/MarcoPoloResearchLab/campbot/internal/remote"
	"github.com/MarcoPoloResearchLab/campbot/internal/store"
)

func TestReadIDs(t *testing.T) {
	input := strings.Join([]string{
		"# generated by search",
		"42|r",
		"",
		" 7 | w ",
		"42|r",
		"42|o",
	}, "\n")

	keys, err := ReadIDs(strings.NewReader(input))
	require.NoError(t, err)
	require.Equal(t, []store.DocumentKey{
		{DocumentID: 42, Type: "r"},
		{DocumentID: 7, Type: "w"},
		{DocumentID: 42, Type: "o"},
	}, keys)
}

func TestReadIDsReportsLineNumbers(t *testing.T) {
	_, err := ReadIDs(strings.NewReader("42|r\n\nroute-12\n"))
	require.ErrorIs(t, err, ErrMalformedLine)
	require.Contains(t, err.Error(), "line 3")

	_, err = ReadIDs(strings.NewReader("abc|r\n"))
	require.ErrorIs(t, err, ErrMalformedLine)

	_, err = ReadIDs(strings.NewReader("12|q\n"))
	require.ErrorIs(t, err, ErrMalformedLine)
	require.ErrorIs(t, err, remote.ErrUnknownDocumentType)
}

func TestWriteIDsRoundTrips(t *testing.T) {
	keys := []store.DocumentKey{{DocumentID: 42, Type: "r"}, {DocumentID: 3, Type: "w"}}
	var buffer bytes.Buffer
	require.NoError(t, WriteIDs(&buffer, keys))
	require.Equal(t, "42|r\n3|w\n", buffer.String())

	parsed, err := ReadIDs(&buffer)
	require.NoError(t, err)
	require.Equal(t, keys, parsed)
}

func TestMatchKeysAndReportLines(t *testing.T) {
	matches := []store.SearchMatch{
		{DocumentID: 42, Type: "r", Lang: "fr", Field: "description"},
		{DocumentID: 42, Type: "r", Lang: "en", Field: "remarks"},
		{DocumentID: 9, Type: "w", Lang: " ", Field: "summary"},
		{DocumentID: 5, Type: "", Lang: "fr", Field: "title"},
	}

	keys := MatchKeys(matches)
	require.Equal(t, []store.DocumentKey{{DocumentID: 42, Type: "r"}, {DocumentID: 9, Type: "w"}}, keys)

	var buffer bytes.Buffer
	require.NoError(t, WriteIDs(&buffer, keys))
	parsed, err := ReadIDs(&buffer)
	require.NoError(t, err)
	require.Equal(t, keys, parsed)

	line, err := ReportLine("https://www.camptocamp.org", matches[0])
	require.NoError(t, err)
	require.Equal(t, "* https://www.camptocamp.org/routes/42/fr description", line)

	line, err = ReportLine("https://www.camptocamp.org", matches[2])
	require.NoError(t, err)
	require.Equal(t, "* https://www.camptocamp.org/waypoints/9 summary", line)

	_, err = ReportLine("https://www.camptocamp.org", store.SearchMatch{DocumentID: 1, Field: "title"})
	require.ErrorIs(t, err, remote.ErrUnknownDocumentType)
}
