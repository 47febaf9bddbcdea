package remote

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrUnknownDocumentType indicates a type tag with no known URL path.
var ErrUnknownDocumentType = errors.New("remote: unknown document type")

var documentURLPaths = map[string]string{
	"a": "areas",
	"b": "books",
	"c": "articles",
	"i": "images",
	"m": "maps",
	"o": "outings",
	"r": "routes",
	"u": "profiles",
	"w": "waypoints",
	"x": "xreports",
}

// URLPath returns the API and UI path segment for a document type tag.
func URLPath(documentType string) (string, error) {
	path, ok := documentURLPaths[strings.TrimSpace(documentType)]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownDocumentType, documentType)
	}
	return path, nil
}

// DocumentURL builds the canonical UI address of a document, optionally in one language.
func DocumentURL(uiURL string, documentID int64, documentType, lang string) (string, error) {
	path, err := URLPath(documentType)
	if err != nil {
		return "", err
	}
	base := fmt.Sprintf("%s/%s/%d", strings.TrimRight(uiURL, "/"), path, documentID)
	if lang = strings.TrimSpace(lang); lang != "" {
		return base + "/" + lang, nil
	}
	return base, nil
}

// Document is a full document snapshot. Fields the bot does not use are kept
// verbatim so that a fetched document can be saved back unchanged.
type Document struct {
	DocumentID int64
	Type       string
	Version    int64
	Locales    []Locale

	extra map[string]json.RawMessage
}

const (
	keyDocumentID = "document_id"
	keyType       = "type"
	keyVersion    = "version"
	keyLocales    = "locales"
	keyLang       = "lang"
	keyTopicID    = "topic_id"
)

// UnmarshalJSON splits known keys from the rest of the payload.
func (d *Document) UnmarshalJSON(data []byte) error {
	raw := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*d = Document{}
	if err := popJSON(raw, keyDocumentID, &d.DocumentID); err != nil {
		return err
	}
	if err := popJSON(raw, keyType, &d.Type); err != nil {
		return err
	}
	if err := popJSON(raw, keyVersion, &d.Version); err != nil {
		return err
	}
	if err := popJSON(raw, keyLocales, &d.Locales); err != nil {
		return err
	}
	d.extra = raw
	return nil
}

// MarshalJSON merges known keys back with the preserved payload.
func (d Document) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(d.extra)+4)
	for key, value := range d.extra {
		out[key] = value
	}
	out[keyDocumentID] = d.DocumentID
	if d.Type != "" {
		out[keyType] = d.Type
	}
	if d.Version != 0 {
		out[keyVersion] = d.Version
	}
	locales := d.Locales
	if locales == nil {
		locales = []Locale{}
	}
	out[keyLocales] = locales
	return json.Marshal(out)
}

// Locale is one language of a document. Fields holds the non-empty-able string
// fields; lang, version and topic_id are metadata.
type Locale struct {
	Lang    string
	Version int64
	TopicID *int64
	Fields  map[string]string

	extra map[string]json.RawMessage
}

// FieldNames returns the string field names in lexical order.
func (l Locale) FieldNames() []string {
	names := make([]string, 0, len(l.Fields))
	for name := range l.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// UnmarshalJSON keeps string fields in Fields and every other value aside.
func (l *Locale) UnmarshalJSON(data []byte) error {
	raw := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*l = Locale{Fields: map[string]string{}, extra: map[string]json.RawMessage{}}
	if err := popJSON(raw, keyLang, &l.Lang); err != nil {
		return err
	}
	if err := popJSON(raw, keyVersion, &l.Version); err != nil {
		return err
	}
	if err := popJSON(raw, keyTopicID, &l.TopicID); err != nil {
		return err
	}
	for key, value := range raw {
		trimmed := bytes.TrimSpace(value)
		if len(trimmed) > 0 && trimmed[0] == '"' {
			var text string
			if err := json.Unmarshal(trimmed, &text); err != nil {
				return fmt.Errorf("locale field %s: %w", key, err)
			}
			l.Fields[key] = text
			continue
		}
		l.extra[key] = value
	}
	return nil
}

// MarshalJSON writes metadata, string fields and preserved values.
func (l Locale) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(l.extra)+len(l.Fields)+3)
	for key, value := range l.extra {
		out[key] = value
	}
	for key, value := range l.Fields {
		out[key] = value
	}
	out[keyLang] = l.Lang
	if l.Version != 0 {
		out[keyVersion] = l.Version
	}
	out[keyTopicID] = l.TopicID
	return json.Marshal(out)
}

func popJSON(raw map[string]json.RawMessage, key string, target any) error {
	value, ok := raw[key]
	if !ok {
		return nil
	}
	delete(raw, key)
	if bytes.Equal(bytes.TrimSpace(value), []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(value, target); err != nil {
		return fmt.Errorf("document key %s: %w", key, err)
	}
	return nil
}

// Contribution is one entry of the platform's change feed.
type Contribution struct {
	VersionID int64       `json:"version_id"`
	WrittenAt string      `json:"written_at"`
	Lang      string      `json:"lang"`
	Comment   string      `json:"comment"`
	Document  DocumentRef `json:"document"`
	User      User        `json:"user"`
}

// DocumentRef is the owning document of a contribution.
type DocumentRef struct {
	DocumentID int64  `json:"document_id"`
	Type       string `json:"type"`
}

// User is the author of a contribution.
type User struct {
	UserID        int64  `json:"user_id"`
	Name          string `json:"name"`
	ForumUsername string `json:"forum_username"`
}

// Username prefers the forum name, which is what the platform displays.
func (u User) Username() string {
	if u.ForumUsername != "" {
		return u.ForumUsername
	}
	return u.Name
}
