package urlutil

import (
	"fmt"
	"net/url"
	"path"
	"strings"
	"unicode"

	"github.com/google/uuid"
)

// ValidationError is returned for input that can never be fetched.
type ValidationError struct {
	Input  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid URL %q: %s", e.Input, e.Reason)
}

// Normalize validates raw and returns its canonical form: scheme and host
// lower-cased, default ports and fragments dropped, trailing slash removed
// from non-root paths.
func Normalize(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", &ValidationError{Input: raw, Reason: "empty"}
	}

	u, err := url.Parse(trimmed)
	if err != nil {
		return "", &ValidationError{Input: raw, Reason: "malformed"}
	}
	if !u.IsAbs() {
		return "", &ValidationError{Input: raw, Reason: "not an absolute URL"}
	}

	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", &ValidationError{Input: raw, Reason: "scheme must be http or https"}
	}
	if u.Hostname() == "" {
		return "", &ValidationError{Input: raw, Reason: "missing host"}
	}

	host := strings.ToLower(u.Hostname())
	port := u.Port()
	if (u.Scheme == "http" && port == "80") || (u.Scheme == "https" && port == "443") {
		port = ""
	}
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	if port != "" {
		host = host + ":" + port
	}
	u.Host = host

	u.Fragment = ""
	u.RawFragment = ""
	if u.Path == "" || u.Path == "/" {
		u.Path = "/"
		u.RawPath = ""
	} else {
		u.Path = strings.TrimRight(u.Path, "/")
		u.RawPath = strings.TrimRight(u.RawPath, "/")
		if u.Path == "" {
			u.Path = "/"
		}
	}

	return u.String(), nil
}

func IsValid(raw string) bool {
	_, err := Normalize(raw)
	return err == nil
}

// ID derives the record identifier from an already normalized URL.
func ID(normalized string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(normalized)).String()
}

// IDFor normalizes raw and derives its identifier.
func IDFor(raw string) (string, error) {
	n, err := Normalize(raw)
	if err != nil {
		return "", err
	}
	return ID(n), nil
}

// TitleFromURL builds a readable title from the last path segment, e.g.
// https://example.com/blog/my-post.html -> "My Post". The host is used
// when the path is empty.
func TitleFromURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return strings.TrimSpace(raw)
	}

	segment := path.Base(strings.TrimRight(u.Path, "/"))
	if segment == "." || segment == "/" || segment == "" {
		return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	}
	if unescaped, err := url.PathUnescape(segment); err == nil {
		segment = unescaped
	}
	if ext := path.Ext(segment); isFileExt(ext) {
		segment = strings.TrimSuffix(segment, ext)
	}

	words := strings.FieldsFunc(segment, func(r rune) bool {
		return r == '-' || r == '_' || r == '+' || r == '.' || unicode.IsSpace(r)
	})
	if len(words) == 0 {
		return strings.ToLower(u.Hostname())
	}
	for i, w := range words {
		runes := []rune(w)
		runes[0] = unicode.ToUpper(runes[0])
		words[i] = string(runes)
	}
	return strings.Join(words, " ")
}

func isFileExt(ext string) bool {
	if len(ext) < 2 || len(ext) > 5 {
		return false
	}
	for _, r := range ext[1:] {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	return true
}
