// Package sitepath decides which extracted links are fetchable in-site resources
// and resolves them to canonical site paths.
package sitepath

import (
	"fmt"
	"slices"
	"strings"

	"github.com/Sriram-PR/site-mirror/pkg/utils"
)

// DefaultVersionSuffix is the percent-encoded query string the font-awesome stylesheet appends to its font links.
const DefaultVersionSuffix = "%3Fv=3.2.1"

// Default content classes. Policies take copies, so these are never mutated through a Policy.
var (
	DefaultTextExtensions   = []string{".html", ".css", ".js"}
	DefaultBinaryExtensions = []string{".jpg", ".ico", ".eot", ".woff", ".ttf", ".svg"}
)

// Policy holds the extension allow-lists and the asset-versioning suffix used to classify links.
type Policy struct {
	TextExtensions   []string
	BinaryExtensions []string
	VersionSuffix    string
}

// DefaultPolicy returns the policy for the default content classes.
func DefaultPolicy() Policy {
	return Policy{
		TextExtensions:   slices.Clone(DefaultTextExtensions),
		BinaryExtensions: slices.Clone(DefaultBinaryExtensions),
		VersionSuffix:    DefaultVersionSuffix,
	}
}

// extension returns the substring from the last '.' on, or "" when there is none.
func extension(p string) string {
	idx := strings.LastIndexByte(p, '.')
	if idx < 0 {
		return ""
	}
	return p[idx:]
}

// IsEligibleLink reports whether a candidate link names a same-site resource worth fetching.
func (p Policy) IsEligibleLink(candidate string) bool {
	if strings.Contains(candidate, "//") || strings.Contains(candidate, " ") {
		return false
	}
	if !strings.Contains(candidate, ".") || strings.HasSuffix(candidate, ".") {
		return false
	}
	if p.VersionSuffix != "" && strings.HasSuffix(candidate, p.VersionSuffix) {
		return true
	}
	ext := extension(candidate)
	return slices.Contains(p.TextExtensions, ext) || slices.Contains(p.BinaryExtensions, ext)
}

// CanParseAsText reports whether the resource at path is text to be scanned for links.
func (p Policy) CanParseAsText(path string) bool {
	ext := extension(path)
	return ext != "" && slices.Contains(p.TextExtensions, ext)
}

// StripVersionSuffix removes every occurrence of the asset-versioning suffix from s.
func (p Policy) StripVersionSuffix(s string) string {
	if p.VersionSuffix == "" {
		return s
	}
	return strings.ReplaceAll(s, p.VersionSuffix, "")
}

// ToAbsolutePath resolves relativePath, found in the document at basePath, to a canonical site path.
//
// Root-relative links (leading '/') are returned verbatim. A document at the site root has no
// directory to resolve against, so its links are kept as written with only "." and interior ".."
// segments collapsed; this branch never fails. Otherwise the link is joined onto the directory of
// basePath and a ".." with no directory left to consume fails with ErrOutOfRange.
func ToAbsolutePath(basePath, relativePath string) (string, error) {
	if strings.HasPrefix(relativePath, "/") {
		return relativePath, nil
	}

	relParts := strings.Split(relativePath, "/")
	plain := !slices.Contains(relParts, ".") && !slices.Contains(relParts, "..")

	if !strings.Contains(basePath, "/") {
		if plain {
			return relativePath, nil
		}
		resolved, _ := collapse(nil, relParts, true)
		return strings.Join(resolved, "/"), nil
	}

	baseParts := strings.Split(basePath, "/")
	dir := baseParts[:len(baseParts)-1]
	if plain {
		return strings.Join(dir, "/") + "/" + relativePath, nil
	}

	resolved, ok := collapse(dir, relParts, false)
	if !ok {
		return "", fmt.Errorf("%w: '%s' from '%s': %w", utils.ErrPathResolution, relativePath, basePath, utils.ErrOutOfRange)
	}
	return strings.Join(resolved, "/"), nil
}

// collapse appends parts to dir, dropping "." and letting each ".." consume one segment.
// With keepUnmatched a ".." that has nothing to consume is kept; otherwise ok is false.
func collapse(dir, parts []string, keepUnmatched bool) (resolved []string, ok bool) {
	resolved = slices.Clone(dir)
	for _, part := range parts {
		switch part {
		case ".":
		case "..":
			if len(resolved) == 0 || resolved[len(resolved)-1] == ".." {
				if !keepUnmatched {
					return nil, false
				}
				resolved = append(resolved, "..")
				continue
			}
			resolved = resolved[:len(resolved)-1]
		default:
			resolved = append(resolved, part)
		}
	}
	return resolved, true
}
