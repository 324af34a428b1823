// Package render turns stored user content into safe HTML and builds URL
// slugs for thread titles.
//
// Content is stored exactly as submitted. Rendering happens on read, so a
// change to the sanitizer policy applies to old posts too.
package render

import (
	"strconv"

	"github.com/gosimple/slug"
	"github.com/microcosm-cc/bluemonday"
	"github.com/russross/blackfriday/v2"
)

const extensions = blackfriday.CommonExtensions | blackfriday.HardLineBreak | blackfriday.Autolink

var policy = bluemonday.UGCPolicy()

// Markdown renders content to HTML and strips anything the UGC policy does
// not allow (scripts, event handlers, javascript: links).
func Markdown(content string) string {
	unsafe := blackfriday.Run([]byte(content), blackfriday.WithExtensions(extensions))
	return string(policy.SanitizeBytes(unsafe))
}

// ThreadSlug returns "<slug>.<id>", the path segment for a thread. Titles
// that slug to nothing still get a usable segment.
func ThreadSlug(title string, id int64) string {
	s := slug.Make(title)
	if s == "" {
		s = "thread"
	}
	return s + "." + strconv.FormatInt(id, 10)
}
