package object

import (
	"bufio"
	"os"
	"strings"
	"sync"
)

// mimeTypes resolves a file extension to a Content-Type, grounded on
// fs/mime_types.cc: a small built-in table covers common extensions,
// optionally overlaid by loading one or more system mime.types files
// (the same well-known locations the original consulted).
type mimeTypes struct {
	mu  sync.RWMutex
	ext map[string]string
}

var defaultMIMETypes = &mimeTypes{ext: map[string]string{
	"txt":  "text/plain",
	"html": "text/html",
	"htm":  "text/html",
	"css":  "text/css",
	"js":   "application/javascript",
	"json": "application/json",
	"xml":  "application/xml",
	"csv":  "text/csv",
	"pdf":  "application/pdf",
	"zip":  "application/zip",
	"gz":   "application/gzip",
	"tar":  "application/x-tar",
	"png":  "image/png",
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"gif":  "image/gif",
	"svg":  "image/svg+xml",
	"mp3":  "audio/mpeg",
	"mp4":  "video/mp4",
	"wav":  "audio/wav",
	"go":   "text/x-go",
	"yaml": "application/x-yaml",
	"yml":  "application/x-yaml",
}}

// wellKnownMIMEFiles mirrors the original's MAP_FILES table of
// candidate system mime.types locations, tried in order.
var wellKnownMIMEFiles = []string{
	"/etc/httpd/mime.types",
	"/etc/apache2/mime.types",
	"/etc/mime.types",
}

// LoadSystemMIMETypes overlays the built-in extension table with any
// system mime.types file found at the well-known locations. Lines take
// the form "type/subtype ext1 ext2 ...", with "#" introducing a
// comment, exactly as the original's load_from_file parsed it.
func LoadSystemMIMETypes() {
	for _, path := range wellKnownMIMEFiles {
		if loadMIMEFile(path) {
			return
		}
	}
}

func loadMIMEFile(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	defaultMIMETypes.mu.Lock()
	defer defaultMIMETypes.mu.Unlock()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if i := strings.IndexByte(line, '#'); i == 0 {
			continue
		} else if i > 0 {
			line = line[:i]
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		for _, ext := range fields[1:] {
			defaultMIMETypes.ext[strings.ToLower(ext)] = fields[0]
		}
	}
	return true
}

// ContentTypeByExtension returns the MIME type registered for path's
// extension, or fallback if none is known — the Go equivalent of
// mime_types::get_type_by_extension.
func ContentTypeByExtension(path, fallback string) string {
	ext := path
	if i := strings.LastIndexByte(path, '.'); i >= 0 {
		ext = path[i+1:]
	} else {
		return fallback
	}
	ext = strings.ToLower(ext)

	defaultMIMETypes.mu.RLock()
	defer defaultMIMETypes.mu.RUnlock()

	if ct, ok := defaultMIMETypes.ext[ext]; ok {
		return ct
	}
	return fallback
}
