package worker

import (
	"bytes"
	"crypto/sha256"
	"embed"
	"encoding/hex"
	"fmt"
	"sort"
	"text/template"
)

//go:embed scaffolds
var scaffoldFS embed.FS

var scaffoldTemplates = template.Must(template.ParseFS(scaffoldFS,
	"scaffolds/python/*",
	"scaffolds/nodejs/*",
	"scaffolds/go/*",
	"scaffolds/common/*",
	"scaffolds/static/*",
))

// scaffoldFile maps a rendered path to the template that produces it.
type scaffoldFile struct {
	Path     string
	Template string
}

// Template names are base names, so each set uses distinct file names.
var scaffoldSets = map[string][]scaffoldFile{
	"python": {
		{"app/__init__.py", ""},
		{"app/main.py", "main.py.tmpl"},
		{"requirements.txt", "requirements.txt.tmpl"},
		{"Dockerfile", "Dockerfile.python"},
	},
	"nodejs": {
		{"src/index.js", "index.js.tmpl"},
		{"package.json", "package.json.tmpl"},
		{"Dockerfile", "Dockerfile.nodejs"},
	},
	"go": {
		{"main.go", "main.go.tmpl"},
		{"go.mod", "go.mod.tmpl"},
		{"Dockerfile", "Dockerfile.golang"},
	},
	"common": {
		{"README.md", "README.md.tmpl"},
		{".gitignore", "gitignore.tmpl"},
		{".github/workflows/ci.yml", "ci.yml.tmpl"},
	},
	"static": {
		{"index.html", "index.html.tmpl"},
		{"styles.css", "styles.css.tmpl"},
		{"nginx.conf", "nginx.conf.tmpl"},
	},
}

// scaffoldData is the template context.
type scaffoldData struct {
	ServiceName string
	Description string
	Language    string
	Database    string
	Environment string
	Module      string
}

// render produces the files of the named sets, keyed by path.
func render(data scaffoldData, sets ...string) (map[string]string, error) {
	files := make(map[string]string)
	for _, set := range sets {
		entries, ok := scaffoldSets[set]
		if !ok {
			return nil, fmt.Errorf("no scaffold for %q", set)
		}
		for _, f := range entries {
			if f.Template == "" {
				files[f.Path] = ""
				continue
			}
			var buf bytes.Buffer
			if err := scaffoldTemplates.ExecuteTemplate(&buf, f.Template, data); err != nil {
				return nil, fmt.Errorf("rendering %s: %w", f.Path, err)
			}
			files[f.Path] = buf.String()
		}
	}
	return files, nil
}

// sortedPaths returns the file paths in a stable order.
func sortedPaths(files map[string]string) []string {
	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// digest fingerprints a file set so repeated runs can be compared.
func digest(files map[string]string) string {
	h := sha256.New()
	for _, p := range sortedPaths(files) {
		h.Write([]byte(p))
		h.Write([]byte{0})
		h.Write([]byte(files[p]))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
