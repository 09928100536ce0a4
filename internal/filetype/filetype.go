// Package filetype classifies shared files by extension for presentation
// grouping and flags names that deserve a download warning.
package filetype

import (
	"fmt"
	"path"
	"strings"
)

// Info describes a class of files.
type Info struct {
	Key         string `json:"key"`
	Category    string `json:"category"`
	CanPreview  bool   `json:"canPreview"`
	IsTextBased bool   `json:"isTextBased"`
	MaxSizeMB   int    `json:"maxSizeMB,omitempty"`
	Warning     string `json:"warning,omitempty"`
}

type class struct {
	info       Info
	extensions []string
}

// classes are matched in order; the first class listing an extension wins.
var classes = []class{
	{Info{Key: "document", Category: "Document", CanPreview: true, MaxSizeMB: 50},
		[]string{".pdf", ".doc", ".docx", ".odt", ".rtf"}},
	{Info{Key: "spreadsheet", Category: "Spreadsheet", CanPreview: true, IsTextBased: true, MaxSizeMB: 20},
		[]string{".xls", ".xlsx", ".ods", ".csv"}},
	{Info{Key: "presentation", Category: "Presentation", MaxSizeMB: 100},
		[]string{".ppt", ".pptx", ".odp"}},
	{Info{Key: "image", Category: "Image", CanPreview: true, MaxSizeMB: 50},
		[]string{".jpg", ".jpeg", ".png", ".gif", ".bmp", ".webp", ".svg", ".ico", ".tiff", ".tif"}},
	{Info{Key: "designImage", Category: "Design", MaxSizeMB: 200},
		[]string{".psd", ".ai", ".sketch", ".fig", ".xd", ".indd"}},
	{Info{Key: "audio", Category: "Audio", MaxSizeMB: 100},
		[]string{".mp3", ".wav", ".flac", ".aac", ".ogg", ".wma", ".m4a"}},
	{Info{Key: "video", Category: "Video", MaxSizeMB: 500},
		[]string{".mp4", ".avi", ".mov", ".wmv", ".flv", ".mkv", ".webm", ".m4v"}},
	{Info{Key: "archive", Category: "Archive", MaxSizeMB: 200},
		[]string{".zip", ".rar", ".7z", ".tar", ".gz", ".bz2", ".xz"}},
	{Info{Key: "code", Category: "Code", CanPreview: true, IsTextBased: true, MaxSizeMB: 10},
		[]string{
			".js", ".ts", ".jsx", ".tsx", ".vue", ".svelte",
			".py", ".java", ".cpp", ".c", ".h", ".cs", ".go", ".rs",
			".php", ".rb", ".swift", ".kt", ".scala", ".r", ".m",
			".html", ".css", ".scss", ".sass", ".less",
			".sql", ".sh", ".bat", ".ps1", ".lisp",
		}},
	{Info{Key: "text", Category: "Text", CanPreview: true, IsTextBased: true, MaxSizeMB: 5},
		[]string{".txt", ".md", ".readme", ".log", ".ini", ".cfg", ".conf", ".yaml", ".yml", ".toml"}},
	{Info{Key: "data", Category: "Data", CanPreview: true, IsTextBased: true, MaxSizeMB: 50},
		[]string{".json", ".xml", ".tsv", ".db", ".sqlite"}},
	{Info{Key: "certificate", Category: "Certificate", MaxSizeMB: 1},
		[]string{".pem", ".crt", ".key", ".p12", ".pfx", ".cer"}},
	{Info{Key: "system", Category: "System", MaxSizeMB: 50,
		Warning: "System files may contain malicious code; download with care"},
		[]string{".dll", ".so", ".dylib", ".sys"}},
	{Info{Key: "executable", Category: "Executable", MaxSizeMB: 500,
		Warning: "Executables may contain viruses or malicious code; confirm the source before downloading"},
		[]string{".exe", ".msi", ".dmg", ".pkg", ".deb", ".rpm", ".appimage"}},
	{Info{Key: "ebook", Category: "E-book", MaxSizeMB: 50},
		[]string{".epub", ".mobi", ".azw", ".azw3", ".fb2"}},
	{Info{Key: "game", Category: "Game", MaxSizeMB: 1000},
		[]string{".rom", ".iso", ".bin", ".cue"}},
	{Info{Key: "web", Category: "Web font", MaxSizeMB: 5},
		[]string{".woff", ".woff2", ".ttf", ".otf", ".eot"}},
}

// Other is returned for unknown extensions.
var Other = Info{Key: "other", Category: "Other"}

var byExtension = func() map[string]Info {
	m := make(map[string]Info)
	for _, c := range classes {
		for _, ext := range c.extensions {
			if _, dup := m[ext]; !dup {
				m[ext] = c.info
			}
		}
	}
	return m
}()

// Extension returns the lower-cased extension of name including the dot,
// or "" if it has none.
func Extension(name string) string {
	return strings.ToLower(path.Ext(name))
}

// Classify returns the class of a file name.
func Classify(name string) Info {
	if info, ok := byExtension[Extension(name)]; ok {
		return info
	}
	return Other
}

// dangerousExtensions are flagged regardless of class.
var dangerousExtensions = map[string]bool{
	".exe": true, ".bat": true, ".cmd": true, ".com": true, ".pif": true,
	".scr": true, ".vbs": true, ".js": true, ".jar": true, ".app": true,
	".deb": true, ".pkg": true, ".rpm": true, ".dmg": true, ".iso": true,
	".msi": true,
}

// allowedHidden are dot-files that are common enough not to warn about.
var allowedHidden = map[string]bool{".env": true, ".gitignore": true}

// Check is the result of a name check.
type Check struct {
	Safe   bool
	Issues []string
}

// Warning joins the issues into one line.
func (c Check) Warning() string {
	return strings.Join(c.Issues, "; ")
}

// CheckName inspects a file name for extensions that may carry malicious
// code, reserved characters, and hidden files.
func CheckName(name string) Check {
	var issues []string

	if ext := Extension(name); dangerousExtensions[ext] {
		issues = append(issues, fmt.Sprintf("%s files may contain malicious code; confirm the source", ext))
	}
	if strings.ContainsAny(name, `<>:"|?*`) {
		issues = append(issues, "file name contains reserved characters")
	}
	if strings.HasPrefix(name, ".") && !allowedHidden[name] {
		issues = append(issues, "hidden file")
	}

	return Check{Safe: len(issues) == 0, Issues: issues}
}
