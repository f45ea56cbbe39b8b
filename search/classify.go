package search

import (
	"mime"
	"strings"
)

// FileType is the coarse type tag stored on every indexed file.
type FileType string

const (
	TypeDocument FileType = "document"
	TypeImage    FileType = "image"
	TypeVideo    FileType = "video"
	TypeAudio    FileType = "audio"
	TypeCode     FileType = "code"
	TypeArchive  FileType = "archive"
	TypeFolder   FileType = "folder"
	TypeFile     FileType = "file"
)

// ClassifyType determines the type tag from the file extension.
// The extension table wins; the mime database is only a fallback.
func ClassifyType(name string, isDir bool) FileType {
	if isDir {
		return TypeFolder
	}

	ext := extOf(name)
	if ext == "" {
		return TypeFile
	}
	if t, ok := classifyByExtension(ext); ok {
		return t
	}

	mimeType := mime.TypeByExtension("." + ext)
	if mimeType == "" {
		return TypeFile
	}
	major, minor, _ := strings.Cut(mimeType, "/")
	switch major {
	case "video":
		return TypeVideo
	case "audio":
		return TypeAudio
	case "image":
		return TypeImage
	case "text":
		return TypeDocument
	case "application":
		return classifyApplication(minor)
	}
	return TypeFile
}

// ParseFileType accepts a tag coming from the backend; unknown tags are
// classified from the name instead.
func ParseFileType(tag, name string, isDir bool) FileType {
	switch t := FileType(strings.ToLower(tag)); t {
	case TypeDocument, TypeImage, TypeVideo, TypeAudio, TypeCode, TypeArchive, TypeFolder, TypeFile:
		return t
	}
	return ClassifyType(name, isDir)
}

func classifyByExtension(ext string) (FileType, bool) {
	switch ext {
	case "mp4", "mkv", "avi", "mov", "wmv", "flv", "webm", "m4v":
		return TypeVideo, true
	case "mp3", "wav", "flac", "aac", "ogg", "wma", "m4a", "opus":
		return TypeAudio, true
	case "jpg", "jpeg", "png", "gif", "bmp", "svg", "webp", "tiff", "ico", "heic":
		return TypeImage, true
	case "pdf", "doc", "docx", "xls", "xlsx", "ppt", "pptx", "odt", "ods", "odp",
		"txt", "md", "rtf", "csv", "epub":
		return TypeDocument, true
	case "go", "py", "js", "ts", "jsx", "tsx", "html", "css", "scss", "sh", "bash",
		"c", "h", "cpp", "hpp", "java", "kt", "rs", "rb", "php", "vue", "sql",
		"json", "xml", "yaml", "yml", "toml", "ini", "cs", "swift":
		return TypeCode, true
	case "zip", "rar", "7z", "tar", "gz", "tgz", "bz2", "xz", "zst":
		return TypeArchive, true
	}
	return "", false
}

func classifyApplication(subtype string) FileType {
	switch {
	case subtype == "pdf" || strings.Contains(subtype, "document") || strings.Contains(subtype, "msword"):
		return TypeDocument
	case strings.Contains(subtype, "zip") || strings.Contains(subtype, "tar") || strings.Contains(subtype, "compressed"):
		return TypeArchive
	case strings.Contains(subtype, "json") || strings.Contains(subtype, "xml") ||
		strings.Contains(subtype, "javascript") || strings.Contains(subtype, "typescript"):
		return TypeCode
	}
	return TypeFile
}
