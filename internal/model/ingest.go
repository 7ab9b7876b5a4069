package model

// IngestEnvelope carries one raw access-log line with its origin.
// It is the contract between log sources and the line processor.
type IngestEnvelope struct {
	Source string
	LineNo int
	Line   string
	// Oversized marks a line longer than the source's maximum line size.
	// Line then holds only its leading bytes.
	Oversized bool
}
