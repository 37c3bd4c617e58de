package model

import "time"

// Candidate is raw input offered for intake. Nothing about it has been
// validated yet; how it was obtained (multipart part, local file) is the
// caller's business.
type Candidate struct {
	Name         string
	DeclaredType string
	Bytes        []byte
}

// FileEntry is a validated image waiting in a batch. Entries are only ever
// created by the intake validator, so MimeType always carries an accepted
// image type. Payload is owned by the entry; jobs built from it take a
// read-only view and must not modify it.
type FileEntry struct {
	ID           string    `json:"id"`
	OriginalName string    `json:"originalName"`
	MimeType     string    `json:"mimeType"`
	Size         int64     `json:"size"`
	AddedAt      time.Time `json:"addedAt"`
	// Payload is omitted from JSON output because of the "-" struct tag.
	Payload      []byte    `json:"-"`
}
