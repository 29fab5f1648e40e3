package models

import "github.com/clinops/intake-tracker/internal/util/sanitize"

// FileRef is a local document selected for submission.
type FileRef struct {
	Name string // Base filename as shown to the user and sent to the service
	Path string // Local path, empty for in-memory references
	Size int64

	// DetectedMIME is filled by content sniffing when it is enabled.
	DetectedMIME string
}

// SubmissionMeta is the context sent alongside an upload.
type SubmissionMeta struct {
	PatientID    string
	DocumentType string
	SubmittedBy  string
	Notes        string
}

// Fields flattens the metadata into multipart form fields, skipping empty
// values. Values are sanitized first.
func (m SubmissionMeta) Fields() map[string]string {
	m = SubmissionMeta{
		PatientID:    sanitize.Field(m.PatientID),
		DocumentType: sanitize.Field(m.DocumentType),
		SubmittedBy:  sanitize.Field(m.SubmittedBy),
		Notes:        sanitize.Text(m.Notes),
	}
	fields := make(map[string]string, 4)
	if m.PatientID != "" {
		fields["patientId"] = m.PatientID
	}
	if m.DocumentType != "" {
		fields["documentType"] = m.DocumentType
	}
	if m.SubmittedBy != "" {
		fields["submittedBy"] = m.SubmittedBy
	}
	if m.Notes != "" {
		fields["notes"] = m.Notes
	}
	return fields
}

// SubmissionResponse is the normalized reply of the upload endpoint.
// The service answers with several shapes; api.ParseSubmissionResponse folds them into this.
type SubmissionResponse struct {
	JobID           string
	UploadJobID     string
	ProcessingJobID string
	BatchID         string

	PayloadCount int
	IgnoredCount int
	Ignored      []Item

	Message  string
	Manifest []string
}

// IgnoredTotal is the number of files the service refused, whichever field reported it.
func (r SubmissionResponse) IgnoredTotal() int {
	if len(r.Ignored) > r.IgnoredCount {
		return len(r.Ignored)
	}
	return r.IgnoredCount
}

// HasJob reports whether any trackable job id came back.
func (r SubmissionResponse) HasJob() bool {
	return r.JobID != "" || r.UploadJobID != "" || r.ProcessingJobID != ""
}
