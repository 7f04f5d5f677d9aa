package editor

// Range represents a range in a text document.
type Range struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

// Position is a zero-based line and character offset.
type Position struct {
	Line      int `json:"line"`
	Character int `json:"character"`
}

// Diagnostic severities, as reported by the editor's language services.
const (
	SeverityError       = 1
	SeverityWarning     = 2
	SeverityInformation = 3
	SeverityHint        = 4
)

// Diagnostic represents a code diagnostic.
type Diagnostic struct {
	Range    Range  `json:"range"`
	Severity int    `json:"severity"`
	Code     string `json:"code,omitempty"`
	Source   string `json:"source,omitempty"`
	Message  string `json:"message"`
}

// FileDiagnostics groups the diagnostics of one file.
type FileDiagnostics struct {
	Path        string       `json:"path"`
	Diagnostics []Diagnostic `json:"diagnostics"`
}

// Outcome is the reviewer's answer to a diff.
type Outcome string

const (
	OutcomeSaved    Outcome = "saved"
	OutcomeRejected Outcome = "rejected"
)

// DiffRequest asks the editor to show a proposed change for review.
type DiffRequest struct {
	Label string `json:"label"`
	Path  string `json:"path"`
	Old   string `json:"old"`
	New   string `json:"new"`
	// Patch is a textual patch of Old to New for editors without a diff view.
	Patch string `json:"patch,omitempty"`
}

// DiffResult is the editor's response to a DiffRequest.
type DiffResult struct {
	Outcome Outcome `json:"outcome"`
	// Content is the saved text when the reviewer edited it before saving.
	Content string `json:"content,omitempty"`
}

type openFilesResponse struct {
	Files []string `json:"files"`
}

type diagnosticsResponse struct {
	Files []FileDiagnostics `json:"files"`
}
