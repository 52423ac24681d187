package inbound

import (
	"encoding/json"
	"regexp"
)

// RemoteErrorKind discriminates a parsed RemoteError
type RemoteErrorKind int

const (
	// RemoteErrorGeneric carries only the raw message
	RemoteErrorGeneric RemoteErrorKind = iota
	// RemoteErrorValidation carries structured issues
	RemoteErrorValidation
)

// Issue is one structured sub-error returned by the API
type Issue struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// RemoteError is either a generic error or a list of validation issues
type RemoteError struct {
	Kind   RemoteErrorKind
	Raw    string
	Issues []Issue
}

var (
	issueArrayRe      = regexp.MustCompile(`\[.*\]`)
	requiresPrepRe    = regexp.MustCompile(`ERROR: (.+?) requires prepOwner`)
	notRequiresPrepRe = regexp.MustCompile(`ERROR: (.+?) does not require prepOwner`)
)

// ParseRemoteError extracts the first bracketed JSON array of issues from an
// error message. Anything that does not parse is Generic.
func ParseRemoteError(message string) RemoteError {
	generic := RemoteError{Kind: RemoteErrorGeneric, Raw: message}

	match := issueArrayRe.FindString(message)
	if match == "" {
		return generic
	}

	var issues []Issue
	if err := json.Unmarshal([]byte(match), &issues); err != nil {
		return generic
	}
	return RemoteError{Kind: RemoteErrorValidation, Raw: message, Issues: issues}
}

// PrepOwnerFix is a prepOwner value the API told us a SKU must use
type PrepOwnerFix struct {
	SKU       string
	PrepOwner Owner
}

// PrepOwnerFixes returns the corrections implied by prepOwner mismatch issues.
// Issues of any other shape contribute nothing.
func (e RemoteError) PrepOwnerFixes() []PrepOwnerFix {
	if e.Kind != RemoteErrorValidation {
		return nil
	}
	var fixes []PrepOwnerFix
	for _, issue := range e.Issues {
		if m := requiresPrepRe.FindStringSubmatch(issue.Message); m != nil {
			fixes = append(fixes, PrepOwnerFix{SKU: m[1], PrepOwner: OwnerSeller})
			continue
		}
		if m := notRequiresPrepRe.FindStringSubmatch(issue.Message); m != nil {
			fixes = append(fixes, PrepOwnerFix{SKU: m[1], PrepOwner: OwnerNone})
		}
	}
	return fixes
}

// ApplyPrepOwnerFixes rewrites matching items in place and reports whether any
// item was addressed by a fix
func ApplyPrepOwnerFixes(items []LineItem, fixes []PrepOwnerFix) bool {
	corrected := false
	for _, fix := range fixes {
		for i := range items {
			if items[i].SKU == fix.SKU {
				items[i].PrepOwner = fix.PrepOwner
				corrected = true
			}
		}
	}
	return corrected
}
