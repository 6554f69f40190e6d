package backend

import "errors"

var (
	ErrNoteNotFound    = errors.New("note not found")
	ErrPinLimitReached = errors.New("you can only pin up to 5 notes")
	ErrNotDraft        = errors.New("only drafts can be auto-saved")
	ErrNotSaved        = errors.New("only saved notes can be saved in place")
	ErrInvalidSetting  = errors.New("invalid setting")
)
