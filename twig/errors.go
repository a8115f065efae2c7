package twig

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidTransition = errors.New("invalid twig state transition")
	ErrPrunedData        = errors.New("twig data has been pruned")
	ErrEntryNotFound     = errors.New("entry not found")
	ErrEntryInactive     = errors.New("entry is not active")
	ErrCorrupt           = errors.New("corrupt twig record")
)

// TwigError attaches the twig a failure happened in.
type TwigError struct {
	TwigID uint64
	Msg    string
	Err    error
}

func twigErrf(id uint64, err error, format string, args ...any) error {
	return &TwigError{id, fmt.Sprintf(format, args...), err}
}

func (e *TwigError) Unwrap() error {
	return e.Err
}

func (e *TwigError) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("twig %d: %v", e.TwigID, e.Err)
	}
	if e.Err == nil {
		return fmt.Sprintf("twig %d: %s", e.TwigID, e.Msg)
	}
	return fmt.Sprintf("twig %d: %s: %v", e.TwigID, e.Msg, e.Err)
}
