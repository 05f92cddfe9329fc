package textai

import "errors"

var (
	ErrNotConfigured     = errors.New("textai: api key is not configured")
	ErrEmptyText         = errors.New("textai: text is empty")
	ErrTextTooLong       = errors.New("textai: text exceeds maximum length")
	ErrBackend           = errors.New("textai: backend request failed")
	ErrMalformedResponse = errors.New("textai: malformed backend response")
)
