package lipsync

import "fmt"

// ConversionError reports a failed transcode from the delivery encoding to a
// waveform: the tool was missing or failed, the input was malformed, or the
// output was unreadable or did not match the input duration.
type ConversionError struct {
	// RequestID identifies the workspace the conversion ran in.
	RequestID string
	Err       error
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("lipsync: conversion failed (request %s): %v", e.RequestID, e.Err)
}

func (e *ConversionError) Unwrap() error { return e.Err }

// ExtractionError reports a failed mouth-cue extraction: the tool failed or
// its output was not a valid timeline.
type ExtractionError struct {
	// RequestID identifies the workspace the extraction ran in.
	RequestID string
	Err       error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("lipsync: extraction failed (request %s): %v", e.RequestID, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }
