package mpegts

import (
	"errors"
	"fmt"
)

// Code is a negative numeric failure code. Every structural validation
// failure has its own code; any of them aborts the whole pass.
type Code int

// Failure codes.
const (
	CodeInvalidPacketLength       Code = -1
	CodeInvalidSyncByte           Code = -2
	CodeTransportError            Code = -3
	CodeScrambled                 Code = -4
	CodeMalformedAdaptationField  Code = -5
	CodeTruncatedSection          Code = -6
	CodeShortSection              Code = -7
	CodeMalformedSectionLength    Code = -8
	CodeSectionTooLarge           Code = -9
	CodeMisalignedProgramEntry    Code = -10
	CodeMalformedPID              Code = -11
	CodeUnexpectedContinuation    Code = -12
	CodeMalformedProgramInfo      Code = -13
	CodeTruncatedDescriptor       Code = -14
	CodeMalformedDescriptorLength Code = -15
	CodeTruncatedPESHeader        Code = -16
	CodeTruncatedExtension        Code = -17
	CodeIncompletePacket          Code = -18
	CodeInvalidRange              Code = -19
	CodePoolClosed                Code = -20
)

var codeNames = map[Code]string{
	CodeInvalidPacketLength:       "invalid packet length",
	CodeInvalidSyncByte:           "invalid sync byte",
	CodeTransportError:            "transport error indicator set",
	CodeScrambled:                 "scrambled payload",
	CodeMalformedAdaptationField:  "malformed adaptation field",
	CodeTruncatedSection:          "truncated section",
	CodeShortSection:              "section header too short",
	CodeMalformedSectionLength:    "malformed section length",
	CodeSectionTooLarge:           "section too large",
	CodeMisalignedProgramEntry:    "misaligned program entry",
	CodeMalformedPID:              "malformed PID",
	CodeUnexpectedContinuation:    "unexpected section continuation",
	CodeMalformedProgramInfo:      "malformed program info length",
	CodeTruncatedDescriptor:       "truncated elementary stream descriptor",
	CodeMalformedDescriptorLength: "malformed descriptor length",
	CodeTruncatedPESHeader:        "truncated PES header",
	CodeTruncatedExtension:        "truncated PES header extension",
	CodeIncompletePacket:          "incomplete packet",
	CodeInvalidRange:              "range outside buffer",
	CodePoolClosed:                "pool closed",
}

func (c Code) String() string {
	if s, ok := codeNames[c]; ok {
		return s
	}
	return fmt.Sprintf("code %d", int(c))
}

// Error reports a failed pass. Offset is the byte offset of the offending
// packet within the buffer and PID its packet identifier, when known.
type Error struct {
	Code   Code
	Offset int
	PID    uint16
}

func (e *Error) Error() string {
	return fmt.Sprintf("mpegts: %s (code %d, offset %d, pid 0x%04X)", e.Code, int(e.Code), e.Offset, e.PID)
}

// Is reports whether target is an *Error with the same code, so that
// errors.Is(err, &Error{Code: CodeScrambled}) matches regardless of offset.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// CodeOf returns the failure code carried by err, or 0 when err is nil or
// does not wrap an *Error.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return 0
}
