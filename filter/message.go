package filter

import "bytes"

// MessageOptions selects messages of a mail archive by header or body.
type MessageOptions struct {
	IncludeHeader []string
	IncludeBody   []string
	ExcludeHeader []string
	ExcludeBody   []string
}

// MessageFilter applies header and body patterns to raw messages.
type MessageFilter struct {
	header *Patterns
	body   *Patterns
	mode   int // 0 none, 1 include, -1 exclude
}

func NewMessageFilter(opts MessageOptions) (*MessageFilter, error) {
	includeActive := len(opts.IncludeHeader) > 0 || len(opts.IncludeBody) > 0
	excludeActive := len(opts.ExcludeHeader) > 0 || len(opts.ExcludeBody) > 0
	if includeActive && excludeActive {
		return nil, errMutuallyExclusive
	}
	header, err := CompilePatterns(opts.IncludeHeader, opts.ExcludeHeader)
	if err != nil {
		return nil, err
	}
	body, err := CompilePatterns(opts.IncludeBody, opts.ExcludeBody)
	if err != nil {
		return nil, err
	}
	mf := &MessageFilter{header: header, body: body}
	switch {
	case includeActive:
		mf.mode = 1
	case excludeActive:
		mf.mode = -1
	}
	return mf, nil
}

// Allows returns true if the raw message passes. In include mode a match in
// either the header or the body is enough.
func (f *MessageFilter) Allows(raw []byte) bool {
	if f == nil || f.mode == 0 {
		return true
	}
	header, body := SplitRawMessage(raw)
	h, b := string(header), string(body)
	if f.mode == 1 {
		return (len(f.header.include) > 0 && matchAny(f.header.include, h)) ||
			(len(f.body.include) > 0 && matchAny(f.body.include, b))
	}
	return !matchAny(f.header.exclude, h) && !matchAny(f.body.exclude, b)
}

// SplitRawMessage splits a raw email message into header and body parts.
func SplitRawMessage(raw []byte) (header, body []byte) {
	if len(raw) == 0 {
		return nil, nil
	}
	if idx := bytes.Index(raw, []byte("\r\n\r\n")); idx >= 0 {
		return raw[:idx], raw[idx+4:]
	}
	if idx := bytes.Index(raw, []byte("\n\n")); idx >= 0 {
		return raw[:idx], raw[idx+2:]
	}
	return raw, nil
}
