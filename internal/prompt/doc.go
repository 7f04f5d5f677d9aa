// Package prompt assembles the system prompt sent to the model each turn.
//
// The base prompt is built once per session from layered instruction files:
// built-in defaults, a global directory, ancestors of the working directory
// and the working directory itself. Each layer contributes the first
// instruction candidate found there. Documentation-only candidates are
// wrapped as untrusted reference material.
//
// Every turn the base is re-rendered with the current time spliced under the
// environment heading of the defaults and any dynamic sections appended. The
// token count of that rendered text drives history truncation, so the
// accounting always matches what is actually sent.
package prompt
