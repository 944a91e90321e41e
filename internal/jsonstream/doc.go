// Package jsonstream validates the structure of JSON payloads delivered
// as ordered byte chunks, without building a parse tree.
//
// The validator tracks nesting depth, per-array element counts and total
// size while bytes arrive, so oversized or overly nested documents are
// rejected before any parsing work happens. Working memory during the
// scan is proportional to nesting depth, not document size. Once the
// validator reports completion, the accumulated bytes are parsed exactly
// once into a tagged-union Value.
//
// A Validator instance serves one request: chunks must be fed in order
// by a single caller, and the instance is not safe for concurrent use.
package jsonstream
