package hash

// ---------------------------------------------------------------------------
// Frozen tag bytes for the program hashing serialization format.
//
// IMPORTANT: These tags are FROZEN. Once assigned, a tag byte must never
// change meaning. Adding new tags is fine; changing existing ones breaks
// all previously recorded content hashes.
// ---------------------------------------------------------------------------

// HashVersion is the version prefix for the serialization format.
// Bumping this invalidates all existing content hashes.
const HashVersion byte = 1

// Node type tags. Each tag uniquely identifies a node kind in the
// serialized byte stream.
const (
	TagReservedZero byte = 0x00 // version prefix / reserved

	// Literal values
	TagIntLiteral    byte = 0x01
	TagFloatLiteral  byte = 0x02
	TagStringLiteral byte = 0x03
	TagBoolLiteral   byte = 0x04
	TagNilLiteral    byte = 0x05
	TagListLiteral   byte = 0x06
	TagDictLiteral   byte = 0x07

	// Name references
	TagVarRef     byte = 0x08 // index of first occurrence
	TagFuncRef    byte = 0x09 // top-level function, by name
	TagBuiltinRef byte = 0x0A // builtin, by name

	// Expressions
	TagIndex  byte = 0x10
	TagCall   byte = 0x11
	TagUnary  byte = 0x12
	TagBinary byte = 0x13

	// Statements / structure
	TagProgram  byte = 0x20
	TagFuncDecl byte = 0x21
	TagAssign   byte = 0x22
	TagIf       byte = 0x23
	TagWhile    byte = 0x24
	TagFor      byte = 0x25
	TagBreak    byte = 0x26
	TagContinue byte = 0x27
	TagReturn   byte = 0x28
	TagTry      byte = 0x29
	TagThrow    byte = 0x2A
	TagGlobal   byte = 0x2B
	TagExprStmt byte = 0x2C
)

// allTags lists every defined tag for uniqueness verification in tests.
var allTags = []byte{
	TagReservedZero,
	TagIntLiteral, TagFloatLiteral, TagStringLiteral, TagBoolLiteral,
	TagNilLiteral, TagListLiteral, TagDictLiteral,
	TagVarRef, TagFuncRef, TagBuiltinRef,
	TagIndex, TagCall, TagUnary, TagBinary,
	TagProgram, TagFuncDecl, TagAssign, TagIf, TagWhile, TagFor,
	TagBreak, TagContinue, TagReturn, TagTry, TagThrow, TagGlobal,
	TagExprStmt,
}
