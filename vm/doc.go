// Package vm implements the Ox virtual machine.
//
// This package contains:
//   - The dynamic value model (lists, dicts, bytes, functions)
//   - The compiled module format produced by the compiler
//   - Bytecode definitions, builder and reader
//   - A frame-based interpreter with try/catch unwinding
//   - The core builtin functions
package vm
