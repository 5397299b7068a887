// Command obfux protects Ox programs: it renames identifiers, flattens
// control flow and can wrap the result in an encrypted self-decoding
// loader.
package main

import "os"

func main() {
	os.Exit(execute(os.Args[1:]))
}
