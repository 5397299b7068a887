package loader

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/Ilse-L/LLM-Deobfuscation-Research/artifact"
	"github.com/Ilse-L/LLM-Deobfuscation-Research/vm"
	"github.com/Ilse-L/LLM-Deobfuscation-Research/vm/wire"
)

// BootstrapBuiltins names the builtins Install adds. Restored programs can
// see them, so the rename pass must treat them as reserved.
var BootstrapBuiltins = []string{
	"aes_cbc_decrypt",
	"b85decode",
	"exec",
	"exit",
	"pkcs7_unpad",
	"report",
	"unhex",
	"unmarshal",
	"zlib_decompress",
}

// InstallOptions configure the bootstrap builtins.
type InstallOptions struct {
	// Policy restricts which builtins a restored module may reference. Nil
	// allows everything.
	Policy *wire.CapabilityPolicy
	// Report receives decode failure messages. Nil means the VM's Stderr.
	Report io.Writer
}

// Install registers the bootstrap builtins on v.
func Install(v *vm.VM, opts InstallOptions) {
	v.RegisterFunc("unhex", 1, func(_ *vm.VM, args []vm.Value) (vm.Value, error) {
		s, err := stringArg("unhex", args, 0)
		if err != nil {
			return nil, err
		}
		b, err := hex.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("unhex: %v", err)
		}
		return vm.Bytes(b), nil
	})

	v.RegisterFunc("b85decode", 1, func(_ *vm.VM, args []vm.Value) (vm.Value, error) {
		s, err := stringArg("b85decode", args, 0)
		if err != nil {
			return nil, err
		}
		b, err := artifact.Base85Decode(s)
		if err != nil {
			return nil, err
		}
		return vm.Bytes(b), nil
	})

	v.RegisterFunc("aes_cbc_decrypt", 3, func(_ *vm.VM, args []vm.Value) (vm.Value, error) {
		var in [3][]byte
		for i := range in {
			b, err := bytesArg("aes_cbc_decrypt", args, i)
			if err != nil {
				return nil, err
			}
			in[i] = b
		}
		out, err := artifact.DecryptCBC(in[0], in[1], in[2])
		if err != nil {
			return nil, fmt.Errorf("aes_cbc_decrypt: %v", err)
		}
		return vm.Bytes(out), nil
	})

	v.RegisterFunc("pkcs7_unpad", 1, func(_ *vm.VM, args []vm.Value) (vm.Value, error) {
		b, err := bytesArg("pkcs7_unpad", args, 0)
		if err != nil {
			return nil, err
		}
		out, err := artifact.Unpad(b)
		if err != nil {
			return nil, fmt.Errorf("pkcs7_unpad: %v", err)
		}
		return vm.Bytes(out), nil
	})

	v.RegisterFunc("zlib_decompress", 1, func(_ *vm.VM, args []vm.Value) (vm.Value, error) {
		b, err := bytesArg("zlib_decompress", args, 0)
		if err != nil {
			return nil, err
		}
		out, err := artifact.Decompress(b)
		if err != nil {
			return nil, err
		}
		return vm.Bytes(out), nil
	})

	v.RegisterFunc("unmarshal", 1, func(_ *vm.VM, args []vm.Value) (vm.Value, error) {
		b, err := bytesArg("unmarshal", args, 0)
		if err != nil {
			return nil, err
		}
		m, err := wire.UnmarshalModule(b)
		if err != nil {
			return nil, fmt.Errorf("unmarshal: %v", err)
		}
		if err := opts.Policy.Check(m); err != nil {
			return nil, fmt.Errorf("unmarshal: %v", err)
		}
		return m, nil
	})

	v.RegisterFunc("exec", 1, func(machine *vm.VM, args []vm.Value) (vm.Value, error) {
		m, ok := args[0].(*vm.Module)
		if !ok {
			return nil, vm.Throwf("exec: expected module, got %s", vm.TypeName(args[0]))
		}
		globals := make(map[string]vm.Value, len(machine.Globals))
		for k, val := range machine.Globals {
			globals[k] = val
		}
		return machine.RunWithGlobals(machine.Context(), m, globals)
	})

	v.RegisterFunc("report", 1, func(machine *vm.VM, args []vm.Value) (vm.Value, error) {
		w := opts.Report
		if w == nil {
			w = machine.Stderr
		}
		if w == nil {
			w = os.Stderr
		}
		fmt.Fprintf(w, "loader: cannot restore program: %s\n", vm.ToString(args[0]))
		return nil, nil
	})

	v.RegisterFunc("exit", 1, func(_ *vm.VM, args []vm.Value) (vm.Value, error) {
		code, ok := args[0].(int64)
		if !ok {
			return nil, vm.Throwf("exit: expected int, got %s", vm.TypeName(args[0]))
		}
		return nil, &vm.ExitError{Code: int(code)}
	})
}

func stringArg(fn string, args []vm.Value, i int) (string, error) {
	s, ok := args[i].(string)
	if !ok {
		return "", vm.Throwf("%s: argument %d must be string, got %s", fn, i+1, vm.TypeName(args[i]))
	}
	return s, nil
}

func bytesArg(fn string, args []vm.Value, i int) ([]byte, error) {
	b, ok := args[i].(vm.Bytes)
	if !ok {
		return nil, vm.Throwf("%s: argument %d must be bytes, got %s", fn, i+1, vm.TypeName(args[i]))
	}
	return b, nil
}
