package vm_test

import (
	"strings"
	"testing"

	"its-hmny.dev/nand2tetris/pkg/asm"
	"its-hmny.dev/nand2tetris/pkg/vm"
)

// labelNames collects the names declared by every 'asm.LabelDecl' in the given program,
// used by the tests below to check that labels generated across multiple lowerings never collide.
func labelNames(prog asm.Program) []string {
	names := []string{}
	for _, inst := range prog {
		if decl, ok := inst.(asm.LabelDecl); ok {
			names = append(names, decl.Name)
		}
	}
	return names
}

func TestLowererMemoryOp(t *testing.T) {
	lowerer := vm.NewLowerer(vm.Program{})

	test := func(op vm.MemoryOp, wantLen int, fail bool) {
		prog, err := lowerer.HandleMemoryOp(op)
		if fail && err == nil {
			t.Fatalf("expected an error, got none")
		}
		if !fail && err != nil {
			t.Fatalf("unexpected error: %s", err)
		}
		if !fail && len(prog) != wantLen {
			t.Fatalf("expected %d instructions, got %d", wantLen, len(prog))
		}
	}

	t.Run("Valid data", func(t *testing.T) {
		test(vm.MemoryOp{Operation: vm.Push, Segment: vm.Constant, Offset: 5}, 7, false)
		test(vm.MemoryOp{Operation: vm.Push, Segment: vm.Local, Offset: 3}, 10, false)
		test(vm.MemoryOp{Operation: vm.Pop, Segment: vm.Argument, Offset: 0}, 6, false)
		test(vm.MemoryOp{Operation: vm.Pop, Segment: vm.Argument, Offset: 2}, 12, false)
		test(vm.MemoryOp{Operation: vm.Push, Segment: vm.Pointer, Offset: 0}, 7, false)
		test(vm.MemoryOp{Operation: vm.Push, Segment: vm.Pointer, Offset: 1}, 7, false)
		test(vm.MemoryOp{Operation: vm.Push, Segment: vm.Temp, Offset: 7}, 7, false)
		test(vm.MemoryOp{Operation: vm.Pop, Segment: vm.Static, Offset: 1}, 5, false)
	})

	t.Run("Invalid data", func(t *testing.T) {
		test(vm.MemoryOp{Operation: vm.Push, Segment: vm.Temp, Offset: 8}, 0, true)  // out of 'temp' range
		test(vm.MemoryOp{Operation: vm.Pop, Segment: vm.Pointer, Offset: 2}, 0, true) // out of 'pointer' range
		test(vm.MemoryOp{Operation: vm.Pop, Segment: vm.Constant, Offset: 0}, 0, true) // 'pop constant' is illegal
	})
}

func TestLowererArithmeticOp(t *testing.T) {
	lowerer := vm.NewLowerer(vm.Program{})

	t.Run("binary ops fold in place", func(t *testing.T) {
		prog, err := lowerer.HandleArithmeticOp(vm.ArithmeticOp{Operation: vm.Add})
		if err != nil {
			t.Fatalf("unexpected error: %s", err)
		}
		if len(prog) == 0 {
			t.Fatalf("expected a non-empty instruction sequence")
		}
	})

	t.Run("unary ops fold in place", func(t *testing.T) {
		prog, err := lowerer.HandleArithmeticOp(vm.ArithmeticOp{Operation: vm.Neg})
		if err != nil {
			t.Fatalf("unexpected error: %s", err)
		}
		if len(prog) == 0 {
			t.Fatalf("expected a non-empty instruction sequence")
		}
	})

	t.Run("comparisons generate unique labels across calls", func(t *testing.T) {
		first, err := lowerer.HandleArithmeticOp(vm.ArithmeticOp{Operation: vm.Eq})
		if err != nil {
			t.Fatalf("unexpected error: %s", err)
		}
		second, err := lowerer.HandleArithmeticOp(vm.ArithmeticOp{Operation: vm.Eq})
		if err != nil {
			t.Fatalf("unexpected error: %s", err)
		}

		firstLabels, secondLabels := labelNames(first), labelNames(second)
		if len(firstLabels) == 0 || len(secondLabels) == 0 {
			t.Fatalf("expected each comparison to declare at least one label")
		}
		for _, a := range firstLabels {
			for _, b := range secondLabels {
				if a == b {
					t.Fatalf("labels collided across separate comparisons: %q reused", a)
				}
			}
		}
	})

	t.Run("unrecognized operation", func(t *testing.T) {
		if _, err := lowerer.HandleArithmeticOp(vm.ArithmeticOp{Operation: vm.ArithOpType("bogus")}); err == nil {
			t.Fatalf("expected an error for an unrecognized arithmetic operation")
		}
	})
}

func TestLowererFuncCallAndReturn(t *testing.T) {
	lowerer := vm.NewLowerer(vm.Program{})

	call, err := lowerer.HandleFuncCallOp(vm.FuncCallOp{Name: "Main.main", NArgs: 2})
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	// The call sequence pushes the return address and the 4 saved frame registers, then
	// repoints ARG/LCL and jumps: 5 pushes worth of instructions plus the jump/label.
	if len(call) < 20 {
		t.Fatalf("expected a substantial call sequence, got %d instructions", len(call))
	}
	if names := labelNames(call); len(names) != 1 || !strings.HasPrefix(names[0], "RETURN_") {
		t.Fatalf("expected exactly one RETURN_n label, got %v", names)
	}

	ret, err := lowerer.HandleReturnOp(vm.ReturnOp{})
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if len(ret) == 0 {
		t.Fatalf("expected a non-empty return sequence")
	}

	t.Run("two calls never reuse a return label", func(t *testing.T) {
		second, err := lowerer.HandleFuncCallOp(vm.FuncCallOp{Name: "Main.main", NArgs: 0})
		if err != nil {
			t.Fatalf("unexpected error: %s", err)
		}
		if labelNames(call)[0] == labelNames(second)[0] {
			t.Fatalf("expected distinct RETURN_n labels across calls")
		}
	})

	t.Run("rejects an empty function name", func(t *testing.T) {
		if _, err := lowerer.HandleFuncCallOp(vm.FuncCallOp{Name: ""}); err == nil {
			t.Fatalf("expected an error for an empty function name")
		}
	})
}

func TestLowererFuncDecl(t *testing.T) {
	lowerer := vm.NewLowerer(vm.Program{})

	t.Run("zero locals emits only the label", func(t *testing.T) {
		prog, err := lowerer.HandleFuncDecl(vm.FuncDecl{Name: "Main.noop", NLocal: 0})
		if err != nil {
			t.Fatalf("unexpected error: %s", err)
		}
		if len(prog) != 1 {
			t.Fatalf("expected exactly 1 instruction (the label), got %d", len(prog))
		}
	})

	t.Run("locals are zero-initialized one push at a time", func(t *testing.T) {
		prog, err := lowerer.HandleFuncDecl(vm.FuncDecl{Name: "Main.withLocals", NLocal: 3})
		if err != nil {
			t.Fatalf("unexpected error: %s", err)
		}
		// 1 label + 3 locals * 5 instructions each to zero-init and bump SP.
		if len(prog) != 1+3*5 {
			t.Fatalf("expected %d instructions, got %d", 1+3*5, len(prog))
		}
	})

	t.Run("rejects an empty function name", func(t *testing.T) {
		if _, err := lowerer.HandleFuncDecl(vm.FuncDecl{Name: ""}); err == nil {
			t.Fatalf("expected an error for an empty function name")
		}
	})
}

func TestLowererBootstrap(t *testing.T) {
	lowerer := vm.NewLowerer(vm.Program{})

	prog, err := lowerer.Bootstrap()
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if len(prog) == 0 {
		t.Fatalf("expected a non-empty bootstrap sequence")
	}

	first, ok := prog[0].(asm.AInstruction)
	if !ok || first.Location != "256" {
		t.Fatalf("expected the bootstrap to start by loading the stack base (256), got %#v", prog[0])
	}
}

func TestLowererEmptyProgram(t *testing.T) {
	lowerer := vm.NewLowerer(vm.Program{})
	if _, err := lowerer.Lowerer(); err == nil {
		t.Fatalf("expected an error lowering an empty program")
	}
}
