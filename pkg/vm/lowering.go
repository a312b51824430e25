package vm

import (
	"fmt"
	"sort"
	"strings"

	"its-hmny.dev/nand2tetris/pkg/asm"
)

// ----------------------------------------------------------------------------
// Vm Lowerer (CodeWriter)

// The Lowerer takes a 'vm.Program' (one or more translation units, keyed by VM file
// basename) and produces its 'asm.Program' counterpart, implementing the stack machine
// and the calling convention on top of the Hack architecture's flat memory model.
//
// Unlike 'asm.Lowerer' this isn't a simple 1-to-1 node conversion: pushing/popping a
// segment, folding an arithmetic op or performing a call each expand into several Asm
// instructions, so the Lowerer keeps a small amount of state across the whole program:
// a monotonic counter (used to generate collision-free labels for comparisons and
// function returns) and the name of the function currently being lowered (used to scope
// 'label'/'goto'/'if-goto' the way the VM spec requires).
type Lowerer struct {
	program Program
	counter uint   // Monotonic counter, used to generate unique RETURN_k/comparison labels
	curFunc string // Fully qualified name of the function currently being lowered
	curStat string // Static segment namespace (the enclosing VM file's basename, no extension)
}

// Initializes and returns to the caller a brand new 'Lowerer' struct.
func NewLowerer(p Program) Lowerer {
	return Lowerer{program: p, curFunc: "null"}
}

// Triggers the lowering process for every module in the program. Modules are visited in
// alphabetical order (by basename) purely for deterministic output across runs; the VM
// calling convention doesn't otherwise care in what order translation units are lowered.
func (l *Lowerer) Lowerer() (asm.Program, error) {
	if len(l.program) == 0 {
		return nil, fmt.Errorf("the given 'program' is empty")
	}

	names := make([]string, 0, len(l.program))
	for name := range l.program {
		names = append(names, name)
	}
	sort.Strings(names)

	converted := asm.Program{}
	for _, name := range names {
		l.curStat = strings.TrimSuffix(name, ".vm")
		l.curFunc = "null"

		for _, operation := range l.program[name] {
			lowered, err := l.HandleOperation(operation)
			if err != nil {
				return nil, fmt.Errorf("error lowering module '%s': %w", name, err)
			}
			converted = append(converted, lowered...)
		}
	}

	return converted, nil
}

// Emits the program-wide bootstrap sequence (sets SP to the stack's base address, then
// performs a full 'call Sys.init 0'). Shares the Lowerer's label counter with the rest of
// the program so labels generated here can never collide with ones generated later.
func (l *Lowerer) Bootstrap() (asm.Program, error) {
	setSP := asm.Program{
		asm.AInstruction{Location: "256"},
		asm.CInstruction{Dest: "D", Comp: "A"},
		asm.AInstruction{Location: "SP"},
		asm.CInstruction{Dest: "M", Comp: "D"},
	}

	l.curFunc = "null"
	call, err := l.HandleFuncCallOp(FuncCallOp{Name: "Sys.init", NArgs: 0})
	if err != nil {
		return nil, fmt.Errorf("error lowering bootstrap sequence: %w", err)
	}

	return append(setSP, call...), nil
}

// Dispatches a single 'vm.Operation' to its specialized handler, based on its dynamic type.
func (l *Lowerer) HandleOperation(op Operation) (asm.Program, error) {
	switch tOp := op.(type) {
	case MemoryOp:
		return l.HandleMemoryOp(tOp)
	case ArithmeticOp:
		return l.HandleArithmeticOp(tOp)
	case LabelDecl:
		return l.HandleLabelDecl(tOp)
	case GotoOp:
		return l.HandleGotoOp(tOp)
	case FuncDecl:
		return l.HandleFuncDecl(tOp)
	case FuncCallOp:
		return l.HandleFuncCallOp(tOp)
	case ReturnOp:
		return l.HandleReturnOp(tOp)
	default:
		return nil, fmt.Errorf("unrecognized operation '%T'", op)
	}
}

// ----------------------------------------------------------------------------
// Shared instruction sequences

// Appends the Asm instructions that write the D register at the stack's top and then
// increment the Stack Pointer. Used by every 'push'-shaped operation below.
func pushD() asm.Program {
	return asm.Program{
		asm.AInstruction{Location: "SP"},
		asm.CInstruction{Dest: "A", Comp: "M"},
		asm.CInstruction{Dest: "M", Comp: "D"},
		asm.AInstruction{Location: "SP"},
		asm.CInstruction{Dest: "M", Comp: "M+1"},
	}
}

// Decrements the Stack Pointer and loads the popped value into D, leaving A pointed at
// the now-former stack top. Used by every 'pop'-shaped operation and by unary/binary
// arithmetic, which only ever touch the top one or two stack slots in place.
func popToD() asm.Program {
	return asm.Program{
		asm.AInstruction{Location: "SP"},
		asm.CInstruction{Dest: "AM", Comp: "M-1"},
		asm.CInstruction{Dest: "D", Comp: "M"},
	}
}

// ----------------------------------------------------------------------------
// Memory Op

// Maps the indexed (pointer-based) segments to the Hack built-in register that holds
// their base address. 'pointer', 'temp' and 'static' resolve to fixed/symbolic addresses
// instead and are handled as special cases below.
var indexedSegmentBase = map[SegmentType]string{
	Local:    "LCL",
	Argument: "ARG",
	This:     "THIS",
	That:     "THAT",
}

func (l *Lowerer) HandleMemoryOp(op MemoryOp) (asm.Program, error) {
	if op.Segment == Pointer && op.Offset > 1 {
		return nil, fmt.Errorf("invalid 'pointer' offset, got %d", op.Offset)
	}
	if op.Segment == Temp && op.Offset > 7 {
		return nil, fmt.Errorf("invalid 'temp' offset, got %d", op.Offset)
	}
	if op.Operation == Pop && op.Segment == Constant {
		return nil, fmt.Errorf("'pop constant' is not a valid VM operation")
	}

	if op.Operation == Push {
		return l.handlePush(op)
	}
	return l.handlePop(op)
}

func (l *Lowerer) handlePush(op MemoryOp) (asm.Program, error) {
	switch op.Segment {
	case Constant:
		return append(asm.Program{
			asm.AInstruction{Location: fmt.Sprint(op.Offset)},
			asm.CInstruction{Dest: "D", Comp: "A"},
		}, pushD()...), nil

	case Local, Argument, This, That:
		base := indexedSegmentBase[op.Segment]
		load := asm.Program{
			asm.AInstruction{Location: fmt.Sprint(op.Offset)},
			asm.CInstruction{Dest: "D", Comp: "A"},
			asm.AInstruction{Location: base},
			asm.CInstruction{Dest: "A", Comp: "D+M"},
			asm.CInstruction{Dest: "D", Comp: "M"},
		}
		return append(load, pushD()...), nil

	case Pointer:
		reg := "THIS"
		if op.Offset == 1 {
			reg = "THAT"
		}
		return append(asm.Program{
			asm.AInstruction{Location: reg},
			asm.CInstruction{Dest: "D", Comp: "M"},
		}, pushD()...), nil

	case Temp:
		return append(asm.Program{
			asm.AInstruction{Location: fmt.Sprint(5 + op.Offset)},
			asm.CInstruction{Dest: "D", Comp: "M"},
		}, pushD()...), nil

	case Static:
		return append(asm.Program{
			asm.AInstruction{Location: fmt.Sprintf("%s.%d", l.curStat, op.Offset)},
			asm.CInstruction{Dest: "D", Comp: "M"},
		}, pushD()...), nil

	default:
		return nil, fmt.Errorf("unrecognized segment '%s'", op.Segment)
	}
}

func (l *Lowerer) handlePop(op MemoryOp) (asm.Program, error) {
	switch op.Segment {
	case Local, Argument, This, That:
		base := indexedSegmentBase[op.Segment]
		if op.Offset == 0 {
			// No scratch register needed, the destination is just '*base'.
			return append(popToD(), asm.Program{
				asm.AInstruction{Location: base},
				asm.CInstruction{Dest: "A", Comp: "M"},
				asm.CInstruction{Dest: "M", Comp: "D"},
			}...), nil
		}

		computeAddr := asm.Program{
			asm.AInstruction{Location: fmt.Sprint(op.Offset)},
			asm.CInstruction{Dest: "D", Comp: "A"},
			asm.AInstruction{Location: base},
			asm.CInstruction{Dest: "D", Comp: "D+M"},
			asm.AInstruction{Location: "R13"},
			asm.CInstruction{Dest: "M", Comp: "D"},
		}
		storeAtR13 := append(popToD(), asm.Program{
			asm.AInstruction{Location: "R13"},
			asm.CInstruction{Dest: "A", Comp: "M"},
			asm.CInstruction{Dest: "M", Comp: "D"},
		}...)
		return append(computeAddr, storeAtR13...), nil

	case Pointer:
		reg := "THIS"
		if op.Offset == 1 {
			reg = "THAT"
		}
		return append(popToD(), asm.Program{
			asm.AInstruction{Location: reg},
			asm.CInstruction{Dest: "M", Comp: "D"},
		}...), nil

	case Temp:
		return append(popToD(), asm.Program{
			asm.AInstruction{Location: fmt.Sprint(5 + op.Offset)},
			asm.CInstruction{Dest: "M", Comp: "D"},
		}...), nil

	case Static:
		return append(popToD(), asm.Program{
			asm.AInstruction{Location: fmt.Sprintf("%s.%d", l.curStat, op.Offset)},
			asm.CInstruction{Dest: "M", Comp: "D"},
		}...), nil

	default:
		return nil, fmt.Errorf("unrecognized segment '%s'", op.Segment)
	}
}

// ----------------------------------------------------------------------------
// Arithmetic Op

func (l *Lowerer) HandleArithmeticOp(op ArithmeticOp) (asm.Program, error) {
	switch op.Operation {
	case Add:
		return l.binaryFold("M+D"), nil
	case Sub:
		return l.binaryFold("M-D"), nil
	case And:
		return l.binaryFold("M&D"), nil
	case Or:
		return l.binaryFold("M|D"), nil
	case Neg:
		return l.unaryFold("-M"), nil
	case Not:
		return l.unaryFold("!M"), nil
	case Eq:
		return l.comparisonFold("JEQ"), nil
	case Gt:
		return l.comparisonFold("JGT"), nil
	case Lt:
		return l.comparisonFold("JLT"), nil
	default:
		return nil, fmt.Errorf("unrecognized arithmetic operation '%s'", op.Operation)
	}
}

// Binary ops (add/sub/and/or) pop the stack's top into D, then fold it against the new
// top ('*(SP-1)') in place, leaving the Stack Pointer one slot lower than before.
func (l *Lowerer) binaryFold(comp string) asm.Program {
	return append(popToD(), asm.Program{
		asm.AInstruction{Location: "SP"},
		asm.CInstruction{Dest: "A", Comp: "M-1"},
		asm.CInstruction{Dest: "M", Comp: comp},
	}...)
}

// Unary ops (neg/not) operate directly on '*(SP-1)' without moving the Stack Pointer.
func (l *Lowerer) unaryFold(comp string) asm.Program {
	return asm.Program{
		asm.AInstruction{Location: "SP"},
		asm.CInstruction{Dest: "A", Comp: "M-1"},
		asm.CInstruction{Dest: "M", Comp: comp},
	}
}

// Comparisons (eq/gt/lt) compute '*(SP-1) - *SP' and jump to a freshly generated label if the
// condition holds, where 'true' (-1) is written; otherwise 'false' (0) is written and the end is reached.
func (l *Lowerer) comparisonFold(jump string) asm.Program {
	trueLabel := fmt.Sprintf("__CMP_TRUE_%d", l.counter)
	endLabel := fmt.Sprintf("__CMP_END_%d", l.counter)
	l.counter++

	return asm.Program{
		asm.AInstruction{Location: "SP"},
		asm.CInstruction{Dest: "AM", Comp: "M-1"},
		asm.CInstruction{Dest: "D", Comp: "M"},
		asm.CInstruction{Dest: "A", Comp: "A-1"},
		asm.CInstruction{Dest: "D", Comp: "M-D"},
		asm.AInstruction{Location: trueLabel},
		asm.CInstruction{Comp: "D", Jump: jump},
		asm.AInstruction{Location: "SP"},
		asm.CInstruction{Dest: "A", Comp: "M-1"},
		asm.CInstruction{Dest: "M", Comp: "0"},
		asm.AInstruction{Location: endLabel},
		asm.CInstruction{Comp: "0", Jump: "JMP"},
		asm.LabelDecl{Name: trueLabel},
		asm.AInstruction{Location: "SP"},
		asm.CInstruction{Dest: "A", Comp: "M-1"},
		asm.CInstruction{Dest: "M", Comp: "-1"},
		asm.LabelDecl{Name: endLabel},
	}
}

// ----------------------------------------------------------------------------
// Branching Op

// Scopes a VM-level label/goto target to the function it's lowered inside, as required
// by the VM spec (two VM files can each declare a "LOOP" label without colliding).
func (l *Lowerer) scopedLabel(name string) string {
	return fmt.Sprintf("%s$%s", l.curFunc, name)
}

func (l *Lowerer) HandleLabelDecl(op LabelDecl) (asm.Program, error) {
	if op.Name == "" {
		return nil, fmt.Errorf("unable to lower an empty label declaration")
	}
	return asm.Program{asm.LabelDecl{Name: l.scopedLabel(op.Name)}}, nil
}

func (l *Lowerer) HandleGotoOp(op GotoOp) (asm.Program, error) {
	if op.Label == "" {
		return nil, fmt.Errorf("unable to lower a jump with an empty label")
	}

	target := l.scopedLabel(op.Label)

	if op.Jump == Unconditional {
		return asm.Program{
			asm.AInstruction{Location: target},
			asm.CInstruction{Comp: "0", Jump: "JMP"},
		}, nil
	}

	return append(popToD(), asm.Program{
		asm.AInstruction{Location: target},
		asm.CInstruction{Comp: "D", Jump: "JNE"},
	}...), nil
}

// ----------------------------------------------------------------------------
// Function Op

func (l *Lowerer) HandleFuncDecl(op FuncDecl) (asm.Program, error) {
	if op.Name == "" {
		return nil, fmt.Errorf("unable to lower a function declaration with an empty name")
	}

	l.curFunc = op.Name
	lowered := asm.Program{asm.LabelDecl{Name: op.Name}}

	// Initializes the function's locals to zero, one push per declared local. 'k' is a
	// compile-time constant so this is unrolled rather than emitting a runtime loop.
	zeroLocal := asm.Program{
		asm.AInstruction{Location: "SP"},
		asm.CInstruction{Dest: "A", Comp: "M"},
		asm.CInstruction{Dest: "M", Comp: "0"},
		asm.AInstruction{Location: "SP"},
		asm.CInstruction{Dest: "M", Comp: "M+1"},
	}
	for i := uint8(0); i < op.NLocal; i++ {
		lowered = append(lowered, zeroLocal...)
	}

	return lowered, nil
}

func (l *Lowerer) HandleFuncCallOp(op FuncCallOp) (asm.Program, error) {
	if op.Name == "" {
		return nil, fmt.Errorf("unable to lower a function call with an empty name")
	}

	returnLabel := fmt.Sprintf("RETURN_%d", l.counter)
	l.counter++

	lowered := asm.Program{
		// Push the return address, used by the callee's 'return' to resume execution here.
		asm.AInstruction{Location: returnLabel},
		asm.CInstruction{Dest: "D", Comp: "A"},
	}
	lowered = append(lowered, pushD()...)

	// Saves the caller's frame (LCL, ARG, THIS, THAT) on the stack.
	for _, reg := range []string{"LCL", "ARG", "THIS", "THAT"} {
		lowered = append(lowered, asm.AInstruction{Location: reg}, asm.CInstruction{Dest: "D", Comp: "M"})
		lowered = append(lowered, pushD()...)
	}

	lowered = append(lowered,
		// ARG = SP - n - 5 (rewinds past the n arguments and the 5 saved words above).
		asm.AInstruction{Location: "SP"},
		asm.CInstruction{Dest: "D", Comp: "M"},
		asm.AInstruction{Location: fmt.Sprint(int(op.NArgs) + 5)},
		asm.CInstruction{Dest: "D", Comp: "D-A"},
		asm.AInstruction{Location: "ARG"},
		asm.CInstruction{Dest: "M", Comp: "D"},
		// LCL = SP (the callee's locals start growing from here).
		asm.AInstruction{Location: "SP"},
		asm.CInstruction{Dest: "D", Comp: "M"},
		asm.AInstruction{Location: "LCL"},
		asm.CInstruction{Dest: "M", Comp: "D"},
		// Transfers control to the callee.
		asm.AInstruction{Location: op.Name},
		asm.CInstruction{Comp: "0", Jump: "JMP"},
		// The callee's 'return' jumps back here.
		asm.LabelDecl{Name: returnLabel},
	)

	return lowered, nil
}

func (l *Lowerer) HandleReturnOp(ReturnOp) (asm.Program, error) {
	frameMinus := func(n int) asm.Program {
		// Walks R13 (FRAME) down by one and loads D with the word at the new address.
		prog := asm.Program{}
		for i := 0; i < n; i++ {
			prog = append(prog, asm.AInstruction{Location: "R13"}, asm.CInstruction{Dest: "AM", Comp: "M-1"})
		}
		return append(prog, asm.CInstruction{Dest: "D", Comp: "M"})
	}

	lowered := asm.Program{
		// FRAME (R13) = LCL
		asm.AInstruction{Location: "LCL"},
		asm.CInstruction{Dest: "D", Comp: "M"},
		asm.AInstruction{Location: "R13"},
		asm.CInstruction{Dest: "M", Comp: "D"},
	}

	// RET (R14) = *(FRAME - 5), read without disturbing R13 so it can still be walked below.
	lowered = append(lowered,
		asm.AInstruction{Location: "R13"},
		asm.CInstruction{Dest: "D", Comp: "M"},
		asm.AInstruction{Location: "5"},
		asm.CInstruction{Dest: "A", Comp: "D-A"},
		asm.CInstruction{Dest: "D", Comp: "M"},
		asm.AInstruction{Location: "R14"},
		asm.CInstruction{Dest: "M", Comp: "D"},
	)

	lowered = append(lowered,
		// *ARG = *(SP - 1), the caller reads the callee's return value from here.
		asm.AInstruction{Location: "SP"},
		asm.CInstruction{Dest: "A", Comp: "M-1"},
		asm.CInstruction{Dest: "D", Comp: "M"},
		asm.AInstruction{Location: "ARG"},
		asm.CInstruction{Dest: "A", Comp: "M"},
		asm.CInstruction{Dest: "M", Comp: "D"},
		// SP = ARG + 1, collapses the callee's whole frame off the stack.
		asm.AInstruction{Location: "ARG"},
		asm.CInstruction{Dest: "D", Comp: "M+1"},
		asm.AInstruction{Location: "SP"},
		asm.CInstruction{Dest: "M", Comp: "D"},
	)

	// Restores THAT, THIS, ARG, LCL from FRAME-1 .. FRAME-4, walking R13 down each time.
	for _, reg := range []string{"THAT", "THIS", "ARG", "LCL"} {
		lowered = append(lowered, frameMinus(1)...)
		lowered = append(lowered, asm.AInstruction{Location: reg}, asm.CInstruction{Dest: "M", Comp: "D"})
	}

	lowered = append(lowered,
		// goto RET
		asm.AInstruction{Location: "R14"},
		asm.CInstruction{Dest: "A", Comp: "M"},
		asm.CInstruction{Comp: "0", Jump: "JMP"},
	)

	return lowered, nil
}
