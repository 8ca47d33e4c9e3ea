package verifier

import (
	"context"
	"strings"
	"testing"

	"github.com/dexguard/go-dexguard/classresolver"
	"github.com/dexguard/go-dexguard/dex"
	"github.com/dexguard/go-dexguard/failsink"
	"github.com/dexguard/go-dexguard/regtype"
	"github.com/dexguard/go-dexguard/verifierdeps"
)

func mustRegister(t *testing.T, r *classresolver.MemoryResolver, descriptor, super string) {
	t.Helper()
	if _, err := r.RegisterClass(descriptor, false, false, false, super, nil, 0); err != nil {
		t.Fatalf("registering %s: %v", descriptor, err)
	}
}

func mustBind(t *testing.T, r *classresolver.MemoryResolver, idx uint32, descriptor string) {
	t.Helper()
	if err := r.BindTypeIndex(idx, descriptor); err != nil {
		t.Fatalf("binding type index %d: %v", idx, err)
	}
}

// runVerifier drives a full Run and hands back the verifier so tests can
// inspect the working and stored register lines directly.
func runVerifier(t *testing.T, def *MethodDef, r classresolver.Resolver, deps verifierdeps.Recorder) (*MethodVerifier, *failsink.Collector) {
	t.Helper()
	if deps == nil {
		deps = verifierdeps.NewMemoryRecorder()
	}
	sink := failsink.NewCollector()
	mv, err := NewMethodVerifier(def, r, deps, sink, 4)
	if err != nil {
		t.Fatalf("NewMethodVerifier: %v", err)
	}
	if err := mv.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	return mv, sink
}

func TestSimpleAddLeavesIntegerInResultRegister(t *testing.T) {
	def := &MethodDef{
		AccessFlags:      classresolver.AccPublic | classresolver.AccStatic,
		ClassDescriptor:  "LMain;",
		NumRegisters:     2,
		InsSize:          1,
		ReturnDescriptor: "I",
		Code: dex.NewCursor([]dex.Instruction{
			{Op: dex.OpConst4, A: 0, H: 2},
			{Op: dex.OpAddInt2Addr, A: 0, B: 0},
			{Op: dex.OpReturn, A: 0},
		}),
		APILevel: 34,
	}
	mv, sink := runVerifier(t, def, classresolver.NewMemoryResolver(), nil)
	if got := sink.Reduce(); got != failsink.NoFailure {
		t.Fatalf("Reduce() = %v, want NoFailure (messages: %v)", got, sink.Messages())
	}
	if k := mv.work.GetRegisterType(0).Kind(); k != regtype.Integer {
		t.Fatalf("v0 at return = %v, want Integer", k)
	}
	if d := mv.work.MonitorDepth(); d != 0 {
		t.Fatalf("monitor depth at return = %d, want 0", d)
	}
	if mv.work.ThisInitialized() {
		t.Fatalf("this_initialized should stay false in a static method")
	}
}

func TestUnbalancedLockIsSoftLockingFailure(t *testing.T) {
	mkDef := func(api int) *MethodDef {
		return &MethodDef{
			AccessFlags:          classresolver.AccPublic | classresolver.AccStatic,
			ClassDescriptor:      "LMain;",
			NumRegisters:         1,
			InsSize:              1,
			ParameterDescriptors: []string{"Ljava/lang/Object;"},
			ReturnDescriptor:     "V",
			Code: dex.NewCursor([]dex.Instruction{
				{Op: dex.OpMonitorEnter, A: 0},
				{Op: dex.OpReturnVoid},
			}),
			APILevel: api,
		}
	}
	for _, tc := range []struct {
		name        string
		api         int
		wantPending bool
	}{
		{"legacy target treats the failure as throwing", 30, true},
		{"modern target records it without promotion", 34, false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, sink := runVerifier(t, mkDef(tc.api), classresolver.NewMemoryResolver(), nil)
			if got := sink.Reduce(); got != failsink.SoftFailure {
				t.Fatalf("Reduce() = %v, want SoftFailure", got)
			}
			found := false
			for _, m := range sink.Messages() {
				if m.Kind != failsink.Locking {
					continue
				}
				found = true
				if m.PendingException != tc.wantPending {
					t.Fatalf("Locking message PendingException = %v, want %v", m.PendingException, tc.wantPending)
				}
			}
			if !found {
				t.Fatalf("no LOCKING message recorded: %v", sink.Messages())
			}
			if sink.HasKind(failsink.RuntimeThrow) != tc.wantPending {
				t.Fatalf("RuntimeThrow kind present = %v, want %v", sink.HasKind(failsink.RuntimeThrow), tc.wantPending)
			}
		})
	}
}

func TestConstructorCallInitializesReceiver(t *testing.T) {
	r := classresolver.NewMemoryResolver()
	mustRegister(t, r, "LFoo;", "Ljava/lang/Object;")
	mustBind(t, r, 0, "LFoo;")
	if err := r.RegisterMethod(0, "LFoo;", classresolver.AccPublic|classresolver.AccConstructor, "<init>", nil, "V", classresolver.InvokeDirect); err != nil {
		t.Fatal(err)
	}
	if err := r.RegisterField(0, "LFoo;", classresolver.AccPublic, "I", "f"); err != nil {
		t.Fatal(err)
	}

	def := &MethodDef{
		AccessFlags:          classresolver.AccPublic | classresolver.AccStatic,
		ClassDescriptor:      "LMain;",
		NumRegisters:         2,
		InsSize:              1,
		ParameterDescriptors: []string{"I"},
		ReturnDescriptor:     "V",
		Code: dex.NewCursor([]dex.Instruction{
			{Op: dex.OpNewInstance, A: 0, H: 0},
			{Op: dex.OpInvokeDirect, H: 0, Args: []int{0}},
			{Op: dex.OpIput, A: 1, B: 0, H: 0},
			{Op: dex.OpReturnVoid},
		}),
		APILevel: 34,
	}
	mv, sink := runVerifier(t, def, r, nil)
	if got := sink.Reduce(); got != failsink.NoFailure {
		t.Fatalf("Reduce() = %v, want NoFailure (messages: %v)", got, sink.Messages())
	}
	recv := mv.work.GetRegisterType(0)
	if recv.Kind() != regtype.Reference || recv.Descriptor() != "LFoo;" {
		t.Fatalf("receiver after <init> = %v %q, want initialized LFoo;", recv.Kind(), recv.Descriptor())
	}
}

func TestAllocationMismatchAtJoinRejectsLaterInit(t *testing.T) {
	r := classresolver.NewMemoryResolver()
	mustRegister(t, r, "LFoo;", "Ljava/lang/Object;")
	mustBind(t, r, 0, "LFoo;")
	if err := r.RegisterMethod(0, "LFoo;", classresolver.AccPublic|classresolver.AccConstructor, "<init>", nil, "V", classresolver.InvokeDirect); err != nil {
		t.Fatal(err)
	}

	// Both arms allocate LFoo; into v0 at distinct dex-pcs before meeting at
	// the invoke-direct; the join must downgrade v0 to Conflict.
	def := &MethodDef{
		AccessFlags:          classresolver.AccPublic | classresolver.AccStatic,
		ClassDescriptor:      "LMain;",
		NumRegisters:         2,
		InsSize:              1,
		ParameterDescriptors: []string{"Z"},
		ReturnDescriptor:     "V",
		Code: dex.NewCursor([]dex.Instruction{
			{Op: dex.OpIfEqz, A: 1, H: 5},            // pc 0
			{Op: dex.OpNewInstance, A: 0, H: 0},      // pc 2
			{Op: dex.OpGoto, H: 7},                   // pc 4
			{Op: dex.OpNewInstance, A: 0, H: 0},      // pc 5
			{Op: dex.OpInvokeDirect, H: 0, Args: []int{0}}, // pc 7
			{Op: dex.OpReturnVoid},                   // pc 10
		}),
		APILevel: 34,
	}
	mv, sink := runVerifier(t, def, r, nil)
	if got := sink.Reduce(); got != failsink.HardFailureKind {
		t.Fatalf("Reduce() = %v, want HardFailure", got)
	}
	join, ok := mv.storedLines[7]
	if !ok {
		t.Fatalf("no stored line at the join point")
	}
	if k := join.GetRegisterType(0).Kind(); k != regtype.Conflict {
		t.Fatalf("v0 at join = %v, want Conflict", k)
	}
	pc, msg, ok := sink.HardFailure()
	if !ok || pc != 7 {
		t.Fatalf("hard failure at pc %d (%q), want pc 7", pc, msg)
	}
}

func TestInstanceOfPeepholeSharpensTakenBranchOnly(t *testing.T) {
	r := classresolver.NewMemoryResolver()
	mustRegister(t, r, "LBar;", "Ljava/lang/Object;")
	mustRegister(t, r, "LBaz;", "Ljava/lang/Object;")
	mustBind(t, r, 0, "LBar;")

	def := &MethodDef{
		AccessFlags:          classresolver.AccPublic | classresolver.AccStatic,
		ClassDescriptor:      "LMain;",
		NumRegisters:         3,
		InsSize:              1,
		ParameterDescriptors: []string{"LBaz;"},
		ReturnDescriptor:     "V",
		Code: dex.NewCursor([]dex.Instruction{
			{Op: dex.OpInstanceOf, A: 0, B: 2, H: 0}, // pc 0
			{Op: dex.OpIfNez, A: 0, H: 5},            // pc 2
			{Op: dex.OpReturnVoid},                   // pc 4
			{Op: dex.OpMoveObject, A: 1, B: 2},       // pc 5
			{Op: dex.OpReturnVoid},                   // pc 6
		}),
		APILevel: 34,
	}
	mv, sink := runVerifier(t, def, r, nil)
	if got := sink.Reduce(); got != failsink.NoFailure {
		t.Fatalf("Reduce() = %v, want NoFailure (messages: %v)", got, sink.Messages())
	}
	taken, ok := mv.storedLines[5]
	if !ok {
		t.Fatalf("no stored line at the taken branch target")
	}
	if d := taken.GetRegisterType(2).Descriptor(); d != "LBar;" {
		t.Fatalf("v2 on the taken branch = %q, want sharpened LBar;", d)
	}
	fall, ok := mv.storedLines[4]
	if !ok {
		t.Fatalf("no stored line at the fall-through")
	}
	if d := fall.GetRegisterType(2).Descriptor(); d != "LBaz;" {
		t.Fatalf("v2 on the fall-through = %q, want unsharpened LBaz;", d)
	}
}

func TestThrowRoutesToHandlerAndRecordsAssignability(t *testing.T) {
	r := classresolver.NewMemoryResolver()
	mustRegister(t, r, "Ljava/lang/Throwable;", "Ljava/lang/Object;")
	mustRegister(t, r, "LMyError;", "Ljava/lang/Throwable;")
	mustBind(t, r, 0, "LMyError;")
	if err := r.RegisterMethod(0, "LMyError;", classresolver.AccPublic|classresolver.AccConstructor, "<init>", nil, "V", classresolver.InvokeDirect); err != nil {
		t.Fatal(err)
	}

	deps := verifierdeps.NewMemoryRecorder()
	def := &MethodDef{
		AccessFlags:      classresolver.AccPublic | classresolver.AccStatic,
		ClassDescriptor:  "LMain;",
		NumRegisters:     1,
		InsSize:          0,
		ReturnDescriptor: "V",
		Code: dex.NewCursor([]dex.Instruction{
			{Op: dex.OpNewInstance, A: 0, H: 0},            // pc 0
			{Op: dex.OpInvokeDirect, H: 0, Args: []int{0}}, // pc 2
			{Op: dex.OpThrow, A: 0},                        // pc 5
			{Op: dex.OpMoveException, A: 0},                // pc 6, handler
			{Op: dex.OpReturnVoid},                         // pc 7
		}),
		Tries: []TryItem{{
			StartPC: 0,
			EndPC:   6,
			Handlers: []CatchHandler{{TypeDescriptor: "LMyError;", HandlerPC: 6}},
		}},
		APILevel: 34,
	}
	mv, sink := runVerifier(t, def, r, deps)
	if got := sink.Reduce(); got != failsink.NoFailure {
		t.Fatalf("Reduce() = %v, want NoFailure (messages: %v)", got, sink.Messages())
	}
	caught := mv.work.GetRegisterType(0)
	if caught.Descriptor() != "LMyError;" {
		t.Fatalf("move-exception wrote %q, want LMyError;", caught.Descriptor())
	}
	found := false
	for _, e := range deps.Entries() {
		if e.LHSDescriptor == "Ljava/lang/Throwable;" && e.RHSDescriptor == "LMyError;" {
			found = true
		}
	}
	if !found {
		t.Fatalf("throw check should have recorded Throwable <- MyError, got %v", deps.Entries())
	}
}

func TestInvokeConsumesTwoRegistersPerWideArgument(t *testing.T) {
	newResolver := func(t *testing.T) *classresolver.MemoryResolver {
		r := classresolver.NewMemoryResolver()
		mustRegister(t, r, "LMain;", "Ljava/lang/Object;")
		if err := r.RegisterMethod(0, "LMain;", classresolver.AccPublic|classresolver.AccStatic, "sum", []string{"J", "I"}, "V", classresolver.InvokeStatic); err != nil {
			t.Fatal(err)
		}
		return r
	}
	mkDef := func(args []int) *MethodDef {
		return &MethodDef{
			AccessFlags:      classresolver.AccPublic | classresolver.AccStatic,
			ClassDescriptor:  "LMain;",
			NumRegisters:     3,
			InsSize:          0,
			ReturnDescriptor: "V",
			Code: dex.NewCursor([]dex.Instruction{
				{Op: dex.OpConstWide, A: 0},                // pc 0, wide pair in v0/v1
				{Op: dex.OpConst4, A: 2, H: 7},             // pc 3
				{Op: dex.OpInvokeStatic, H: 0, Args: args}, // pc 4
				{Op: dex.OpReturnVoid},                     // pc 7
			}),
			APILevel: 34,
		}
	}

	t.Run("long pair plus int verifies", func(t *testing.T) {
		_, sink := runVerifier(t, mkDef([]int{0, 1, 2}), newResolver(t), nil)
		if got := sink.Reduce(); got != failsink.NoFailure {
			t.Fatalf("Reduce() = %v, want NoFailure (messages: %v)", got, sink.Messages())
		}
	})
	t.Run("mispaired wide argument hard-fails", func(t *testing.T) {
		// v1/v2 are numerically consecutive but hold the high half of the
		// pair and the int constant, not a wide pair.
		_, sink := runVerifier(t, mkDef([]int{1, 2, 0}), newResolver(t), nil)
		if got := sink.Reduce(); got != failsink.HardFailureKind {
			t.Fatalf("Reduce() = %v, want HardFailure", got)
		}
	})
	t.Run("missing trailing argument register hard-fails", func(t *testing.T) {
		_, sink := runVerifier(t, mkDef([]int{0, 1}), newResolver(t), nil)
		if got := sink.Reduce(); got != failsink.HardFailureKind {
			t.Fatalf("Reduce() = %v, want HardFailure", got)
		}
	})
}

func TestFindLocksAtDexPCReportsHeldMonitor(t *testing.T) {
	def := &MethodDef{
		AccessFlags:          classresolver.AccPublic | classresolver.AccStatic,
		ClassDescriptor:      "LMain;",
		NumRegisters:         2,
		InsSize:              1,
		ParameterDescriptors: []string{"Ljava/lang/Object;"},
		ReturnDescriptor:     "V",
		Code: dex.NewCursor([]dex.Instruction{
			{Op: dex.OpMonitorEnter, A: 1}, // pc 0
			{Op: dex.OpGoto, H: 2},         // pc 1
			{Op: dex.OpMonitorExit, A: 1},  // pc 2, branch target
			{Op: dex.OpReturnVoid},         // pc 3
		}),
		APILevel: 34,
	}
	locks, err := FindLocksAtDexPC(context.Background(), def, classresolver.NewMemoryResolver(), verifierdeps.NewMemoryRecorder(), 0, 2)
	if err != nil {
		t.Fatalf("FindLocksAtDexPC: %v", err)
	}
	if len(locks) != 1 {
		t.Fatalf("got %d locks, want 1: %v", len(locks), locks)
	}
	l := locks[0]
	if l.MonitorEnterDexPC != 0 || l.Depth != 0 {
		t.Fatalf("lock = %+v, want monitor-enter pc 0 at depth 0", l)
	}
	if len(l.AliasedVRegs) != 1 || l.AliasedVRegs[0] != 1 {
		t.Fatalf("aliased vregs = %v, want [1]", l.AliasedVRegs)
	}
}

func TestPreconditionChecks(t *testing.T) {
	code := dex.NewCursor([]dex.Instruction{{Op: dex.OpReturnVoid}})
	for _, tc := range []struct {
		name string
		def  *MethodDef
		want failsink.FailureKind
	}{
		{
			"abstract method with a code item",
			&MethodDef{AccessFlags: classresolver.AccPublic | classresolver.AccAbstract, NumRegisters: 1, ReturnDescriptor: "V", Code: code},
			failsink.HardFailureKind,
		},
		{
			"two visibility modifiers",
			&MethodDef{AccessFlags: classresolver.AccPublic | classresolver.AccPrivate, NumRegisters: 1, ReturnDescriptor: "V", Code: code},
			failsink.HardFailureKind,
		},
		{
			"ins_size larger than registers_size",
			&MethodDef{AccessFlags: classresolver.AccPublic | classresolver.AccStatic, NumRegisters: 1, InsSize: 2, ReturnDescriptor: "V", Code: code},
			failsink.HardFailureKind,
		},
		{
			"concrete method without code",
			&MethodDef{AccessFlags: classresolver.AccPublic | classresolver.AccStatic, NumRegisters: 1, ReturnDescriptor: "V"},
			failsink.HardFailureKind,
		},
		{
			"native method without code",
			&MethodDef{AccessFlags: classresolver.AccPublic | classresolver.AccNative, NumRegisters: 1, ReturnDescriptor: "V"},
			failsink.NoFailure,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			tc.def.ClassDescriptor = "LMain;"
			tc.def.APILevel = 34
			res, err := VerifyMethod(context.Background(), tc.def, classresolver.NewMemoryResolver(), verifierdeps.NewMemoryRecorder(), 0)
			if err != nil {
				t.Fatalf("VerifyMethod: %v", err)
			}
			if res.Kind != tc.want {
				t.Fatalf("Kind = %v, want %v", res.Kind, tc.want)
			}
		})
	}
}

func TestBranchOntoMoveExceptionIsRejected(t *testing.T) {
	def := &MethodDef{
		AccessFlags:      classresolver.AccPublic | classresolver.AccStatic,
		ClassDescriptor:  "LMain;",
		NumRegisters:     1,
		ReturnDescriptor: "V",
		Code: dex.NewCursor([]dex.Instruction{
			{Op: dex.OpGoto, H: 1},          // pc 0
			{Op: dex.OpMoveException, A: 0}, // pc 1
			{Op: dex.OpReturnVoid},          // pc 2
		}),
		APILevel: 34,
	}
	res, err := VerifyMethod(context.Background(), def, classresolver.NewMemoryResolver(), verifierdeps.NewMemoryRecorder(), 0)
	if err != nil {
		t.Fatalf("VerifyMethod: %v", err)
	}
	if res.Kind != failsink.HardFailureKind {
		t.Fatalf("Kind = %v, want HardFailure", res.Kind)
	}
	if !strings.Contains(res.HardMessage, "move-") {
		t.Fatalf("hard message %q should name the illegal target", res.HardMessage)
	}
}

func TestCancelledContextSurfacesAsError(t *testing.T) {
	def := &MethodDef{
		AccessFlags:      classresolver.AccPublic | classresolver.AccStatic,
		ClassDescriptor:  "LMain;",
		NumRegisters:     1,
		ReturnDescriptor: "V",
		Code:             dex.NewCursor([]dex.Instruction{{Op: dex.OpReturnVoid}}),
		APILevel:         34,
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := VerifyMethod(ctx, def, classresolver.NewMemoryResolver(), verifierdeps.NewMemoryRecorder(), 0); err == nil {
		t.Fatalf("VerifyMethod with a cancelled context should return the context error")
	}
}
