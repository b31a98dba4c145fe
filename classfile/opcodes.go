package classfile

// Opcode is a JVM instruction opcode.
type Opcode byte

// JVM opcodes (JVMS 6.5).
const (
	OpNop             Opcode = 0x00 // nop
	OpAConstNull      Opcode = 0x01 // aconst_null
	OpIConstM1        Opcode = 0x02 // iconst_m1
	OpIConst0         Opcode = 0x03 // iconst_0
	OpIConst1         Opcode = 0x04 // iconst_1
	OpIConst2         Opcode = 0x05 // iconst_2
	OpIConst3         Opcode = 0x06 // iconst_3
	OpIConst4         Opcode = 0x07 // iconst_4
	OpIConst5         Opcode = 0x08 // iconst_5
	OpLConst0         Opcode = 0x09 // lconst_0
	OpLConst1         Opcode = 0x0a // lconst_1
	OpFConst0         Opcode = 0x0b // fconst_0
	OpFConst1         Opcode = 0x0c // fconst_1
	OpFConst2         Opcode = 0x0d // fconst_2
	OpDConst0         Opcode = 0x0e // dconst_0
	OpDConst1         Opcode = 0x0f // dconst_1
	OpBIPush          Opcode = 0x10 // bipush
	OpSIPush          Opcode = 0x11 // sipush
	OpLdc             Opcode = 0x12 // ldc
	OpLdcW            Opcode = 0x13 // ldc_w
	OpLdc2W           Opcode = 0x14 // ldc2_w
	OpILoad           Opcode = 0x15 // iload
	OpLLoad           Opcode = 0x16 // lload
	OpFLoad           Opcode = 0x17 // fload
	OpDLoad           Opcode = 0x18 // dload
	OpALoad           Opcode = 0x19 // aload
	OpILoad0          Opcode = 0x1a // iload_0
	OpILoad1          Opcode = 0x1b // iload_1
	OpILoad2          Opcode = 0x1c // iload_2
	OpILoad3          Opcode = 0x1d // iload_3
	OpLLoad0          Opcode = 0x1e // lload_0
	OpLLoad1          Opcode = 0x1f // lload_1
	OpLLoad2          Opcode = 0x20 // lload_2
	OpLLoad3          Opcode = 0x21 // lload_3
	OpFLoad0          Opcode = 0x22 // fload_0
	OpFLoad1          Opcode = 0x23 // fload_1
	OpFLoad2          Opcode = 0x24 // fload_2
	OpFLoad3          Opcode = 0x25 // fload_3
	OpDLoad0          Opcode = 0x26 // dload_0
	OpDLoad1          Opcode = 0x27 // dload_1
	OpDLoad2          Opcode = 0x28 // dload_2
	OpDLoad3          Opcode = 0x29 // dload_3
	OpALoad0          Opcode = 0x2a // aload_0
	OpALoad1          Opcode = 0x2b // aload_1
	OpALoad2          Opcode = 0x2c // aload_2
	OpALoad3          Opcode = 0x2d // aload_3
	OpIALoad          Opcode = 0x2e // iaload
	OpLALoad          Opcode = 0x2f // laload
	OpFALoad          Opcode = 0x30 // faload
	OpDALoad          Opcode = 0x31 // daload
	OpAALoad          Opcode = 0x32 // aaload
	OpBALoad          Opcode = 0x33 // baload
	OpCALoad          Opcode = 0x34 // caload
	OpSALoad          Opcode = 0x35 // saload
	OpIStore          Opcode = 0x36 // istore
	OpLStore          Opcode = 0x37 // lstore
	OpFStore          Opcode = 0x38 // fstore
	OpDStore          Opcode = 0x39 // dstore
	OpAStore          Opcode = 0x3a // astore
	OpIStore0         Opcode = 0x3b // istore_0
	OpIStore1         Opcode = 0x3c // istore_1
	OpIStore2         Opcode = 0x3d // istore_2
	OpIStore3         Opcode = 0x3e // istore_3
	OpLStore0         Opcode = 0x3f // lstore_0
	OpLStore1         Opcode = 0x40 // lstore_1
	OpLStore2         Opcode = 0x41 // lstore_2
	OpLStore3         Opcode = 0x42 // lstore_3
	OpFStore0         Opcode = 0x43 // fstore_0
	OpFStore1         Opcode = 0x44 // fstore_1
	OpFStore2         Opcode = 0x45 // fstore_2
	OpFStore3         Opcode = 0x46 // fstore_3
	OpDStore0         Opcode = 0x47 // dstore_0
	OpDStore1         Opcode = 0x48 // dstore_1
	OpDStore2         Opcode = 0x49 // dstore_2
	OpDStore3         Opcode = 0x4a // dstore_3
	OpAStore0         Opcode = 0x4b // astore_0
	OpAStore1         Opcode = 0x4c // astore_1
	OpAStore2         Opcode = 0x4d // astore_2
	OpAStore3         Opcode = 0x4e // astore_3
	OpIAStore         Opcode = 0x4f // iastore
	OpLAStore         Opcode = 0x50 // lastore
	OpFAStore         Opcode = 0x51 // fastore
	OpDAStore         Opcode = 0x52 // dastore
	OpAAStore         Opcode = 0x53 // aastore
	OpBAStore         Opcode = 0x54 // bastore
	OpCAStore         Opcode = 0x55 // castore
	OpSAStore         Opcode = 0x56 // sastore
	OpPop             Opcode = 0x57 // pop
	OpPop2            Opcode = 0x58 // pop2
	OpDup             Opcode = 0x59 // dup
	OpDupX1           Opcode = 0x5a // dup_x1
	OpDupX2           Opcode = 0x5b // dup_x2
	OpDup2            Opcode = 0x5c // dup2
	OpDup2X1          Opcode = 0x5d // dup2_x1
	OpDup2X2          Opcode = 0x5e // dup2_x2
	OpSwap            Opcode = 0x5f // swap
	OpIAdd            Opcode = 0x60 // iadd
	OpLAdd            Opcode = 0x61 // ladd
	OpFAdd            Opcode = 0x62 // fadd
	OpDAdd            Opcode = 0x63 // dadd
	OpISub            Opcode = 0x64 // isub
	OpLSub            Opcode = 0x65 // lsub
	OpFSub            Opcode = 0x66 // fsub
	OpDSub            Opcode = 0x67 // dsub
	OpIMul            Opcode = 0x68 // imul
	OpLMul            Opcode = 0x69 // lmul
	OpFMul            Opcode = 0x6a // fmul
	OpDMul            Opcode = 0x6b // dmul
	OpIDiv            Opcode = 0x6c // idiv
	OpLDiv            Opcode = 0x6d // ldiv
	OpFDiv            Opcode = 0x6e // fdiv
	OpDDiv            Opcode = 0x6f // ddiv
	OpIRem            Opcode = 0x70 // irem
	OpLRem            Opcode = 0x71 // lrem
	OpFRem            Opcode = 0x72 // frem
	OpDRem            Opcode = 0x73 // drem
	OpINeg            Opcode = 0x74 // ineg
	OpLNeg            Opcode = 0x75 // lneg
	OpFNeg            Opcode = 0x76 // fneg
	OpDNeg            Opcode = 0x77 // dneg
	OpIShl            Opcode = 0x78 // ishl
	OpLShl            Opcode = 0x79 // lshl
	OpIShr            Opcode = 0x7a // ishr
	OpLShr            Opcode = 0x7b // lshr
	OpIUshr           Opcode = 0x7c // iushr
	OpLUshr           Opcode = 0x7d // lushr
	OpIAnd            Opcode = 0x7e // iand
	OpLAnd            Opcode = 0x7f // land
	OpIOr             Opcode = 0x80 // ior
	OpLOr             Opcode = 0x81 // lor
	OpIXor            Opcode = 0x82 // ixor
	OpLXor            Opcode = 0x83 // lxor
	OpIInc            Opcode = 0x84 // iinc
	OpI2L             Opcode = 0x85 // i2l
	OpI2F             Opcode = 0x86 // i2f
	OpI2D             Opcode = 0x87 // i2d
	OpL2I             Opcode = 0x88 // l2i
	OpL2F             Opcode = 0x89 // l2f
	OpL2D             Opcode = 0x8a // l2d
	OpF2I             Opcode = 0x8b // f2i
	OpF2L             Opcode = 0x8c // f2l
	OpF2D             Opcode = 0x8d // f2d
	OpD2I             Opcode = 0x8e // d2i
	OpD2L             Opcode = 0x8f // d2l
	OpD2F             Opcode = 0x90 // d2f
	OpI2B             Opcode = 0x91 // i2b
	OpI2C             Opcode = 0x92 // i2c
	OpI2S             Opcode = 0x93 // i2s
	OpLCmp            Opcode = 0x94 // lcmp
	OpFCmpL           Opcode = 0x95 // fcmpl
	OpFCmpG           Opcode = 0x96 // fcmpg
	OpDCmpL           Opcode = 0x97 // dcmpl
	OpDCmpG           Opcode = 0x98 // dcmpg
	OpIfEQ            Opcode = 0x99 // ifeq
	OpIfNE            Opcode = 0x9a // ifne
	OpIfLT            Opcode = 0x9b // iflt
	OpIfGE            Opcode = 0x9c // ifge
	OpIfGT            Opcode = 0x9d // ifgt
	OpIfLE            Opcode = 0x9e // ifle
	OpIfICmpEQ        Opcode = 0x9f // if_icmpeq
	OpIfICmpNE        Opcode = 0xa0 // if_icmpne
	OpIfICmpLT        Opcode = 0xa1 // if_icmplt
	OpIfICmpGE        Opcode = 0xa2 // if_icmpge
	OpIfICmpGT        Opcode = 0xa3 // if_icmpgt
	OpIfICmpLE        Opcode = 0xa4 // if_icmple
	OpIfACmpEQ        Opcode = 0xa5 // if_acmpeq
	OpIfACmpNE        Opcode = 0xa6 // if_acmpne
	OpGoto            Opcode = 0xa7 // goto
	OpJsr             Opcode = 0xa8 // jsr
	OpRet             Opcode = 0xa9 // ret
	OpTableSwitch     Opcode = 0xaa // tableswitch
	OpLookupSwitch    Opcode = 0xab // lookupswitch
	OpIReturn         Opcode = 0xac // ireturn
	OpLReturn         Opcode = 0xad // lreturn
	OpFReturn         Opcode = 0xae // freturn
	OpDReturn         Opcode = 0xaf // dreturn
	OpAReturn         Opcode = 0xb0 // areturn
	OpReturn          Opcode = 0xb1 // return
	OpGetStatic       Opcode = 0xb2 // getstatic
	OpPutStatic       Opcode = 0xb3 // putstatic
	OpGetField        Opcode = 0xb4 // getfield
	OpPutField        Opcode = 0xb5 // putfield
	OpInvokeVirtual   Opcode = 0xb6 // invokevirtual
	OpInvokeSpecial   Opcode = 0xb7 // invokespecial
	OpInvokeStatic    Opcode = 0xb8 // invokestatic
	OpInvokeInterface Opcode = 0xb9 // invokeinterface
	OpInvokeDynamic   Opcode = 0xba // invokedynamic
	OpNew             Opcode = 0xbb // new
	OpNewArray        Opcode = 0xbc // newarray
	OpANewArray       Opcode = 0xbd // anewarray
	OpArrayLength     Opcode = 0xbe // arraylength
	OpAThrow          Opcode = 0xbf // athrow
	OpCheckCast       Opcode = 0xc0 // checkcast
	OpInstanceOf      Opcode = 0xc1 // instanceof
	OpMonitorEnter    Opcode = 0xc2 // monitorenter
	OpMonitorExit     Opcode = 0xc3 // monitorexit
	OpWide            Opcode = 0xc4 // wide
	OpMultiANewArray  Opcode = 0xc5 // multianewarray
	OpIfNull          Opcode = 0xc6 // ifnull
	OpIfNonNull       Opcode = 0xc7 // ifnonnull
	OpGotoW           Opcode = 0xc8 // goto_w
	OpJsrW            Opcode = 0xc9 // jsr_w
)

// operandKind describes the immediate layout following an opcode.
type operandKind uint8

const (
	kindNone operandKind = iota
	kindS1
	kindS2
	kindU1
	kindCP1
	kindCP2
	kindLocal
	kindIinc
	kindBranch2
	kindBranch4
	kindTableSwitch
	kindLookupSwitch
	kindInvokeInterface
	kindInvokeDynamic
	kindMultiANewArray
	kindWide
)

type opInfo struct {
	name string
	kind operandKind
}

var opTable = [256]opInfo{
	OpNop:             {"nop", kindNone},
	OpAConstNull:      {"aconst_null", kindNone},
	OpIConstM1:        {"iconst_m1", kindNone},
	OpIConst0:         {"iconst_0", kindNone},
	OpIConst1:         {"iconst_1", kindNone},
	OpIConst2:         {"iconst_2", kindNone},
	OpIConst3:         {"iconst_3", kindNone},
	OpIConst4:         {"iconst_4", kindNone},
	OpIConst5:         {"iconst_5", kindNone},
	OpLConst0:         {"lconst_0", kindNone},
	OpLConst1:         {"lconst_1", kindNone},
	OpFConst0:         {"fconst_0", kindNone},
	OpFConst1:         {"fconst_1", kindNone},
	OpFConst2:         {"fconst_2", kindNone},
	OpDConst0:         {"dconst_0", kindNone},
	OpDConst1:         {"dconst_1", kindNone},
	OpBIPush:          {"bipush", kindS1},
	OpSIPush:          {"sipush", kindS2},
	OpLdc:             {"ldc", kindCP1},
	OpLdcW:            {"ldc_w", kindCP2},
	OpLdc2W:           {"ldc2_w", kindCP2},
	OpILoad:           {"iload", kindLocal},
	OpLLoad:           {"lload", kindLocal},
	OpFLoad:           {"fload", kindLocal},
	OpDLoad:           {"dload", kindLocal},
	OpALoad:           {"aload", kindLocal},
	OpILoad0:          {"iload_0", kindNone},
	OpILoad1:          {"iload_1", kindNone},
	OpILoad2:          {"iload_2", kindNone},
	OpILoad3:          {"iload_3", kindNone},
	OpLLoad0:          {"lload_0", kindNone},
	OpLLoad1:          {"lload_1", kindNone},
	OpLLoad2:          {"lload_2", kindNone},
	OpLLoad3:          {"lload_3", kindNone},
	OpFLoad0:          {"fload_0", kindNone},
	OpFLoad1:          {"fload_1", kindNone},
	OpFLoad2:          {"fload_2", kindNone},
	OpFLoad3:          {"fload_3", kindNone},
	OpDLoad0:          {"dload_0", kindNone},
	OpDLoad1:          {"dload_1", kindNone},
	OpDLoad2:          {"dload_2", kindNone},
	OpDLoad3:          {"dload_3", kindNone},
	OpALoad0:          {"aload_0", kindNone},
	OpALoad1:          {"aload_1", kindNone},
	OpALoad2:          {"aload_2", kindNone},
	OpALoad3:          {"aload_3", kindNone},
	OpIALoad:          {"iaload", kindNone},
	OpLALoad:          {"laload", kindNone},
	OpFALoad:          {"faload", kindNone},
	OpDALoad:          {"daload", kindNone},
	OpAALoad:          {"aaload", kindNone},
	OpBALoad:          {"baload", kindNone},
	OpCALoad:          {"caload", kindNone},
	OpSALoad:          {"saload", kindNone},
	OpIStore:          {"istore", kindLocal},
	OpLStore:          {"lstore", kindLocal},
	OpFStore:          {"fstore", kindLocal},
	OpDStore:          {"dstore", kindLocal},
	OpAStore:          {"astore", kindLocal},
	OpIStore0:         {"istore_0", kindNone},
	OpIStore1:         {"istore_1", kindNone},
	OpIStore2:         {"istore_2", kindNone},
	OpIStore3:         {"istore_3", kindNone},
	OpLStore0:         {"lstore_0", kindNone},
	OpLStore1:         {"lstore_1", kindNone},
	OpLStore2:         {"lstore_2", kindNone},
	OpLStore3:         {"lstore_3", kindNone},
	OpFStore0:         {"fstore_0", kindNone},
	OpFStore1:         {"fstore_1", kindNone},
	OpFStore2:         {"fstore_2", kindNone},
	OpFStore3:         {"fstore_3", kindNone},
	OpDStore0:         {"dstore_0", kindNone},
	OpDStore1:         {"dstore_1", kindNone},
	OpDStore2:         {"dstore_2", kindNone},
	OpDStore3:         {"dstore_3", kindNone},
	OpAStore0:         {"astore_0", kindNone},
	OpAStore1:         {"astore_1", kindNone},
	OpAStore2:         {"astore_2", kindNone},
	OpAStore3:         {"astore_3", kindNone},
	OpIAStore:         {"iastore", kindNone},
	OpLAStore:         {"lastore", kindNone},
	OpFAStore:         {"fastore", kindNone},
	OpDAStore:         {"dastore", kindNone},
	OpAAStore:         {"aastore", kindNone},
	OpBAStore:         {"bastore", kindNone},
	OpCAStore:         {"castore", kindNone},
	OpSAStore:         {"sastore", kindNone},
	OpPop:             {"pop", kindNone},
	OpPop2:            {"pop2", kindNone},
	OpDup:             {"dup", kindNone},
	OpDupX1:           {"dup_x1", kindNone},
	OpDupX2:           {"dup_x2", kindNone},
	OpDup2:            {"dup2", kindNone},
	OpDup2X1:          {"dup2_x1", kindNone},
	OpDup2X2:          {"dup2_x2", kindNone},
	OpSwap:            {"swap", kindNone},
	OpIAdd:            {"iadd", kindNone},
	OpLAdd:            {"ladd", kindNone},
	OpFAdd:            {"fadd", kindNone},
	OpDAdd:            {"dadd", kindNone},
	OpISub:            {"isub", kindNone},
	OpLSub:            {"lsub", kindNone},
	OpFSub:            {"fsub", kindNone},
	OpDSub:            {"dsub", kindNone},
	OpIMul:            {"imul", kindNone},
	OpLMul:            {"lmul", kindNone},
	OpFMul:            {"fmul", kindNone},
	OpDMul:            {"dmul", kindNone},
	OpIDiv:            {"idiv", kindNone},
	OpLDiv:            {"ldiv", kindNone},
	OpFDiv:            {"fdiv", kindNone},
	OpDDiv:            {"ddiv", kindNone},
	OpIRem:            {"irem", kindNone},
	OpLRem:            {"lrem", kindNone},
	OpFRem:            {"frem", kindNone},
	OpDRem:            {"drem", kindNone},
	OpINeg:            {"ineg", kindNone},
	OpLNeg:            {"lneg", kindNone},
	OpFNeg:            {"fneg", kindNone},
	OpDNeg:            {"dneg", kindNone},
	OpIShl:            {"ishl", kindNone},
	OpLShl:            {"lshl", kindNone},
	OpIShr:            {"ishr", kindNone},
	OpLShr:            {"lshr", kindNone},
	OpIUshr:           {"iushr", kindNone},
	OpLUshr:           {"lushr", kindNone},
	OpIAnd:            {"iand", kindNone},
	OpLAnd:            {"land", kindNone},
	OpIOr:             {"ior", kindNone},
	OpLOr:             {"lor", kindNone},
	OpIXor:            {"ixor", kindNone},
	OpLXor:            {"lxor", kindNone},
	OpIInc:            {"iinc", kindIinc},
	OpI2L:             {"i2l", kindNone},
	OpI2F:             {"i2f", kindNone},
	OpI2D:             {"i2d", kindNone},
	OpL2I:             {"l2i", kindNone},
	OpL2F:             {"l2f", kindNone},
	OpL2D:             {"l2d", kindNone},
	OpF2I:             {"f2i", kindNone},
	OpF2L:             {"f2l", kindNone},
	OpF2D:             {"f2d", kindNone},
	OpD2I:             {"d2i", kindNone},
	OpD2L:             {"d2l", kindNone},
	OpD2F:             {"d2f", kindNone},
	OpI2B:             {"i2b", kindNone},
	OpI2C:             {"i2c", kindNone},
	OpI2S:             {"i2s", kindNone},
	OpLCmp:            {"lcmp", kindNone},
	OpFCmpL:           {"fcmpl", kindNone},
	OpFCmpG:           {"fcmpg", kindNone},
	OpDCmpL:           {"dcmpl", kindNone},
	OpDCmpG:           {"dcmpg", kindNone},
	OpIfEQ:            {"ifeq", kindBranch2},
	OpIfNE:            {"ifne", kindBranch2},
	OpIfLT:            {"iflt", kindBranch2},
	OpIfGE:            {"ifge", kindBranch2},
	OpIfGT:            {"ifgt", kindBranch2},
	OpIfLE:            {"ifle", kindBranch2},
	OpIfICmpEQ:        {"if_icmpeq", kindBranch2},
	OpIfICmpNE:        {"if_icmpne", kindBranch2},
	OpIfICmpLT:        {"if_icmplt", kindBranch2},
	OpIfICmpGE:        {"if_icmpge", kindBranch2},
	OpIfICmpGT:        {"if_icmpgt", kindBranch2},
	OpIfICmpLE:        {"if_icmple", kindBranch2},
	OpIfACmpEQ:        {"if_acmpeq", kindBranch2},
	OpIfACmpNE:        {"if_acmpne", kindBranch2},
	OpGoto:            {"goto", kindBranch2},
	OpJsr:             {"jsr", kindBranch2},
	OpRet:             {"ret", kindLocal},
	OpTableSwitch:     {"tableswitch", kindTableSwitch},
	OpLookupSwitch:    {"lookupswitch", kindLookupSwitch},
	OpIReturn:         {"ireturn", kindNone},
	OpLReturn:         {"lreturn", kindNone},
	OpFReturn:         {"freturn", kindNone},
	OpDReturn:         {"dreturn", kindNone},
	OpAReturn:         {"areturn", kindNone},
	OpReturn:          {"return", kindNone},
	OpGetStatic:       {"getstatic", kindCP2},
	OpPutStatic:       {"putstatic", kindCP2},
	OpGetField:        {"getfield", kindCP2},
	OpPutField:        {"putfield", kindCP2},
	OpInvokeVirtual:   {"invokevirtual", kindCP2},
	OpInvokeSpecial:   {"invokespecial", kindCP2},
	OpInvokeStatic:    {"invokestatic", kindCP2},
	OpInvokeInterface: {"invokeinterface", kindInvokeInterface},
	OpInvokeDynamic:   {"invokedynamic", kindInvokeDynamic},
	OpNew:             {"new", kindCP2},
	OpNewArray:        {"newarray", kindU1},
	OpANewArray:       {"anewarray", kindCP2},
	OpArrayLength:     {"arraylength", kindNone},
	OpAThrow:          {"athrow", kindNone},
	OpCheckCast:       {"checkcast", kindCP2},
	OpInstanceOf:      {"instanceof", kindCP2},
	OpMonitorEnter:    {"monitorenter", kindNone},
	OpMonitorExit:     {"monitorexit", kindNone},
	OpWide:            {"wide", kindWide},
	OpMultiANewArray:  {"multianewarray", kindMultiANewArray},
	OpIfNull:          {"ifnull", kindBranch2},
	OpIfNonNull:       {"ifnonnull", kindBranch2},
	OpGotoW:           {"goto_w", kindBranch4},
	OpJsrW:            {"jsr_w", kindBranch4},
}

// String returns the mnemonic of the opcode.
func (op Opcode) String() string {
	if info := opTable[op]; info.name != "" {
		return info.name
	}
	return "unknown"
}

// Valid reports whether op is a defined JVM opcode.
func (op Opcode) Valid() bool {
	return opTable[op].name != ""
}

// OpcodeByName returns the opcode for a mnemonic.
func OpcodeByName(name string) (Opcode, bool) {
	op, ok := opByName[name]
	return op, ok
}

var opByName = func() map[string]Opcode {
	m := make(map[string]Opcode, len(opTable))
	for i, info := range opTable {
		if info.name != "" {
			m[info.name] = Opcode(i)
		}
	}
	return m
}()

// IsReturn reports whether op is one of the *return instructions.
func (op Opcode) IsReturn() bool {
	return op >= OpIReturn && op <= OpReturn
}

// IsInvoke reports whether op is one of the invoke* instructions.
func (op Opcode) IsInvoke() bool {
	return op >= OpInvokeVirtual && op <= OpInvokeDynamic
}

// IsBranch reports whether op carries a branch offset or a switch table.
func (op Opcode) IsBranch() bool {
	switch opTable[op].kind {
	case kindBranch2, kindBranch4, kindTableSwitch, kindLookupSwitch:
		return true
	}
	return false
}

// EndsBlock reports whether control never falls through to the next instruction.
func (op Opcode) EndsBlock() bool {
	switch op {
	case OpGoto, OpGotoW, OpRet, OpAThrow, OpTableSwitch, OpLookupSwitch:
		return true
	}
	return op.IsReturn()
}
