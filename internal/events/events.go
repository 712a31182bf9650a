// Package events defines the fixed event-code and action vocabulary
// shared by the Instrumentor, Probe Tracker, Probe Log Model, and
// Dispatcher Facade. Keeping these codes in one leaf package avoids
// every downstream package importing instrument just to read a
// constant.
package events

// Code is one byte-sized event code carried in the inst_code payload
// and in BytecodeChange/ProbeRecord bookkeeping.
type Code byte

const (
	Start             Code = 1
	ThreadStart       Code = 2
	ThreadDeath       Code = 3
	NewObj            Code = 4
	GetStatic         Code = 5
	PutStatic         Code = 6
	GetField          Code = 7
	PutField          Code = 8
	MonContend        Code = 10
	MonAcquire        Code = 11
	MonPreRelease     Code = 12
	MonRelease        Code = 13
	Constructor       Code = 20
	StaticCall        Code = 21
	VirtualCall       Code = 22
	InterfaceCall     Code = 23
	CallReturn        Code = 24
	VMethodEnter      Code = 30
	VMethodExit       Code = 31
	ConstructorEnter  Code = 32
	ConstructorExit   Code = 33
	StaticInitEnter   Code = 34
	SMethodEnter      Code = 36
	SMethodExit       Code = 37
	Throw             Code = 40
	Catch             Code = 41
)

// Action classifies one physical BytecodeChange.
type Action int

const (
	ActionInsert Action = iota
	ActionCallIntercept
	ActionFieldIntercept
)

func (a Action) String() string {
	switch a {
	case ActionInsert:
		return "insert"
	case ActionCallIntercept:
		return "call_intercept"
	case ActionFieldIntercept:
		return "field_intercept"
	default:
		return "unknown"
	}
}

// instCodeTag is the fixed 2-bit type tag occupying the top of
// inst_code; witnessd only ever emits the single "instrumentation
// event" tag value.
const instCodeTag = 0

// Flag bits occupy the 2-bit flags field of inst_code.
const (
	FlagExceptional = 1 << 0
	FlagIntercepted = 1 << 1
)

// EncodeInstCode packs the 32-bit inst_code payload: 2 bits type tag,
// 8 bits event code, 2 bits flags, 20 bits string-table index.
func EncodeInstCode(code Code, flags uint8, stringIdx int) int32 {
	return int32(instCodeTag)<<30 | int32(code)<<22 | int32(flags&0x3)<<20 | int32(stringIdx&0xFFFFF)
}

// DecodeInstCode unpacks a 32-bit inst_code payload.
func DecodeInstCode(v int32) (code Code, flags uint8, stringIdx int) {
	code = Code((v >> 22) & 0xFF)
	flags = uint8((v >> 20) & 0x3)
	stringIdx = int(v & 0xFFFFF)
	return
}
