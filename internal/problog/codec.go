package problog

import (
	"bytes"
	"io"

	"witnessd/internal/events"
	"witnessd/internal/wire"
)

// Encode writes log in the <ClassName>.probes.dat layout:
// className | addedMethods(size, (sig, idCount, (id)*)*) |
// methodLogs(size, (sig, bytecodeLog, handlerLog, syntheticHandlers,
// hasExitProbe, exitProbeId)*) | hasPatchedStaticInit.
func Encode(w io.Writer, log *ClassLog) error {
	if err := wire.WriteString(w, log.ClassName); err != nil {
		return err
	}
	if err := wire.WriteInt32(w, int32(len(log.AddedMethods))); err != nil {
		return err
	}
	for sig, ids := range log.AddedMethods {
		if err := wire.WriteString(w, sig); err != nil {
			return err
		}
		if err := wire.WriteInt32(w, int32(len(ids))); err != nil {
			return err
		}
		for id := range ids {
			if err := wire.WriteInt32(w, int32(id)); err != nil {
				return err
			}
		}
	}

	if err := wire.WriteInt32(w, int32(len(log.MethodLogs))); err != nil {
		return err
	}
	for sig, m := range log.MethodLogs {
		if err := wire.WriteString(w, sig); err != nil {
			return err
		}
		if err := encodeMethodLog(w, m); err != nil {
			return err
		}
	}
	return wire.WriteBool(w, log.HasPatchedStaticInit)
}

func encodeMethodLog(w io.Writer, m *MethodLog) error {
	if err := wire.WriteInt32(w, int32(len(m.BytecodeLog))); err != nil {
		return err
	}
	for _, c := range m.BytecodeLog {
		if err := encodeChange(w, c); err != nil {
			return err
		}
	}

	if err := wire.WriteInt32(w, int32(len(m.HandlerLog))); err != nil {
		return err
	}
	for _, h := range m.HandlerLog {
		if err := encodeHandler(w, h); err != nil {
			return err
		}
	}

	if err := wire.WriteInt32(w, int32(len(m.SyntheticHandlers))); err != nil {
		return err
	}
	for pc := range m.SyntheticHandlers {
		if err := wire.WriteInt32(w, int32(pc)); err != nil {
			return err
		}
	}

	if err := wire.WriteBool(w, m.HasExitProbe); err != nil {
		return err
	}
	return wire.WriteInt32(w, int32(m.ExitProbeID))
}

func encodeChange(w io.Writer, c BytecodeChange) error {
	if err := wire.WriteInt32(w, int32(c.ID)); err != nil {
		return err
	}
	if err := wire.WriteByte(w, byte(c.EventCode)); err != nil {
		return err
	}
	if err := wire.WriteInt32(w, int32(c.Start)); err != nil {
		return err
	}
	if err := wire.WriteInt32(w, int32(c.Length)); err != nil {
		return err
	}
	if err := wire.WriteBool(w, c.Precedes); err != nil {
		return err
	}
	if err := wire.WriteByte(w, byte(c.Action)); err != nil {
		return err
	}
	hasIntercept := c.Interceptor != nil
	if err := wire.WriteBool(w, hasIntercept); err != nil {
		return err
	}
	if !hasIntercept {
		return nil
	}
	ic := c.Interceptor
	if err := wire.WriteString(w, ic.Opcode); err != nil {
		return err
	}
	if err := wire.WriteString(w, ic.ClassName); err != nil {
		return err
	}
	if err := wire.WriteString(w, ic.Member); err != nil {
		return err
	}
	if err := wire.WriteString(w, ic.FieldType); err != nil {
		return err
	}
	return wire.WriteBool(w, ic.IsStatic)
}

func encodeHandler(w io.Writer, h AddedExceptionHandler) error {
	if err := wire.WriteInt32(w, int32(h.ProbeID)); err != nil {
		return err
	}
	if err := wire.WriteInt32(w, int32(h.StartPC)); err != nil {
		return err
	}
	if err := wire.WriteInt32(w, int32(h.EndPC)); err != nil {
		return err
	}
	if err := wire.WriteInt32(w, int32(h.HandlerPC)); err != nil {
		return err
	}
	return wire.WriteString(w, h.CatchType)
}

// Decode reads a stream written by Encode.
func Decode(r io.Reader) (*ClassLog, error) {
	className, err := wire.ReadString(r)
	if err != nil {
		return nil, err
	}
	log := NewClassLog(className)

	addedCount, err := wire.ReadInt32(r)
	if err != nil {
		return nil, err
	}
	for i := int32(0); i < addedCount; i++ {
		sig, err := wire.ReadString(r)
		if err != nil {
			return nil, err
		}
		idCount, err := wire.ReadInt32(r)
		if err != nil {
			return nil, err
		}
		for j := int32(0); j < idCount; j++ {
			id, err := wire.ReadInt32(r)
			if err != nil {
				return nil, err
			}
			log.AddMethod(sig, int(id))
		}
	}

	methodCount, err := wire.ReadInt32(r)
	if err != nil {
		return nil, err
	}
	for i := int32(0); i < methodCount; i++ {
		sig, err := wire.ReadString(r)
		if err != nil {
			return nil, err
		}
		m, err := decodeMethodLog(r, sig)
		if err != nil {
			return nil, err
		}
		log.MethodLogs[sig] = m
	}

	if log.HasPatchedStaticInit, err = wire.ReadBool(r); err != nil {
		return nil, err
	}

	return log, nil
}

func decodeMethodLog(r io.Reader, sig string) (*MethodLog, error) {
	m := NewMethodLog(sig)

	changeCount, err := wire.ReadInt32(r)
	if err != nil {
		return nil, err
	}
	m.BytecodeLog = make([]BytecodeChange, 0, changeCount)
	for i := int32(0); i < changeCount; i++ {
		c, err := decodeChange(r)
		if err != nil {
			return nil, err
		}
		m.BytecodeLog = append(m.BytecodeLog, c)
	}

	handlerCount, err := wire.ReadInt32(r)
	if err != nil {
		return nil, err
	}
	m.HandlerLog = make([]AddedExceptionHandler, 0, handlerCount)
	for i := int32(0); i < handlerCount; i++ {
		h, err := decodeHandler(r)
		if err != nil {
			return nil, err
		}
		m.HandlerLog = append(m.HandlerLog, h)
	}

	synthCount, err := wire.ReadInt32(r)
	if err != nil {
		return nil, err
	}
	for i := int32(0); i < synthCount; i++ {
		pc, err := wire.ReadInt32(r)
		if err != nil {
			return nil, err
		}
		m.SyntheticHandlers[int(pc)] = struct{}{}
	}

	if m.HasExitProbe, err = wire.ReadBool(r); err != nil {
		return nil, err
	}
	exitID, err := wire.ReadInt32(r)
	if err != nil {
		return nil, err
	}
	m.ExitProbeID = int(exitID)

	return m, nil
}

func decodeChange(r io.Reader) (BytecodeChange, error) {
	var c BytecodeChange
	id, err := wire.ReadInt32(r)
	if err != nil {
		return c, err
	}
	c.ID = int(id)
	code, err := wire.ReadByte(r)
	if err != nil {
		return c, err
	}
	c.EventCode = events.Code(code)
	start, err := wire.ReadInt32(r)
	if err != nil {
		return c, err
	}
	c.Start = int(start)
	length, err := wire.ReadInt32(r)
	if err != nil {
		return c, err
	}
	c.Length = int(length)
	if c.Precedes, err = wire.ReadBool(r); err != nil {
		return c, err
	}
	action, err := wire.ReadByte(r)
	if err != nil {
		return c, err
	}
	c.Action = events.Action(action)
	hasIntercept, err := wire.ReadBool(r)
	if err != nil {
		return c, err
	}
	if !hasIntercept {
		return c, nil
	}
	ic := &InterceptRecord{}
	if ic.Opcode, err = wire.ReadString(r); err != nil {
		return c, err
	}
	if ic.ClassName, err = wire.ReadString(r); err != nil {
		return c, err
	}
	if ic.Member, err = wire.ReadString(r); err != nil {
		return c, err
	}
	if ic.FieldType, err = wire.ReadString(r); err != nil {
		return c, err
	}
	if ic.IsStatic, err = wire.ReadBool(r); err != nil {
		return c, err
	}
	c.Interceptor = ic
	return c, nil
}

func decodeHandler(r io.Reader) (AddedExceptionHandler, error) {
	var h AddedExceptionHandler
	id, err := wire.ReadInt32(r)
	if err != nil {
		return h, err
	}
	h.ProbeID = int(id)
	start, err := wire.ReadInt32(r)
	if err != nil {
		return h, err
	}
	h.StartPC = int(start)
	end, err := wire.ReadInt32(r)
	if err != nil {
		return h, err
	}
	h.EndPC = int(end)
	handlerPC, err := wire.ReadInt32(r)
	if err != nil {
		return h, err
	}
	h.HandlerPC = int(handlerPC)
	if h.CatchType, err = wire.ReadString(r); err != nil {
		return h, err
	}
	return h, nil
}

// EncodeBytes is a convenience wrapper for in-memory callers.
func EncodeBytes(log *ClassLog) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, log); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeBytes is the inverse of EncodeBytes.
func DecodeBytes(b []byte) (*ClassLog, error) {
	return Decode(bytes.NewReader(b))
}
