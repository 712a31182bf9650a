// Package wire provides the small binary primitives shared by the EDL
// suite file and probe log codecs: length-prefixed strings,
// fixed-width integers, and booleans, all big-endian.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"

	"witnessd/internal/werrors"
)

const maxPlausibleLength = 1 << 24

func WriteString(w io.Writer, s string) error {
	if err := WriteInt32(w, int32(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func ReadString(r io.Reader) (string, error) {
	n, err := ReadInt32(r)
	if err != nil {
		return "", err
	}
	if n < 0 || n > maxPlausibleLength {
		return "", werrors.BadFile("wire", fmt.Errorf("implausible string length %d", n))
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", werrors.BadFile("wire", err)
	}
	return string(buf), nil
}

func WriteBytes(w io.Writer, b []byte) error {
	if err := WriteInt32(w, int32(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

func ReadBytes(r io.Reader) ([]byte, error) {
	n, err := ReadInt32(r)
	if err != nil {
		return nil, err
	}
	if n < 0 || n > maxPlausibleLength {
		return nil, werrors.BadFile("wire", fmt.Errorf("implausible byte length %d", n))
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, werrors.BadFile("wire", err)
	}
	return buf, nil
}

func WriteByte(w io.Writer, b byte) error {
	_, err := w.Write([]byte{b})
	return err
}

func ReadByte(r io.Reader) (byte, error) {
	var buf [1]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return buf[0], nil
}

func WriteBool(w io.Writer, b bool) error {
	if b {
		return WriteByte(w, 1)
	}
	return WriteByte(w, 0)
}

func ReadBool(r io.Reader) (bool, error) {
	b, err := ReadByte(r)
	if err != nil {
		return false, err
	}
	return b != 0, nil
}

func WriteInt32(w io.Writer, v int32) error {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(v))
	_, err := w.Write(buf[:])
	return err
}

func ReadInt32(r io.Reader) (int32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint32(buf[:])), nil
}

func WriteInt64(w io.Writer, v int64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(v))
	_, err := w.Write(buf[:])
	return err
}

func ReadInt64(r io.Reader) (int64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(buf[:])), nil
}
