package clients

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// FrameOp is the kind of a stream frame
type FrameOp byte

const (
	// OpData carries a chunk of result content
	OpData FrameOp = 0x01
	// OpError aborts a stream; Data holds the message
	OpError FrameOp = 0x02
)

// MaxFrameData bounds the data length accepted by ReadFrame
const MaxFrameData = 64 << 20

// Frame is the unit of the upload and download streams.
//
// Layout (little-endian):
//
//	op u8 | session len u16 | session | result len u16 | result | data len u32 | data
type Frame struct {
	Op        FrameOp
	SessionID string
	ResultID  string
	Data      []byte
}

// Encode serializes the frame to w
func (f *Frame) Encode(w io.Writer) error {
	if len(f.SessionID) > 0xFFFF || len(f.ResultID) > 0xFFFF {
		return fmt.Errorf("frame identifier too long")
	}
	if len(f.Data) > MaxFrameData {
		return fmt.Errorf("frame data too large: %d bytes", len(f.Data))
	}

	if err := binary.Write(w, binary.LittleEndian, f.Op); err != nil {
		return err
	}
	if err := writeString(w, f.SessionID); err != nil {
		return err
	}
	if err := writeString(w, f.ResultID); err != nil {
		return err
	}

	if err := binary.Write(w, binary.LittleEndian, uint32(len(f.Data))); err != nil {
		return err
	}
	if _, err := w.Write(f.Data); err != nil {
		return err
	}

	return nil
}

// ReadFrame reads the next frame. It returns io.EOF only on a clean boundary;
// a frame cut in the middle yields io.ErrUnexpectedEOF.
func ReadFrame(r io.Reader) (*Frame, error) {
	var op FrameOp
	if err := binary.Read(r, binary.LittleEndian, &op); err != nil {
		return nil, err
	}

	sessionID, err := readString(r)
	if err != nil {
		return nil, noEOF(err)
	}
	resultID, err := readString(r)
	if err != nil {
		return nil, noEOF(err)
	}

	var dataLen uint32
	if err := binary.Read(r, binary.LittleEndian, &dataLen); err != nil {
		return nil, noEOF(err)
	}
	if dataLen > MaxFrameData {
		return nil, fmt.Errorf("frame data too large: %d bytes", dataLen)
	}

	data := make([]byte, dataLen)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, noEOF(err)
	}

	return &Frame{
		Op:        op,
		SessionID: sessionID,
		ResultID:  resultID,
		Data:      data,
	}, nil
}

func writeString(w io.Writer, s string) error {
	if err := binary.Write(w, binary.LittleEndian, uint16(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func readString(r io.Reader) (string, error) {
	var n uint16
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func noEOF(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}
