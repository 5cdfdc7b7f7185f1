package wire

import "github.com/behrlich/go-orchd/internal/fifo"

// Encode serializes a submission.
func (m *Submit) Encode() ([]byte, error) {
	if len(m.CommandLine) == 0 || len(m.CommandLine) > MaxCommandLine {
		return nil, ErrCommandTooLong
	}
	buf := make([]byte, submitHeaderLen+len(m.CommandLine))
	if m.Pipeline {
		buf[0] = KindSubmitTask
	} else {
		buf[0] = KindSubmitProgram
	}
	put32(buf[1:5], uint32(m.PID))
	putStamp(buf[5:21], m.Sent)
	put32(buf[21:25], m.ExpectedMS)
	copy(buf[submitHeaderLen:], m.CommandLine)
	return buf, nil
}

func decodeSubmit(payload []byte) (*Submit, error) {
	if len(payload) <= submitHeaderLen {
		return nil, errBadLength("submit", len(payload))
	}
	return &Submit{
		Pipeline:    payload[0] == KindSubmitTask,
		PID:         int32(get32(payload[1:5])),
		Sent:        getStamp(payload[5:21]),
		ExpectedMS:  get32(payload[21:25]),
		CommandLine: string(payload[submitHeaderLen:]),
	}, nil
}

// Encode serializes a completion notification.
func (m *TaskDone) Encode() []byte {
	buf := make([]byte, taskDoneLen)
	buf[0] = KindTaskDone
	put32(buf[1:5], m.Slot)
	putStamp(buf[5:21], m.Ended)
	buf[21] = bool2byte(m.IsStatus)
	buf[22] = m.ErrBit
	return buf
}

func decodeTaskDone(payload []byte) (*TaskDone, error) {
	if len(payload) != taskDoneLen {
		return nil, errBadLength("task-done", len(payload))
	}
	return &TaskDone{
		Slot:     get32(payload[1:5]),
		Ended:    getStamp(payload[5:21]),
		IsStatus: payload[21] != 0,
		ErrBit:   payload[22],
	}, nil
}

// Encode serializes a status request.
func (m *StatusRequest) Encode() []byte {
	buf := make([]byte, statusRequestLen)
	buf[0] = KindStatusRequest
	put32(buf[1:5], uint32(m.PID))
	return buf
}

func decodeStatusRequest(payload []byte) (*StatusRequest, error) {
	if len(payload) != statusRequestLen {
		return nil, errBadLength("status-request", len(payload))
	}
	return &StatusRequest{PID: int32(get32(payload[1:5]))}, nil
}

// DecodeRequest decodes a client-to-server payload into one of *Submit,
// *TaskDone or *StatusRequest.
func DecodeRequest(payload []byte) (any, error) {
	if len(payload) == 0 {
		return nil, errBadLength("request", 0)
	}
	switch payload[0] {
	case KindSubmitProgram, KindSubmitTask:
		return decodeSubmit(payload)
	case KindTaskDone:
		return decodeTaskDone(payload)
	case KindStatusRequest:
		return decodeStatusRequest(payload)
	}
	return nil, errBadLength("request kind", len(payload))
}

// Encode serializes a refusal.
func (m *ErrorReply) Encode() []byte {
	buf := make([]byte, 1+len(m.Msg))
	buf[0] = KindError
	copy(buf[1:], m.Msg)
	return buf
}

func decodeErrorReply(payload []byte) (*ErrorReply, error) {
	if len(payload) < 2 {
		return nil, errBadLength("error", len(payload))
	}
	return &ErrorReply{Msg: string(payload[1:])}, nil
}

// Encode serializes a submission acknowledgment.
func (m *TaskIDReply) Encode() []byte {
	buf := make([]byte, taskIDLen)
	buf[0] = KindTaskID
	put32(buf[1:5], m.ID)
	return buf
}

func decodeTaskIDReply(payload []byte) (*TaskIDReply, error) {
	if len(payload) != taskIDLen {
		return nil, errBadLength("task-id", len(payload))
	}
	return &TaskIDReply{ID: get32(payload[1:5])}, nil
}

// Encode serializes one status line.
func (m *StatusLine) Encode() ([]byte, error) {
	if statusLineHeaderLen+len(m.CommandLine) > fifo.MaxPayload {
		return nil, ErrCommandTooLong
	}
	buf := make([]byte, statusLineHeaderLen+len(m.CommandLine))
	buf[0] = KindStatusLine
	buf[1] = uint8(m.State)
	put32(buf[2:6], m.ID)
	buf[6] = m.ErrBit
	putFloat(buf[7:15], m.PipeInUS)
	putFloat(buf[15:23], m.WaitingUS)
	putFloat(buf[23:31], m.ExecutingUS)
	putFloat(buf[31:39], m.PipeOutUS)
	copy(buf[statusLineHeaderLen:], m.CommandLine)
	return buf, nil
}

func decodeStatusLine(payload []byte) (*StatusLine, error) {
	if len(payload) <= statusLineHeaderLen {
		return nil, errBadLength("status-line", len(payload))
	}
	return &StatusLine{
		State:       State(payload[1]),
		ID:          get32(payload[2:6]),
		ErrBit:      payload[6],
		PipeInUS:    getFloat(payload[7:15]),
		WaitingUS:   getFloat(payload[15:23]),
		ExecutingUS: getFloat(payload[23:31]),
		PipeOutUS:   getFloat(payload[31:39]),
		CommandLine: string(payload[statusLineHeaderLen:]),
	}, nil
}

// DecodeReply decodes a server-to-client payload into one of *ErrorReply,
// *TaskIDReply or *StatusLine.
func DecodeReply(payload []byte) (any, error) {
	if len(payload) == 0 {
		return nil, errBadLength("reply", 0)
	}
	switch payload[0] {
	case KindError:
		return decodeErrorReply(payload)
	case KindTaskID:
		return decodeTaskIDReply(payload)
	case KindStatusLine:
		return decodeStatusLine(payload)
	}
	return nil, errBadLength("reply kind", len(payload))
}
