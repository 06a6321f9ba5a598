package eventbook

import (
	"errors"
	"fmt"
	"sort"

	jsoniter "github.com/json-iterator/go"
)

// jsonAPI sorts map keys and keeps full float precision, so encoded payloads are stable.
var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

type matrixDTO struct {
	Rows    []string    `json:"rows"`
	Columns []columnDTO `json:"columns"`
}

type columnDTO struct {
	Name   string  `json:"name"`
	Values []Value `json:"values"`
}

type logEntryDTO struct {
	Action  Action         `json:"action"`
	Payload *LabeledMatrix `json:"payload"`
}

// MarshalJSON encodes the matrix as its row labels plus an ordered list of columns.
func (m *LabeledMatrix) MarshalJSON() ([]byte, error) {
	dto := matrixDTO{
		Rows:    m.Rows(),
		Columns: make([]columnDTO, len(m.columns)),
	}

	if dto.Rows == nil {
		dto.Rows = []string{}
	}

	for c, name := range m.columns {
		dto.Columns[c] = columnDTO{Name: name, Values: m.cells[c]}
	}

	return jsonAPI.Marshal(dto)
}

// UnmarshalJSON decodes a matrix and rejects duplicate labels or ragged columns.
func (m *LabeledMatrix) UnmarshalJSON(data []byte) error {
	var dto matrixDTO
	if err := jsonAPI.Unmarshal(data, &dto); err != nil {
		return errors.Join(ErrCodec, err)
	}

	cols := make([]Column, len(dto.Columns))
	for i, col := range dto.Columns {
		cols[i] = Column{Name: col.Name, Values: col.Values}
	}

	decoded, err := FromLabeledColumns(dto.Rows, cols...)
	if err != nil {
		return errors.Join(ErrCodec, err)
	}

	*m = *decoded

	return nil
}

// EncodeMatrix encodes a matrix to JSON.
func EncodeMatrix(m *LabeledMatrix) ([]byte, error) {
	if err := m.validate(); err != nil {
		return nil, err
	}

	data, err := jsonAPI.Marshal(m)
	if err != nil {
		return nil, errors.Join(ErrCodec, err)
	}

	return data, nil
}

// DecodeMatrix decodes a matrix from JSON.
func DecodeMatrix(data []byte) (*LabeledMatrix, error) {
	m := NewLabeledMatrix()
	if err := jsonAPI.Unmarshal(data, m); err != nil {
		return nil, errors.Join(ErrCodec, err)
	}

	return m, nil
}

// EncodeEventLog encodes the log as a JSON object keyed by TimestampKey.
func EncodeEventLog(log EventLog) ([]byte, error) {
	entries := make(map[string]logEntryDTO, log.Len())
	for _, record := range log.records {
		entries[TimestampKey(record.Timestamp)] = logEntryDTO{Action: record.Action, Payload: record.Payload}
	}

	data, err := jsonAPI.Marshal(entries)
	if err != nil {
		return nil, errors.Join(ErrCodec, err)
	}

	return data, nil
}

// DecodeEventLog decodes a log written by EncodeEventLog. Records come back in timestamp order.
func DecodeEventLog(data []byte) (EventLog, error) {
	var entries map[string]logEntryDTO
	if err := jsonAPI.Unmarshal(data, &entries); err != nil {
		return EventLog{}, errors.Join(ErrCodec, err)
	}

	keys := make([]string, 0, len(entries))
	for key := range entries {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var log EventLog
	for _, key := range keys {
		ts, err := ParseTimestampKey(key)
		if err != nil {
			return EventLog{}, err
		}

		entry := entries[key]
		if entry.Payload == nil {
			return EventLog{}, errors.Join(ErrCodec, ErrNilPayload, fmt.Errorf("event %s", key))
		}

		log.Append(EventRecord{Timestamp: ts, Action: entry.Action, Payload: entry.Payload})
	}

	return log, nil
}
