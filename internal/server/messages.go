package server

import (
	"bytes"
	"encoding/json"
	"fmt"

	"atmoscope/internal/orchestrator"
)

// computeParams is the body of a compute message. doretest travels as "y"/"n"
// the way the simulator takes it.
type computeParams struct {
	Gas1     string `json:"gas1"`
	Gas2     string `json:"gas2"`
	Gas3     string `json:"gas3"`
	Mixt1    string `json:"mixt1"`
	Mixt2    string `json:"mixt2"`
	Thirt1   string `json:"thirt1"`
	Thirt2   string `json:"thirt2"`
	Ticks    string `json:"ticks"`
	DoRetest string `json:"doretest"`
}

// decodeMessage splits ["type", body] into its parts. body may be absent.
func decodeMessage(data []byte) (string, json.RawMessage, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return "", nil, fmt.Errorf("message is not a JSON array: %w", err)
	}
	if len(parts) == 0 {
		return "", nil, fmt.Errorf("message is empty")
	}
	var kind string
	if err := json.Unmarshal(parts[0], &kind); err != nil {
		return "", nil, fmt.Errorf("message type is not a string")
	}
	if len(parts) == 1 {
		return kind, nil, nil
	}
	return kind, parts[1], nil
}

func decodeCompute(body json.RawMessage) (orchestrator.ComputeRequest, error) {
	var p computeParams
	if len(body) > 0 && !bytes.Equal(bytes.TrimSpace(body), []byte("null")) {
		dec := json.NewDecoder(bytes.NewReader(body))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&p); err != nil {
			return orchestrator.ComputeRequest{}, fmt.Errorf("compute: %w", err)
		}
	}

	retest, err := orchestrator.ParseYesNo(p.DoRetest)
	if err != nil {
		return orchestrator.ComputeRequest{}, fmt.Errorf("compute: %w", err)
	}
	return orchestrator.ComputeRequest{
		Gas1:     p.Gas1,
		Gas2:     p.Gas2,
		Gas3:     p.Gas3,
		Mixt1:    p.Mixt1,
		Mixt2:    p.Mixt2,
		Thirt1:   p.Thirt1,
		Thirt2:   p.Thirt2,
		Ticks:    p.Ticks,
		DoRetest: retest,
	}, nil
}
