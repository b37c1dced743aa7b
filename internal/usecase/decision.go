package usecase

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"whistle-agent/internal/domain"
)

const decisionSchemaName = "judge_decision"

var (
	errDecisionParse  = errors.New("decision is not valid JSON")
	errDecisionSchema = errors.New("decision does not match schema")
)

var (
	oracleSchemaJSON = decisionSchema(true)
	validationSchema = mustSchema(decisionSchema(false))
)

// OracleDecisionSchema is the strict JSON schema the oracle is asked to
// answer with.
func OracleDecisionSchema() json.RawMessage {
	return oracleSchemaJSON
}

// decisionSchema builds the JudgeDecision schema. The strict form requires
// every field as structured-output providers demand; the validation form
// leaves severity_label optional and bounds confidence.
func decisionSchema(strict bool) json.RawMessage {
	str := map[string]any{"type": "string"}
	strList := map[string]any{"type": "array", "items": str}

	confidence := map[string]any{"type": "number"}
	if !strict {
		confidence["minimum"] = 0
		confidence["maximum"] = 1
	}

	link := map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"doc_id":   str,
			"section":  str,
			"sentence": str,
		},
		"required": []string{"doc_id", "section", "sentence"},
	}

	required := []string{
		"violation_type", "severity", "recommended_actions", "rationale",
		"policy_links", "confidence", "needs_more_evidence",
	}
	if strict {
		required = append(required, "severity_label")
	}

	schema := map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"violation_type":      strList,
			"severity":            map[string]any{"type": "integer", "enum": []int{0, 1, 2, 3}},
			"severity_label":      str,
			"recommended_actions": strList,
			"rationale":           str,
			"policy_links":        map[string]any{"type": "array", "items": link},
			"confidence":          confidence,
			"needs_more_evidence": map[string]any{"type": "boolean"},
		},
		"required": required,
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		panic(fmt.Sprintf("usecase: marshal decision schema: %v", err))
	}
	return raw
}

func mustSchema(raw json.RawMessage) *gojsonschema.Schema {
	s, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		panic(fmt.Sprintf("usecase: compile decision schema: %v", err))
	}
	return s
}

// parseDecision decodes and validates oracle output. The returned error
// wraps errDecisionParse or errDecisionSchema.
func parseDecision(raw string) (domain.JudgeDecision, error) {
	body := []byte(stripCodeFence(raw))
	if !json.Valid(body) {
		return domain.JudgeDecision{}, errDecisionParse
	}

	result, err := validationSchema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return domain.JudgeDecision{}, fmt.Errorf("%w: %v", errDecisionParse, err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return domain.JudgeDecision{}, fmt.Errorf("%w: %s", errDecisionSchema, strings.Join(msgs, "; "))
	}

	var d domain.JudgeDecision
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&d); err != nil {
		return domain.JudgeDecision{}, fmt.Errorf("%w: %v", errDecisionSchema, err)
	}
	return d, nil
}

// stripCodeFence removes a surrounding ``` or ```json fence.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 && isFenceTag(s[:nl]) {
		s = s[nl+1:]
	} else {
		s = strings.TrimPrefix(s, "json")
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func isFenceTag(s string) bool {
	for _, r := range strings.TrimSpace(s) {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') {
			return false
		}
	}
	return true
}
