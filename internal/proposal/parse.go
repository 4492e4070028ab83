package proposal

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hailam/chesstuner/internal/botconfig"
	"github.com/hailam/chesstuner/internal/state"
)

// ErrNoBlock means the advisory answer had no fenced structured block.
var ErrNoBlock = errors.New("no fenced json block in advisory answer")

var fence = regexp.MustCompile("(?s)```(?:json|yaml|yml)[ \t]*\r?\n(.*?)```")

// Answer is the validated content of an advisory response.
type Answer struct {
	Summary         string
	Changes         []state.ConfigChange
	ProposedConfig  botconfig.Override
	CodeSuggestions []string
	NextPriorities  []string
	Warnings        []string
}

type rawChange struct {
	Path       string          `json:"path"`
	NewValue   json.RawMessage `json:"newValue"`
	ScoreDelta float64         `json:"scoreDelta"`
	Reasoning  string          `json:"reasoning"`
}

type rawAnswer struct {
	Summary         string          `json:"summary"`
	Changes         []rawChange     `json:"changes"`
	ProposedConfig  json.RawMessage `json:"proposedConfig"`
	CodeSuggestions []string        `json:"codeSuggestions"`
	NextPriorities  []string        `json:"nextPriorities"`
	Warnings        []string        `json:"warnings"`
}

// ParseResponse extracts and validates the structured block of text against
// best. Changes with unknown paths or ill-shaped values are dropped with a
// warning; a proposed configuration that does not validate is an error.
func ParseResponse(text string, best botconfig.Config) (Answer, error) {
	match := fence.FindStringSubmatch(text)
	if match == nil {
		return Answer{}, ErrNoBlock
	}

	// yaml.v3 reads both the json and yaml forms; json tags then do the typing.
	var generic any
	if err := yaml.Unmarshal([]byte(match[1]), &generic); err != nil {
		return Answer{}, fmt.Errorf("parse advisory block: %w", err)
	}
	if _, ok := generic.(map[string]any); !ok {
		return Answer{}, fmt.Errorf("advisory block is not an object")
	}
	data, err := json.Marshal(generic)
	if err != nil {
		return Answer{}, fmt.Errorf("normalize advisory block: %w", err)
	}
	var raw rawAnswer
	if err := json.Unmarshal(data, &raw); err != nil {
		return Answer{}, fmt.Errorf("decode advisory block: %w", err)
	}

	ans := Answer{
		Summary:         strings.TrimSpace(raw.Summary),
		CodeSuggestions: raw.CodeSuggestions,
		NextPriorities:  raw.NextPriorities,
		Warnings:        raw.Warnings,
	}

	var fromChanges botconfig.Override
	for _, rc := range raw.Changes {
		c, err := validateChange(rc, best)
		if err != nil {
			ans.Warnings = append(ans.Warnings, fmt.Sprintf("ignored proposed change: %v", err))
			continue
		}
		ans.Changes = append(ans.Changes, c)
		fromChanges = botconfig.Layer(fromChanges, c.Path.Override(c.NewValue))
	}

	ans.ProposedConfig = fromChanges
	if len(raw.ProposedConfig) > 0 && string(raw.ProposedConfig) != "null" {
		ov, err := botconfig.DecodeOverride(raw.ProposedConfig, best)
		if err != nil {
			return Answer{}, fmt.Errorf("decode proposedConfig: %w", err)
		}
		ans.ProposedConfig = ov
	}
	if err := botconfig.Merge(best, ans.ProposedConfig).Validate(); err != nil {
		return Answer{}, fmt.Errorf("proposed configuration is invalid: %w", err)
	}
	return ans, nil
}

func validateChange(rc rawChange, best botconfig.Config) (state.ConfigChange, error) {
	p, err := botconfig.ParsePath(rc.Path)
	if err != nil {
		return state.ConfigChange{}, err
	}
	if len(rc.NewValue) == 0 {
		return state.ConfigChange{}, fmt.Errorf("%s has no newValue", p)
	}
	v, err := p.Decode(rc.NewValue, best)
	if err != nil {
		return state.ConfigChange{}, err
	}
	return state.ConfigChange{
		Path:       p,
		OldValue:   p.Get(best),
		NewValue:   v,
		ScoreDelta: rc.ScoreDelta,
		Rationale:  strings.TrimSpace(rc.Reasoning),
	}, nil
}
