package optimizer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/Mehul-Gupta-SMH/PromptProp/internal/domain"
	"github.com/Mehul-Gupta-SMH/PromptProp/internal/ports"
)

// Jury fallbacks.
const (
	JuryParseErrorReasoning = "Error parsing jury response."
	JuryMissingReasoning    = "No reasoning provided."
	noneText                = "None"
)

// JuryStage scores one candidate output with every member of a panel.
type JuryStage struct {
	gen ports.Generator
	// limit caps concurrent member calls per row. Zero means one goroutine
	// per member.
	limit int
}

// NewJuryStage creates a JuryStage. A positive limit bounds the number of
// member calls in flight for one row.
func NewJuryStage(gen ports.Generator, limit int) *JuryStage {
	return &JuryStage{gen: gen, limit: limit}
}

// Evaluate dispatches every member concurrently and waits for all of them.
// Verdicts are returned in panel order. The first generation error cancels
// the remaining calls and is returned; malformed member output degrades to
// a zero score instead.
func (s *JuryStage) Evaluate(
	ctx context.Context,
	members []domain.JuryMemberConfig,
	task string,
	row domain.DatasetRow,
	output string,
) ([]domain.JuryVerdict, error) {
	verdicts := make([]domain.JuryVerdict, len(members))
	userMsg := JuryMessage(task, row, output)

	g, gctx := errgroup.WithContext(ctx)
	if s.limit > 0 {
		g.SetLimit(s.limit)
	}

	for i, member := range members {
		g.Go(func() error {
			resp, err := s.gen.Generate(gctx, ports.GenerateRequest{
				Model: domain.ResolveModelID(member.Model),
				Messages: []ports.Message{
					{Role: ports.RoleSystem, Content: juryPrompt},
					{Role: ports.RoleUser, Content: userMsg},
				},
				Settings:       juryMemberSettings(member.Settings),
				ResponseFormat: ports.ResponseFormatJSON,
			})
			if err != nil {
				return err
			}

			// Each goroutine owns index i.
			verdicts[i] = parseVerdict(member, resp)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return verdicts, nil
}

// ReducePanel returns the mean score of verdicts (0 for an empty panel) and
// the "[name]: reasoning" lines joined in panel order.
func ReducePanel(verdicts []domain.JuryVerdict) (float64, string) {
	scores := make([]float64, len(verdicts))
	lines := make([]string, len(verdicts))
	for i, v := range verdicts {
		scores[i] = v.Score
		lines[i] = fmt.Sprintf("[%s]: %s", v.JuryName, v.Reasoning)
	}
	return domain.MeanScore(scores), strings.Join(lines, "\n")
}

// JuryMessage renders the user message sent to every jury member.
func JuryMessage(task string, row domain.DatasetRow, output string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "TASK CONTEXT: %s\n", task)
	fmt.Fprintf(&b, "USER QUERY: %s\n", row.Query)
	fmt.Fprintf(&b, "EXPECTED OUTPUT: %s\n", row.ExpectedOutput)
	fmt.Fprintf(&b, "SOFT NEGATIVES: %s\n", orNone(row.SoftNegatives))
	fmt.Fprintf(&b, "HARD NEGATIVES: %s\n\n", orNone(row.HardNegatives))
	fmt.Fprintf(&b, "AI OUTPUT TO EVALUATE:\n\"\"\"\n%s\n\"\"\"\n\n", output)
	b.WriteString(`Return a JSON object with exactly two keys: "score" (number from 0 to 100) ` +
		`and "reasoning" (string with detailed critique). ` +
		"Be strict. If it hits a hard negative, score below 40.")
	return b.String()
}

func orNone(s string) string {
	if s == "" {
		return noneText
	}
	return s
}

// juryMemberSettings defaults the temperature to 0 and drops the token cap.
func juryMemberSettings(s *domain.ModelSettings) *domain.ModelSettings {
	out := s.WithTemperatureDefault(0)
	out.MaxTokens = nil
	return &out
}

type juryReply struct {
	Score     *juryScore `json:"score"`
	Reasoning *string    `json:"reasoning"`
}

// juryScore accepts a JSON number or a string holding one.
type juryScore float64

func (s *juryScore) UnmarshalJSON(b []byte) error {
	text := string(b)
	if len(b) > 0 && b[0] == '"' {
		if err := json.Unmarshal(b, &text); err != nil {
			return err
		}
		text = strings.TrimSpace(text)
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return errors.New("score is not a finite number")
	}
	*s = juryScore(f)
	return nil
}

func parseVerdict(member domain.JuryMemberConfig, resp ports.GenerateResponse) domain.JuryVerdict {
	verdict := domain.JuryVerdict{
		JuryMemberID: member.ID,
		JuryName:     member.Name,
	}

	var reply juryReply
	raw := extractJSON(resp.Content)
	if raw == "" || json.Unmarshal([]byte(raw), &reply) != nil || reply.Score == nil {
		verdict.Reasoning = JuryParseErrorReasoning
		verdict.Degraded = true
		return verdict
	}

	verdict.Score = float64(*reply.Score)
	verdict.Reasoning = JuryMissingReasoning
	if reply.Reasoning != nil {
		verdict.Reasoning = *reply.Reasoning
	}
	verdict.Usage = resp.Usage
	return verdict
}
