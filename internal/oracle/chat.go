package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xiaot623/gogo/uxrunner/internal/adapter/llm"
	"github.com/xiaot623/gogo/uxrunner/internal/domain"
)

// Oracle picks the next action for a run and analyses page context.
type Oracle interface {
	Decide(ctx context.Context, req DecisionRequest) (*Decision, error)
	Analyze(ctx context.Context, req AnalysisRequest) ([]RawFinding, error)
}

// DecisionRequest carries everything the oracle sees for one step.
type DecisionRequest struct {
	Screenshot []byte
	Tasks      []domain.Task
	Persona    domain.Persona
	Progress   int
	History    *History
}

// AnalysisRequest asks for findings in one specialty.
type AnalysisRequest struct {
	Specialty    string
	Instructions string
	Persona      domain.Persona
	Tasks        []domain.Task
	Context      *domain.SemanticContext
	Events       []domain.Event
	Citations    []domain.Citation
	Screenshot   []byte
}

// ChatOracle implements Oracle over a chat completion client.
type ChatOracle struct {
	client      llm.LLMClient
	model       string
	temperature float64
	window      int
	maxContext  int
}

var _ Oracle = (*ChatOracle)(nil)

// ChatOption configures a ChatOracle.
type ChatOption func(*ChatOracle)

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) ChatOption {
	return func(o *ChatOracle) { o.temperature = t }
}

// WithHistoryWindow limits how many history turns are replayed per decision.
func WithHistoryWindow(n int) ChatOption {
	return func(o *ChatOracle) {
		if n > 0 {
			o.window = n
		}
	}
}

// WithMaxContextBytes caps the serialized semantic context sent for analysis.
func WithMaxContextBytes(n int) ChatOption {
	return func(o *ChatOracle) {
		if n > 0 {
			o.maxContext = n
		}
	}
}

// NewChatOracle creates an oracle that talks to model through client.
func NewChatOracle(client llm.LLMClient, model string, opts ...ChatOption) *ChatOracle {
	o := &ChatOracle{
		client:      client,
		model:       model,
		temperature: 0.2,
		window:      24,
		maxContext:  60000,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Decide asks for the next action given the current screen.
func (o *ChatOracle) Decide(ctx context.Context, req DecisionRequest) (*Decision, error) {
	messages := []llm.ChatMessage{{Role: "system", Content: decisionPrompt(req.Persona, req.Tasks)}}
	messages = append(messages, Messages(req.History.Window(o.window))...)
	messages = append(messages, llm.ChatMessage{
		Role:    "user",
		Content: fmt.Sprintf("Here is the current screen. Overall progress is %d%%. Choose your next action.", req.Progress),
		Images:  imagesOf(req.Screenshot),
	})

	temp := o.temperature
	resp, err := o.client.CreateChatCompletion(ctx, &llm.ChatCompletionRequest{
		Model:       o.model,
		Messages:    messages,
		Temperature: &temp,
		Tools:       decisionTools(),
		ToolChoice:  "auto",
	})
	if err != nil {
		return nil, fmt.Errorf("decision request: %w", err)
	}
	return Decode(resp)
}

// Analyze asks for findings in one specialty and returns them undecorated.
func (o *ChatOracle) Analyze(ctx context.Context, req AnalysisRequest) ([]RawFinding, error) {
	user, err := o.analysisInput(req)
	if err != nil {
		return nil, err
	}
	temp := o.temperature
	resp, err := o.client.CreateChatCompletion(ctx, &llm.ChatCompletionRequest{
		Model: o.model,
		Messages: []llm.ChatMessage{
			{Role: "system", Content: req.Instructions},
			{Role: "user", Content: user, Images: imagesOf(req.Screenshot)},
		},
		Temperature:    &temp,
		ResponseFormat: map[string]interface{}{"type": "json_object"},
	})
	if err != nil {
		return nil, fmt.Errorf("%s analysis request: %w", req.Specialty, err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message == nil {
		return nil, ErrEmptyResponse
	}
	return ParseFindings(resp.Choices[0].Message.Content)
}

func (o *ChatOracle) analysisInput(req AnalysisRequest) (string, error) {
	var b strings.Builder
	b.WriteString("Persona:\n")
	b.WriteString(describePersona(req.Persona))
	b.WriteString("\nTasks:\n")
	b.WriteString(listTasks(req.Tasks))

	if len(req.Events) > 0 {
		b.WriteString("\nObserved interactions:\n")
		for _, e := range req.Events {
			fmt.Fprintf(&b, "- [%.1fs] %s: %s", float64(e.Ts)/1000, e.Type, e.Label)
			if e.Detail != "" {
				fmt.Fprintf(&b, " (%s)", e.Detail)
			}
			b.WriteString("\n")
		}
	}

	if !req.Context.Empty() {
		raw, err := json.Marshal(req.Context)
		if err != nil {
			return "", fmt.Errorf("marshal context: %w", err)
		}
		if len(raw) > o.maxContext {
			raw = raw[:o.maxContext]
		}
		b.WriteString("\nPage context (JSON, may be truncated):\n")
		b.Write(raw)
		b.WriteString("\n")
	}

	if len(req.Citations) > 0 {
		b.WriteString("\nRelevant guidance:\n")
		for _, c := range req.Citations {
			fmt.Fprintf(&b, "- %s (%s)\n", c.Title, c.Source)
		}
	}

	b.WriteString(`
Respond with a JSON object {"findings": [...]}. Each finding has title, severity
(Blocker|High|Med|Low), confidence (0-100), category (navigation|copy|affordance_feedback|
forms|hierarchy|accessibility|conversion|other), description, suggestedFix, affectedTasks
(task ids), and optionally elementSelector and boundingBox {x,y,width,height}.`)
	return b.String(), nil
}

// ParseFindings extracts the findings list from an analysis reply. It accepts a bare
// array, an object with a findings key, and either wrapped in a code fence.
func ParseFindings(content string) ([]RawFinding, error) {
	body := stripFence(content)
	if body == "" {
		return nil, ErrEmptyResponse
	}
	if strings.HasPrefix(body, "[") {
		var list []RawFinding
		if err := json.Unmarshal([]byte(body), &list); err != nil {
			return nil, fmt.Errorf("parse findings: %w", err)
		}
		return list, nil
	}
	var wrapped struct {
		Findings []RawFinding `json:"findings"`
	}
	if err := json.Unmarshal([]byte(body), &wrapped); err != nil {
		return nil, fmt.Errorf("parse findings: %w", err)
	}
	return wrapped.Findings, nil
}

func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func imagesOf(screenshot []byte) [][]byte {
	if len(screenshot) == 0 {
		return nil
	}
	return [][]byte{screenshot}
}

func decisionPrompt(p domain.Persona, tasks []domain.Task) string {
	var b strings.Builder
	b.WriteString("You are testing a user interface on behalf of the persona below. ")
	b.WriteString("Work through the tasks in order by clicking on the screenshot you are given. ")
	b.WriteString("Coordinates are pixels from the top-left corner of the screenshot.\n\n")
	b.WriteString("Persona:\n")
	b.WriteString(describePersona(p))
	b.WriteString("\nTasks:\n")
	b.WriteString(listTasks(tasks))
	b.WriteString(`
Call click with x, y and a short rationale for every step. If a click had no visible
effect, try a different element. When every task is done, or you cannot make further
progress, call submit_findings with the usability problems this persona ran into.
Report only problems that affect this persona's goals and constraints.`)
	return b.String()
}

func describePersona(p domain.Persona) string {
	var b strings.Builder
	fmt.Fprintf(&b, "- Name: %s\n", p.Name)
	if p.Role != "" {
		fmt.Fprintf(&b, "- Role: %s\n", p.Role)
	}
	if p.Description != "" {
		fmt.Fprintf(&b, "- About: %s\n", p.Description)
	}
	if len(p.Goals) > 0 {
		fmt.Fprintf(&b, "- Goals: %s\n", strings.Join(p.Goals, "; "))
	}
	if len(p.Constraints) > 0 {
		fmt.Fprintf(&b, "- Constraints: %s\n", strings.Join(p.Constraints, "; "))
	}
	if len(p.AccessibilityNeeds) > 0 {
		fmt.Fprintf(&b, "- Accessibility needs: %s\n", strings.Join(p.AccessibilityNeeds, "; "))
	} else {
		b.WriteString("- Accessibility needs: none stated\n")
	}
	return b.String()
}

func listTasks(tasks []domain.Task) string {
	var b strings.Builder
	for i, t := range tasks {
		fmt.Fprintf(&b, "%d. [%s] %s\n", i+1, t.ID, t.Description)
	}
	return b.String()
}

func decisionTools() []llm.Tool {
	finding := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"title":           map[string]interface{}{"type": "string"},
			"severity":        map[string]interface{}{"type": "string", "enum": []string{"Blocker", "High", "Med", "Low"}},
			"confidence":      map[string]interface{}{"type": "number", "description": "0-100"},
			"category":        map[string]interface{}{"type": "string"},
			"description":     map[string]interface{}{"type": "string"},
			"suggestedFix":    map[string]interface{}{"type": "string"},
			"affectedTasks":   map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}},
			"elementSelector": map[string]interface{}{"type": "string"},
		},
		"required": []string{"title", "severity", "description"},
	}
	return []llm.Tool{
		{
			Type: "function",
			Function: llm.ToolFunction{
				Name:        ToolClick,
				Description: "Click at a point on the current screenshot. Use rationale \"Done\" when all tasks are complete.",
				Parameters: map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"x":         map[string]interface{}{"type": "number"},
						"y":         map[string]interface{}{"type": "number"},
						"rationale": map[string]interface{}{"type": "string"},
					},
					"required": []string{"x", "y", "rationale"},
				},
			},
		},
		{
			Type: "function",
			Function: llm.ToolFunction{
				Name:        ToolSubmitFindings,
				Description: "Finish the session and report the usability findings observed.",
				Parameters: map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"findings":                 map[string]interface{}{"type": "array", "items": finding},
						"generalFeedback":          map[string]interface{}{"type": "string"},
						"taskCompletionPercentage": map[string]interface{}{"type": "number"},
						"nextSteps":                map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}},
					},
					"required": []string{"findings", "generalFeedback", "taskCompletionPercentage"},
				},
			},
		},
	}
}
