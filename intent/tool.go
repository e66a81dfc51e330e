package intent

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/tbxark/slotflow/structured"
	"github.com/tbxark/slotflow/types"
)

const (
	classifyToolName        = "classify_intent"
	classifyToolDescription = "Pick the workflow the user wants to start from the allowed intent list."
)

// DefaultClassifySystemPromptTemplate is the system prompt used by
// ToolBasedClassifier. It may contain a single "%s" placeholder for the tool name.
const DefaultClassifySystemPromptTemplate = `
You are the intent classifier of a workflow assistant.

Decide which workflow from the allowed intent list the user wants to start.

Rules:
- Only choose an intent from the allowed list shown in the context.
- If the message is small talk, a greeting, or chatter unrelated to any workflow, return "general_chat".
- If the message is about work but does not match any allowed workflow, return "unknown".
- Never guess: when in doubt between a workflow and "unknown", return "unknown".

Call the '%s' tool with the result.
`

type classifyOutput struct {
	Intent     string  `json:"intent" jsonschema:"required,description=The chosen intent id from the allowed list, or unknown, or general_chat"`
	Confidence float64 `json:"confidence" jsonschema:"description=Confidence between 0 and 1"`
}

// ToolBasedClassifier asks a tool-calling chat model to classify the turn.
// Any model failure or out-of-list answer fails open to unknown.
type ToolBasedClassifier struct {
	chain *structured.Chain[*Request, classifyOutput]
}

func NewToolBasedClassifier(chatModel model.ToolCallingChatModel) (*ToolBasedClassifier, error) {
	chain, err := structured.NewChain[*Request, classifyOutput](
		chatModel,
		buildClassifyPrompt,
		classifyToolName,
		classifyToolDescription,
	)
	if err != nil {
		return nil, err
	}
	return &ToolBasedClassifier{chain: chain}, nil
}

func (c *ToolBasedClassifier) Classify(ctx context.Context, req *Request) (*Result, error) {
	result, err := c.chain.Invoke(ctx, req)
	if err != nil {
		return Unknown(), nil
	}
	got := types.Intent(result.Intent)
	if got == types.IntentGeneralChat {
		return &Result{Intent: got, Confidence: result.Confidence}, nil
	}
	for _, allowed := range req.Allowed {
		if got == allowed {
			return &Result{Intent: got, Confidence: result.Confidence}, nil
		}
	}
	return Unknown(), nil
}

func buildClassifyPrompt(ctx context.Context, req *Request) ([]*schema.Message, error) {
	body, err := types.FormatTurnContext(&types.TurnContext{
		Text:    req.Text,
		Allowed: req.Allowed,
	})
	if err != nil {
		return nil, fmt.Errorf("format turn context: %w", err)
	}
	return []*schema.Message{
		schema.SystemMessage(fmt.Sprintf(DefaultClassifySystemPromptTemplate, classifyToolName)),
		schema.UserMessage(body),
	}, nil
}
