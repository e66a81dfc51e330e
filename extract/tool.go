package extract

import (
	"context"
	"fmt"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	jsonpatch "github.com/evanphx/json-patch/v5"

	"github.com/tbxark/slotflow/structured"
	"github.com/tbxark/slotflow/types"
)

const (
	extractToolName        = "update_slots"
	extractToolDescription = "Emit RFC 6902 patch operations writing raw slot values the user stated in this turn."
)

// DefaultExtractSystemPromptTemplate is the system prompt used by
// ToolBasedExtractor. It may contain a single "%s" placeholder for the tool name.
const DefaultExtractSystemPromptTemplate = `
You are the slot extractor of a workflow assistant.

Read the latest user message and emit JSON patch operations against the slot
document shown in the context. Each operation writes the raw text the user
stated for one slot; paths are "/<slot_name>".

Rules:
- Only touch slots listed in the context. Never invent slot names.
- Copy the user's wording as the value; do not normalize, reformat, or resolve
  relative dates yourself.
- Only write a slot the message clearly provides. A slot already filled may be
  replaced only when the user explicitly corrects it.
- If the message provides nothing, emit an empty operation list.

Call the '%s' tool with the result.
`

// Operation is a single RFC 6902 patch step produced by the model.
type Operation struct {
	Op    string `json:"op" jsonschema:"required,enum=add,enum=replace,enum=remove,description=The patch operation"`
	Path  string `json:"path" jsonschema:"required,description=JSON pointer to the slot, e.g. /start_date"`
	Value string `json:"value,omitempty" jsonschema:"description=The raw value as the user stated it"`
}

type extractOutput struct {
	Ops []Operation `json:"ops" jsonschema:"description=Patch operations for slots stated in this turn"`
}

// ToolBasedExtractor asks a tool-calling chat model for patch operations and
// replays them onto the slot document to recover raw candidates.
type ToolBasedExtractor struct {
	chain *structured.Chain[*Request, extractOutput]
}

func NewToolBasedExtractor(chatModel model.ToolCallingChatModel) (*ToolBasedExtractor, error) {
	chain, err := structured.NewChain[*Request, extractOutput](
		chatModel,
		buildExtractPrompt,
		extractToolName,
		extractToolDescription,
	)
	if err != nil {
		return nil, err
	}
	return &ToolBasedExtractor{chain: chain}, nil
}

func (e *ToolBasedExtractor) Extract(ctx context.Context, req *Request) (map[string]string, error) {
	result, err := e.chain.Invoke(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("extract slots: %w", err)
	}
	if result == nil || len(result.Ops) == 0 {
		return map[string]string{}, nil
	}

	known := make(map[string]bool, len(req.Slots))
	for _, slot := range req.Slots {
		known[slot.Name] = true
	}
	ops := make([]Operation, 0, len(result.Ops))
	for _, op := range result.Ops {
		name := strings.TrimPrefix(op.Path, "/")
		if !known[name] {
			continue
		}
		// The document may not contain the path yet; add always works.
		if op.Op == "replace" {
			op.Op = "add"
		}
		ops = append(ops, op)
	}

	doc, err := applyOps(req.Filled, ops)
	if err != nil {
		return nil, fmt.Errorf("apply slot patch: %w", err)
	}

	candidates := make(map[string]string, len(doc))
	for name, value := range doc {
		if value != req.Filled[name] {
			candidates[name] = value
		}
	}
	return candidates, nil
}

// applyOps replays patch operations onto a copy of the slot document.
func applyOps(filled map[string]string, ops []Operation) (map[string]string, error) {
	if filled == nil {
		filled = map[string]string{}
	}
	docJSON, err := sonic.Marshal(filled)
	if err != nil {
		return nil, err
	}
	opsJSON, err := sonic.Marshal(ops)
	if err != nil {
		return nil, err
	}
	patch, err := jsonpatch.DecodePatch(opsJSON)
	if err != nil {
		return nil, err
	}
	patched, err := patch.Apply(docJSON)
	if err != nil {
		return nil, err
	}
	var doc map[string]string
	if err := sonic.Unmarshal(patched, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func buildExtractPrompt(ctx context.Context, req *Request) ([]*schema.Message, error) {
	body, err := types.FormatTurnContext(&types.TurnContext{
		Text:    req.Text,
		Intent:  req.Intent,
		Missing: missingBriefs(req),
		Filled:  req.Filled,
	})
	if err != nil {
		return nil, fmt.Errorf("format turn context: %w", err)
	}
	return []*schema.Message{
		schema.SystemMessage(fmt.Sprintf(DefaultExtractSystemPromptTemplate, extractToolName)),
		schema.UserMessage(body),
	}, nil
}

func missingBriefs(req *Request) []types.SlotBrief {
	out := make([]types.SlotBrief, 0, len(req.Slots))
	for _, slot := range req.Slots {
		if _, filled := req.Filled[slot.Name]; !filled {
			out = append(out, slot)
		}
	}
	return out
}
