package config

import (
	"fmt"
	"time"

	"github.com/tbxark/slotflow/schema"
	"github.com/tbxark/slotflow/types"
	"github.com/tbxark/slotflow/validate"
)

// BuildRegistry constructs the schema registry from the configured workflows.
// Date validators are anchored to the given reference time.
func BuildRegistry(cfg *Config, ref time.Time) (*schema.Registry, error) {
	reg := schema.NewRegistry()
	for _, wf := range cfg.Intents {
		s := &schema.SlotSchema{Intent: types.Intent(wf.Name)}
		for _, sc := range wf.Slots {
			validator, err := buildValidator(sc, ref)
			if err != nil {
				return nil, fmt.Errorf("intent %q slot %q: %w", wf.Name, sc.Name, err)
			}
			s.Slots = append(s.Slots, schema.SlotDef{
				Name:          sc.Name,
				DisplayName:   sc.DisplayName,
				Description:   sc.Description,
				Type:          schema.SlotType(sc.Type),
				Required:      sc.Required,
				Prompt:        sc.Prompt,
				ConfirmPrompt: sc.ConfirmPrompt,
				MaxRetries:    sc.MaxRetries,
				Validator:     validator,
			})
		}
		if err := reg.Register(s); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func buildValidator(sc SlotConfig, ref time.Time) (validate.Func, error) {
	switch sc.Type {
	case "date":
		return validate.Date(ref, validate.DateOptions{AllowPast: sc.AllowPast}), nil
	case "phone":
		return validate.Phone(), nil
	case "enum":
		return validate.Enum(sc.Values), nil
	case "text":
		return validate.Text(sc.MinLen, sc.MaxLen), nil
	case "number":
		return validate.Number(sc.Min, sc.Max), nil
	default:
		return nil, fmt.Errorf("unknown slot type %q", sc.Type)
	}
}
