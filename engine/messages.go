package engine

import (
	"fmt"

	"github.com/tbxark/slotflow/schema"
)

const (
	msgSessionClosed = "This conversation has already finished. Please start a new request."
	msgCancelled     = "Okay, I've cancelled this request. Nothing was submitted."
	msgGeneralChat   = "I can help with workplace requests like time off, meetings or IT tickets, but I didn't recognize one here. What would you like to do?"
	msgHandOff       = "I'm sorry, I wasn't able to get the details I need. I've stopped this request; please try again or contact support."
	msgCompleted     = "All done. Your request was submitted, reference %s."
	msgFailed        = "I'm sorry, I couldn't submit your request. Please contact support and mention reference %s."
)

func confirmPrompt(def *schema.SlotDef, candidate string) string {
	if def.ConfirmPrompt != "" {
		return fmt.Sprintf(def.ConfirmPrompt, candidate)
	}
	return fmt.Sprintf("Just to check, did you mean %s for %s? (yes/no)", candidate, def.DisplayName)
}
