package main

import "github.com/tbxark/slotflow/config"

// defaultConfig carries the built-in workplace workflows so the demo runs
// without a config file.
func defaultConfig() *config.Config {
	return &config.Config{
		Store: config.StoreConfig{Driver: "memory"},
		Intents: []config.WorkflowConfig{
			{
				Name: "request_time_off",
				Slots: []config.SlotConfig{
					{
						Name: "start_date", DisplayName: "start date", Type: "date",
						Required: true, Prompt: "What day should the leave start?",
					},
					{
						Name: "end_date", DisplayName: "end date", Type: "date",
						Required: true, Prompt: "What day should the leave end?",
					},
					{
						Name: "reason", DisplayName: "reason", Type: "enum",
						Required: true, Values: []string{"vacation", "sick", "personal"},
						Prompt: "What is the reason: vacation, sick or personal?",
					},
				},
			},
			{
				Name: "schedule_meeting",
				Slots: []config.SlotConfig{
					{
						Name: "date", DisplayName: "meeting date", Type: "date",
						Required: true, Prompt: "What day should the meeting be?",
					},
					{
						Name: "topic", DisplayName: "topic", Type: "text", MinLen: 3,
						Required: true, Prompt: "What is the meeting about?",
					},
					{
						Name: "attendees", DisplayName: "attendees", Type: "text", MinLen: 2,
						Required: true, Prompt: "Who should be invited?",
					},
				},
			},
			{
				Name: "submit_it_ticket",
				Slots: []config.SlotConfig{
					{
						Name: "summary", DisplayName: "problem summary", Type: "text", MinLen: 10,
						Required: true, Prompt: "What is the problem, in one line?",
					},
					{
						Name: "urgency", DisplayName: "urgency", Type: "enum",
						Required: true, Values: []string{"low", "medium", "high"},
						Prompt: "How urgent is it: low, medium or high?",
					},
					{
						Name: "callback", DisplayName: "callback number", Type: "phone",
						Required: false,
					},
				},
			},
			{
				Name: "file_medical_claim",
				Slots: []config.SlotConfig{
					{
						Name: "service_date", DisplayName: "date of service", Type: "date",
						Required: true, AllowPast: true, Prompt: "When did you receive the service?",
					},
					{
						Name: "amount", DisplayName: "claim amount", Type: "number", Min: 0.01, Max: 100000,
						Required: true, Prompt: "What is the claim amount?",
					},
					{
						Name: "provider", DisplayName: "provider", Type: "text", MinLen: 2,
						Required: true, Prompt: "Which provider or clinic was it?",
					},
				},
			},
		},
	}
}
