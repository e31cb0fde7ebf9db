package lock

import (
	"fmt"

	"github.com/MatthiasKunnen/hotdesk-lock/pkg/xapi"
)

// newPrompt builds the PIN prompt of the given kind. attempts is only shown by verify prompts.
func newPrompt(kind PromptKind, attempts, maxAttempts, minPINLength int) xapi.TextInput {
	if kind == PromptSetup {
		return xapi.TextInput{
			FeedbackID:  FeedbackSetup,
			InputType:   xapi.InputPIN,
			Placeholder: "Please set a new PIN",
			SubmitText:  "Submit",
			Text:        fmt.Sprintf("Please set a PIN before the device can be locked<br>minimum %d-digits", minPINLength),
			Title:       "Create PIN",
		}
	}

	text := "Please Enter PIN"
	if attempts > 0 {
		text = fmt.Sprintf("%s<br>Attempt (%d/%d)", text, attempts, maxAttempts)
	}

	return xapi.TextInput{
		FeedbackID:  FeedbackVerify,
		InputType:   xapi.InputPIN,
		Placeholder: "Please Enter PIN",
		SubmitText:  "Submit",
		Text:        text,
		Title:       "Device Locked",
	}
}

func tooShortAlert(minPINLength, duration int) xapi.Alert {
	return xapi.Alert{
		Duration: duration,
		Text:     fmt.Sprintf("PIN must be a minimum of %d digits", minPINLength),
		Title:    "Invalid PIN",
	}
}
