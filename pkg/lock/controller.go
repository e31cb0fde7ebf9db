package lock

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/MatthiasKunnen/hotdesk-lock/pkg/xapi"
)

// Register routes the host events the Controller reacts to.
func (c *Controller) Register(r *xapi.Router) {
	r.Handle(xapi.EventPanelClicked, func(ctx context.Context, e xapi.Event) {
		c.HandlePanelClicked(ctx, e.PanelID)
	})
	r.Handle(xapi.EventTextInputResponse, func(ctx context.Context, e xapi.Event) {
		c.HandleTextInputResponse(ctx, e.FeedbackID, e.Text)
	})
	r.Handle(xapi.EventTextInputClear, func(ctx context.Context, e xapi.Event) {
		c.HandleTextInputClear(ctx, e.FeedbackID)
	})
	r.Handle(xapi.EventSessionStatus, func(ctx context.Context, e xapi.Event) {
		c.HandleSessionStatus(ctx, e.SessionStatus)
	})
	r.Handle(xapi.EventStandbyState, func(ctx context.Context, e xapi.Event) {
		c.HandleStandbyState(ctx, e.StandbyState)
	})
}

// Start saves the lock button on the device and shows or hides it according to the current
// session status.
//
// When the configured icon is a URL the device is asked to download it. A failed download is
// logged and the fallback icon is used instead.
func (c *Controller) Start(ctx context.Context) error {
	panel := xapi.Panel{
		ID:    c.cfg.PanelID,
		Name:  c.cfg.Button.Name,
		Color: c.cfg.Button.Color,
		Icon:  c.cfg.Button.Icon,
	}

	if isURL(c.cfg.Button.Icon) {
		panel.Icon = c.cfg.Button.FallbackIcon

		callCtx, cancel := c.callContext(ctx)
		iconID, err := c.host.DownloadIcon(callCtx, c.cfg.Button.Icon)
		cancel()
		if err != nil {
			c.logger.Warn("Failed to download icon, using fallback",
				"url", c.cfg.Button.Icon,
				"fallback", panel.Icon,
				"error", err,
			)
		} else {
			c.logger.Debug("Downloaded icon", "url", c.cfg.Button.Icon, "iconId", iconID)
			panel.IconID = iconID
		}
	}

	callCtx, cancel := c.callContext(ctx)
	err := c.host.SavePanel(callCtx, panel)
	cancel()
	if err != nil {
		return fmt.Errorf("failed to save panel %s: %w", panel.ID, err)
	}

	callCtx, cancel = c.callContext(ctx)
	status, err := c.host.SessionStatus(callCtx)
	cancel()
	if err != nil {
		c.logger.Warn("Failed to get session status at startup", "error", err)
		return nil
	}

	c.HandleSessionStatus(ctx, status)

	return nil
}

// HandlePanelClicked asks for a new PIN when none is set and puts the device in halfwake
// otherwise. Clicks on other panels are ignored.
func (c *Controller) HandlePanelClicked(ctx context.Context, panelID string) {
	if panelID != c.cfg.PanelID {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pin == "" {
		c.askForPIN(ctx, PromptSetup)
		return
	}

	c.halfwake(ctx)
}

// HandleTextInputResponse handles a submitted PIN prompt.
func (c *Controller) HandleTextInputResponse(ctx context.Context, feedbackID string, text string) {
	kind := promptKindOf(feedbackID)
	if kind == PromptNone {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pending != kind {
		c.logger.Debug("Ignoring response to superseded prompt",
			"feedbackId", feedbackID,
			"pending", c.pending,
		)
		return
	}
	c.pending = PromptNone

	switch kind {
	case PromptVerify:
		c.verify(ctx, text)
	case PromptSetup:
		c.setup(ctx, text)
	}
}

// verify checks an entered PIN.
// Holding the mu mutex is required.
func (c *Controller) verify(ctx context.Context, text string) {
	if text == c.pin {
		c.logger.Info("PIN valid")
		c.attempts = 0
		return
	}

	c.attempts++
	failedAttemptCounter.Inc()
	c.logger.Info("Invalid PIN", "attempt", c.attempts, "maxAttempts", c.cfg.MaxAttempts)

	if c.attempts >= c.cfg.MaxAttempts {
		c.logger.Warn("Max PIN attempts reached, logging out of hotdesk session")
		logoutCounter.Inc()

		callCtx, cancel := c.callContext(ctx)
		defer cancel()
		if err := c.host.Logout(callCtx); err != nil {
			c.logger.Error("Failed to log out", "error", err)
		}
		return
	}

	c.askForPIN(ctx, PromptVerify)
}

// setup stores a new PIN if it is long enough.
// Holding the mu mutex is required.
func (c *Controller) setup(ctx context.Context, text string) {
	if length := utf8.RuneCountInString(text); length < c.cfg.MinPINLength {
		c.logger.Info("PIN too short", "length", length, "minLength", c.cfg.MinPINLength)

		callCtx, cancel := c.callContext(ctx)
		defer cancel()
		if err := c.host.DisplayAlert(callCtx, tooShortAlert(c.cfg.MinPINLength, c.cfg.AlertDuration)); err != nil {
			c.logger.Error("Failed to display alert", "error", err)
		}
		return
	}

	c.setPIN(text)
	c.logger.Info("PIN set, locking device")
	c.halfwake(ctx)
}

// HandleTextInputClear puts the device back in halfwake when the PIN prompt is dismissed.
func (c *Controller) HandleTextInputClear(ctx context.Context, feedbackID string) {
	if feedbackID != FeedbackVerify {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pending != PromptVerify {
		return
	}
	c.pending = PromptNone

	c.halfwake(ctx)
}

// HandleSessionStatus forgets the PIN and shows the lock button only while the device is
// reserved.
func (c *Controller) HandleSessionStatus(ctx context.Context, status xapi.SessionStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var visibility xapi.Visibility
	switch status {
	case xapi.SessionAvailable:
		c.logger.Info("Device is Available, hiding lock button")
		visibility = xapi.VisibilityHidden
	case xapi.SessionReserved:
		c.logger.Info("Device is Reserved, displaying lock button")
		visibility = xapi.VisibilityAuto
	default:
		c.logger.Debug("Session status changed", "status", status)
	}

	c.setPIN("")
	c.attempts = 0
	c.pending = PromptNone

	if visibility == "" {
		return
	}

	callCtx, cancel := c.callContext(ctx)
	defer cancel()
	if err := c.host.SetPanelVisibility(callCtx, c.cfg.PanelID, visibility); err != nil {
		c.logger.Error("Failed to update panel visibility", "visibility", visibility, "error", err)
	}
}

// HandleStandbyState asks for the PIN when a locked, reserved device wakes up.
func (c *Controller) HandleStandbyState(ctx context.Context, state xapi.StandbyState) {
	if state != xapi.StandbyOff {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pin == "" {
		return
	}

	callCtx, cancel := c.callContext(ctx)
	status, err := c.host.SessionStatus(callCtx)
	cancel()
	if err != nil {
		c.logger.Warn("Failed to get session status, not asking for PIN", "error", err)
		return
	}
	if status != xapi.SessionReserved {
		return
	}

	c.askForPIN(ctx, PromptVerify)
}

// askForPIN displays a PIN prompt and records it as pending.
// Holding the mu mutex is required.
func (c *Controller) askForPIN(ctx context.Context, kind PromptKind) {
	c.pending = kind
	promptCounter.WithLabelValues(kind.String()).Inc()

	callCtx, cancel := c.callContext(ctx)
	defer cancel()
	prompt := newPrompt(kind, c.attempts, c.cfg.MaxAttempts, c.cfg.MinPINLength)
	if err := c.host.DisplayTextInput(callCtx, prompt); err != nil {
		c.logger.Error("Failed to display PIN prompt", "kind", kind, "error", err)
	}
}

func (c *Controller) halfwake(ctx context.Context) {
	halfwakeCounter.Inc()

	callCtx, cancel := c.callContext(ctx)
	defer cancel()
	if err := c.host.Halfwake(callCtx); err != nil {
		c.logger.Error("Failed to halfwake", "error", err)
	}
}

func (c *Controller) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.cfg.CallTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.cfg.CallTimeout)
}

func isURL(icon string) bool {
	return strings.HasPrefix(icon, "https://") || strings.HasPrefix(icon, "http://")
}
