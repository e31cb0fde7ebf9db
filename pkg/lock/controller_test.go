package lock

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MatthiasKunnen/hotdesk-lock/pkg/xapi"
	"github.com/MatthiasKunnen/hotdesk-lock/pkg/xapi/xapitest"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestController(t *testing.T, opts ...func(*Config)) (*Controller, *xapitest.Host) {
	t.Helper()
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	host := xapitest.New()
	c, err := New(host, cfg, discardLogger())
	require.NoError(t, err)
	return c, host
}

// lockWithPIN reserves the session and sets pin through the setup prompt.
func lockWithPIN(t *testing.T, c *Controller, host *xapitest.Host, pin string) {
	t.Helper()
	ctx := context.Background()
	c.HandleSessionStatus(ctx, xapi.SessionReserved)
	c.HandlePanelClicked(ctx, c.cfg.PanelID)
	c.HandleTextInputResponse(ctx, FeedbackSetup, pin)
	require.True(t, c.Locked())
	host.Reset()
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxAttempts = 0
	cfg.PanelID = ""

	_, err := New(xapitest.New(), cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max attempts")
	assert.Contains(t, err.Error(), "panel id")
}

func TestNew_NilHost(t *testing.T) {
	_, err := New(nil, DefaultConfig(), nil)
	assert.Error(t, err)
}

func TestPanelClicked_NoPIN_AsksForSetup(t *testing.T) {
	c, host := newTestController(t)

	c.HandlePanelClicked(context.Background(), "lockButton")

	prompts := host.TextInputs()
	require.Len(t, prompts, 1)
	assert.Equal(t, FeedbackSetup, prompts[0].FeedbackID)
	assert.Equal(t, xapi.InputPIN, prompts[0].InputType)
	assert.Equal(t, "Create PIN", prompts[0].Title)
	assert.Equal(t, 0, host.Halfwakes())
	assert.Equal(t, PromptSetup, c.Pending())
}

func TestPanelClicked_OtherPanel_Ignored(t *testing.T) {
	c, host := newTestController(t)

	c.HandlePanelClicked(context.Background(), "someOtherPanel")

	assert.Empty(t, host.Calls())
}

func TestPanelClicked_PINSet_Halfwakes(t *testing.T) {
	c, host := newTestController(t)
	lockWithPIN(t, c, host, "1234")

	c.HandlePanelClicked(context.Background(), "lockButton")

	assert.Empty(t, host.TextInputs())
	assert.Equal(t, 1, host.Halfwakes())
}

func TestSetup_StoresPINAndHalfwakes(t *testing.T) {
	c, host := newTestController(t)
	ctx := context.Background()

	c.HandlePanelClicked(ctx, "lockButton")
	c.HandleTextInputResponse(ctx, FeedbackSetup, "123456")

	assert.True(t, c.Locked())
	assert.Equal(t, "123456", c.pin)
	assert.Equal(t, 1, host.Halfwakes())
	assert.Empty(t, host.Alerts())
	assert.Equal(t, PromptNone, c.Pending())
}

func TestSetup_TooShort_AlertsAndKeepsPINEmpty(t *testing.T) {
	c, host := newTestController(t)
	ctx := context.Background()

	c.HandlePanelClicked(ctx, "lockButton")
	c.HandleTextInputResponse(ctx, FeedbackSetup, "12")

	assert.False(t, c.Locked())
	assert.Empty(t, c.pin)
	assert.Equal(t, 0, host.Halfwakes())
	alerts := host.Alerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, xapi.Alert{
		Duration: 8,
		Text:     "PIN must be a minimum of 4 digits",
		Title:    "Invalid PIN",
	}, alerts[0])

	// No automatic re-prompt; the next click asks again.
	require.Len(t, host.TextInputs(), 1)
	c.HandlePanelClicked(ctx, "lockButton")
	prompts := host.TextInputs()
	require.Len(t, prompts, 2)
	assert.Equal(t, FeedbackSetup, prompts[1].FeedbackID)
}

func TestSetup_LengthCountsCharacters(t *testing.T) {
	c, host := newTestController(t)
	ctx := context.Background()

	c.HandlePanelClicked(ctx, "lockButton")
	c.HandleTextInputResponse(ctx, FeedbackSetup, "éé")

	assert.False(t, c.Locked())
	assert.Len(t, host.Alerts(), 1)

	c.HandlePanelClicked(ctx, "lockButton")
	c.HandleTextInputResponse(ctx, FeedbackSetup, "éééé")

	assert.True(t, c.Locked())
	assert.Len(t, host.Alerts(), 1)
}

func TestSetup_CustomMinimumLength(t *testing.T) {
	c, host := newTestController(t, func(cfg *Config) { cfg.MinPINLength = 6 })
	ctx := context.Background()

	c.HandlePanelClicked(ctx, "lockButton")
	assert.Contains(t, host.TextInputs()[0].Text, "minimum 6-digits")
	c.HandleTextInputResponse(ctx, FeedbackSetup, "12345")

	assert.False(t, c.Locked())
	require.Len(t, host.Alerts(), 1)
	assert.Equal(t, "PIN must be a minimum of 6 digits", host.Alerts()[0].Text)
}

func TestVerify_MismatchesThenLogout(t *testing.T) {
	c, host := newTestController(t)
	lockWithPIN(t, c, host, "1234")
	ctx := context.Background()
	host.SetSessionStatus(xapi.SessionReserved, nil)

	logoutsBefore := testutil.ToFloat64(logoutCounter)

	c.HandleStandbyState(ctx, xapi.StandbyOff)
	require.Len(t, host.TextInputs(), 1)
	assert.Equal(t, "Please Enter PIN", host.TextInputs()[0].Text)

	c.HandleTextInputResponse(ctx, FeedbackVerify, "0000")
	assert.Equal(t, 1, c.Attempts())
	require.Len(t, host.TextInputs(), 2)
	assert.Equal(t, "Please Enter PIN<br>Attempt (1/3)", host.TextInputs()[1].Text)

	c.HandleTextInputResponse(ctx, FeedbackVerify, "1111")
	assert.Equal(t, 2, c.Attempts())
	require.Len(t, host.TextInputs(), 3)
	assert.Equal(t, "Please Enter PIN<br>Attempt (2/3)", host.TextInputs()[2].Text)

	c.HandleTextInputResponse(ctx, FeedbackVerify, "2222")
	assert.Equal(t, 1, host.Logouts())
	assert.Len(t, host.TextInputs(), 3, "no prompt after the last attempt")
	assert.Equal(t, PromptNone, c.Pending())
	assert.Equal(t, logoutsBefore+1, testutil.ToFloat64(logoutCounter))
}

func TestVerify_AttemptSuffixForEveryAttempt(t *testing.T) {
	const maxAttempts = 5
	c, host := newTestController(t, func(cfg *Config) { cfg.MaxAttempts = maxAttempts })
	lockWithPIN(t, c, host, "4321")
	ctx := context.Background()
	host.SetSessionStatus(xapi.SessionReserved, nil)

	c.HandleStandbyState(ctx, xapi.StandbyOff)
	for n := 1; n < maxAttempts; n++ {
		c.HandleTextInputResponse(ctx, FeedbackVerify, "0000")
		assert.Equal(t, n, c.Attempts())

		prompts := host.TextInputs()
		last := prompts[len(prompts)-1]
		assert.Equal(t, FeedbackVerify, last.FeedbackID)
		assert.Contains(t, last.Text, "Attempt ("+string(rune('0'+n))+"/5)")
		assert.Equal(t, 0, host.Logouts())
	}

	c.HandleTextInputResponse(ctx, FeedbackVerify, "0000")
	assert.Equal(t, 1, host.Logouts())
	assert.Len(t, host.TextInputs(), maxAttempts)
}

func TestVerify_MatchResetsAttempts(t *testing.T) {
	c, host := newTestController(t)
	lockWithPIN(t, c, host, "1234")
	ctx := context.Background()
	host.SetSessionStatus(xapi.SessionReserved, nil)

	c.HandleStandbyState(ctx, xapi.StandbyOff)
	c.HandleTextInputResponse(ctx, FeedbackVerify, "9999")
	c.HandleTextInputResponse(ctx, FeedbackVerify, "8888")
	require.Equal(t, 2, c.Attempts())

	c.HandleTextInputResponse(ctx, FeedbackVerify, "1234")

	assert.Equal(t, 0, c.Attempts())
	assert.Equal(t, 0, host.Logouts())
	assert.Len(t, host.TextInputs(), 3)
	assert.True(t, c.Locked(), "the PIN stays set for the rest of the session")
}

func TestResponse_SupersededPromptIgnored(t *testing.T) {
	c, host := newTestController(t)
	ctx := context.Background()

	// Verify response without a verify prompt outstanding.
	c.HandleTextInputResponse(ctx, FeedbackVerify, "0000")
	assert.Equal(t, 0, c.Attempts())

	// Setup prompt superseded by a session change.
	c.HandlePanelClicked(ctx, "lockButton")
	c.HandleSessionStatus(ctx, xapi.SessionReserved)
	c.HandleTextInputResponse(ctx, FeedbackSetup, "1234")
	assert.False(t, c.Locked())
	assert.Equal(t, 0, host.Halfwakes())
}

func TestResponse_UnknownFeedbackIgnored(t *testing.T) {
	c, host := newTestController(t)

	c.HandleTextInputResponse(context.Background(), "something-else", "1234")

	assert.Empty(t, host.Calls())
}

func TestTextInputClear_VerifyHalfwakes(t *testing.T) {
	c, host := newTestController(t)
	lockWithPIN(t, c, host, "1234")
	ctx := context.Background()
	host.SetSessionStatus(xapi.SessionReserved, nil)

	c.HandleStandbyState(ctx, xapi.StandbyOff)
	c.HandleTextInputClear(ctx, FeedbackVerify)

	assert.Equal(t, 1, host.Halfwakes())
	assert.Equal(t, PromptNone, c.Pending())
}

func TestTextInputClear_SetupIgnored(t *testing.T) {
	c, host := newTestController(t)
	ctx := context.Background()

	c.HandlePanelClicked(ctx, "lockButton")
	c.HandleTextInputClear(ctx, FeedbackSetup)

	assert.Equal(t, 0, host.Halfwakes())
}

func TestSessionStatus_ResetsState(t *testing.T) {
	for _, status := range []xapi.SessionStatus{xapi.SessionAvailable, xapi.SessionReserved} {
		t.Run(string(status), func(t *testing.T) {
			c, host := newTestController(t)
			lockWithPIN(t, c, host, "1234")
			ctx := context.Background()
			host.SetSessionStatus(xapi.SessionReserved, nil)
			c.HandleStandbyState(ctx, xapi.StandbyOff)
			c.HandleTextInputResponse(ctx, FeedbackVerify, "0000")
			require.Equal(t, 1, c.Attempts())

			c.HandleSessionStatus(ctx, status)

			assert.False(t, c.Locked())
			assert.Equal(t, 0, c.Attempts())
			assert.Equal(t, PromptNone, c.Pending())
		})
	}
}

func TestSessionStatus_PanelVisibility(t *testing.T) {
	c, host := newTestController(t)
	ctx := context.Background()

	c.HandleSessionStatus(ctx, xapi.SessionReserved)
	c.HandleSessionStatus(ctx, xapi.SessionAvailable)
	c.HandleSessionStatus(ctx, "Unknown")

	assert.Equal(t, []xapitest.PanelVisibility{
		{PanelID: "lockButton", Visibility: xapi.VisibilityAuto},
		{PanelID: "lockButton", Visibility: xapi.VisibilityHidden},
	}, host.Visibility())
}

func TestStandby_NoPIN_NoPrompt(t *testing.T) {
	c, host := newTestController(t)
	host.SetSessionStatus(xapi.SessionReserved, nil)

	c.HandleStandbyState(context.Background(), xapi.StandbyOff)

	assert.Empty(t, host.Calls())
}

func TestStandby_OnlyOffIsActionable(t *testing.T) {
	c, host := newTestController(t)
	lockWithPIN(t, c, host, "1234")
	host.SetSessionStatus(xapi.SessionReserved, nil)

	for _, state := range []xapi.StandbyState{xapi.StandbyOn, xapi.StandbyHalfwake, "EnteringStandby"} {
		c.HandleStandbyState(context.Background(), state)
	}

	assert.Empty(t, host.Calls())
}

func TestStandby_SessionStatusDecidesPrompt(t *testing.T) {
	tests := []struct {
		name    string
		status  xapi.SessionStatus
		err     error
		prompts int
	}{
		{name: "reserved", status: xapi.SessionReserved, prompts: 1},
		{name: "available", status: xapi.SessionAvailable, prompts: 0},
		{name: "query failed", status: xapi.SessionReserved, err: errors.New("timeout"), prompts: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, host := newTestController(t)
			lockWithPIN(t, c, host, "1234")
			host.SetSessionStatus(tt.status, tt.err)

			c.HandleStandbyState(context.Background(), xapi.StandbyOff)

			prompts := host.TextInputs()
			require.Len(t, prompts, tt.prompts)
			if tt.prompts == 1 {
				assert.Equal(t, FeedbackVerify, prompts[0].FeedbackID)
				assert.Equal(t, "Device Locked", prompts[0].Title)
			}
		})
	}
}

func TestStart_NamedIcon(t *testing.T) {
	c, host := newTestController(t)
	host.SetSessionStatus(xapi.SessionReserved, nil)

	require.NoError(t, c.Start(context.Background()))

	assert.Empty(t, host.IconURLs())
	assert.Equal(t, []xapi.Panel{{
		ID:    "lockButton",
		Name:  "Lock Device",
		Color: "#eb4034",
		Icon:  "Power",
	}}, host.Panels())
	assert.Equal(t, []xapitest.PanelVisibility{
		{PanelID: "lockButton", Visibility: xapi.VisibilityAuto},
	}, host.Visibility())
	assert.Equal(t, []string{"SavePanel", "SessionStatus", "SetPanelVisibility"}, host.Calls())
}

func TestStart_DownloadedIcon(t *testing.T) {
	c, host := newTestController(t, func(cfg *Config) {
		cfg.Button.Icon = "https://example.com/lock.png"
	})
	host.SetIconDownload("abc123", nil)

	require.NoError(t, c.Start(context.Background()))

	assert.Equal(t, []string{"https://example.com/lock.png"}, host.IconURLs())
	panels := host.Panels()
	require.Len(t, panels, 1)
	assert.Equal(t, "abc123", panels[0].IconID)
}

func TestStart_IconDownloadFails_FallsBack(t *testing.T) {
	c, host := newTestController(t, func(cfg *Config) {
		cfg.Button.Icon = "https://example.com/lock.png"
		cfg.Button.FallbackIcon = "Lock"
	})
	host.SetIconDownload("", errors.New("404"))

	require.NoError(t, c.Start(context.Background()))

	panels := host.Panels()
	require.Len(t, panels, 1)
	assert.Empty(t, panels[0].IconID)
	assert.Equal(t, "Lock", panels[0].Icon)
	assert.Equal(t, []xapitest.PanelVisibility{
		{PanelID: "lockButton", Visibility: xapi.VisibilityHidden},
	}, host.Visibility())
}

func TestStart_SavePanelFails(t *testing.T) {
	c, host := newTestController(t)
	host.SetCommandError(errors.New("rejected"))

	err := c.Start(context.Background())

	require.Error(t, err)
	assert.NotContains(t, host.Calls(), "SessionStatus")
}

func TestStart_SessionStatusFails(t *testing.T) {
	c, host := newTestController(t)
	host.SetSessionStatus("", errors.New("unavailable"))

	require.NoError(t, c.Start(context.Background()))
	assert.Empty(t, host.Visibility())
}

func TestCommandErrorsAreNotFatal(t *testing.T) {
	c, host := newTestController(t)
	host.SetCommandError(errors.New("device busy"))
	ctx := context.Background()

	c.HandlePanelClicked(ctx, "lockButton")
	c.HandleTextInputResponse(ctx, FeedbackSetup, "1234")

	assert.True(t, c.Locked())
	assert.Equal(t, 1, host.Halfwakes())
}

func TestLockedSignal(t *testing.T) {
	c, host := newTestController(t)
	ctx := context.Background()
	locked := make(chan bool, 4)
	require.NoError(t, c.AddLockedSignal(locked))

	lockWithPIN(t, c, host, "1234")
	require.Len(t, locked, 1)
	assert.True(t, <-locked)

	c.HandleSessionStatus(ctx, xapi.SessionAvailable)
	require.Len(t, locked, 1)
	assert.False(t, <-locked)

	// No transition, no signal.
	c.HandleSessionStatus(ctx, xapi.SessionAvailable)
	assert.Empty(t, locked)

	require.NoError(t, c.RemoveLockedSignal(locked))
	lockWithPIN(t, c, host, "5678")
	assert.Empty(t, locked)

	assert.Error(t, c.AddLockedSignal(nil))
	assert.Error(t, c.RemoveLockedSignal(nil))
}

func TestRegister_RoutesEvents(t *testing.T) {
	c, host := newTestController(t)
	r := xapi.NewRouter()
	c.Register(r)
	ctx := context.Background()

	r.Dispatch(ctx, xapi.Event{Kind: xapi.EventSessionStatus, SessionStatus: xapi.SessionReserved})
	r.Dispatch(ctx, xapi.Event{Kind: xapi.EventPanelClicked, PanelID: "lockButton"})
	r.Dispatch(ctx, xapi.Event{Kind: xapi.EventTextInputResponse, FeedbackID: FeedbackSetup, Text: "2468"})
	assert.True(t, c.Locked())

	host.SetSessionStatus(xapi.SessionReserved, nil)
	r.Dispatch(ctx, xapi.Event{Kind: xapi.EventStandbyState, StandbyState: xapi.StandbyOff})
	assert.Equal(t, PromptVerify, c.Pending())

	r.Dispatch(ctx, xapi.Event{Kind: xapi.EventTextInputClear, FeedbackID: FeedbackVerify})
	assert.Equal(t, 2, host.Halfwakes())
}

func TestPromptText(t *testing.T) {
	setup := newPrompt(PromptSetup, 2, 3, 4)
	assert.Equal(t, "Please set a PIN before the device can be locked<br>minimum 4-digits", setup.Text)
	assert.Equal(t, "Please set a new PIN", setup.Placeholder)
	assert.Equal(t, "Submit", setup.SubmitText)

	verify := newPrompt(PromptVerify, 0, 3, 4)
	assert.Equal(t, "Please Enter PIN", verify.Text)
	assert.Equal(t, "Please Enter PIN", verify.Placeholder)

	verify = newPrompt(PromptVerify, 2, 3, 4)
	assert.Equal(t, "Please Enter PIN<br>Attempt (2/3)", verify.Text)
}
